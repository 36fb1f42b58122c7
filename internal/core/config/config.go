package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AnnounceCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
	Dedupe  int
}

// EvictCfg drives cross-instance eviction of locally cached style records.
// GroupID must differ per instance.
type EvictCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type Config struct {
	Addr              string
	LogLevel          string
	LogConsole        bool
	LogSampleN        int
	RedisAddr         string
	MetadataURL       string
	StyleValidatorURL string
	RendererURL       string
	MetadataTimeout   time.Duration
	StoreOpTimeout    time.Duration
	ValidateTimeout   time.Duration
	RenderTimeout     time.Duration
	StyleCacheSize    int
	StyleCacheTTL     time.Duration
	StyleTTL          time.Duration
	UsageLocation     *time.Location
	Announce          AnnounceCfg
	Evict             EvictCfg
	MetricsEnabled    bool
	MetricsAddr       string
	MetricsPath       string
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Addr:              getenv("ADDR", ":8181"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogConsole:        getbool("LOG_CONSOLE", false),
		LogSampleN:        getint("LOG_SAMPLE_N", 0),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		MetadataURL:       getenv("METADATA_URL", "http://localhost:8080/api/v1/sql"),
		StyleValidatorURL: getenv("STYLE_VALIDATOR_URL", "http://localhost:8282/validate"),
		RendererURL:       getenv("RENDERER_URL", "http://localhost:8383"),
		MetadataTimeout:   getduration("METADATA_TIMEOUT", 5*time.Second),
		StoreOpTimeout:    getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),
		ValidateTimeout:   getduration("VALIDATE_TIMEOUT", 5*time.Second),
		RenderTimeout:     getduration("RENDER_TIMEOUT", 30*time.Second),
		StyleCacheSize:    getint("STYLE_CACHE_SIZE", 4096),
		StyleCacheTTL:     getduration("STYLE_CACHE_TTL", 30*time.Second),
		StyleTTL:          getduration("STYLE_TTL", 0),
		UsageLocation:     getlocation("USAGE_TZ", time.UTC),
		Announce: AnnounceCfg{
			Enabled: getbool("CHANNEL_ANNOUNCE_ENABLED", false),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "layergroup-channels"),
			Queue:   getint("ANNOUNCE_QUEUE", 1024),
			Dedupe:  getint("ANNOUNCE_DEDUPE", 8192),
		},
		Evict: EvictCfg{
			Enabled: getbool("EVICTION_ENABLED", false),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_EVICT_TOPIC", "layergroup-evictions"),
			GroupID: getenv("KAFKA_GROUP_ID", "tiler-"+hostname()),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// usage counters are bucketed by calendar day in a fixed zone
func getlocation(k string, def *time.Location) *time.Location {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			return loc
		}
	}
	return def
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "local"
	}
	return h
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
