// Command loadgen submits a layer group to a running tiler and then drives
// tile requests against it with a Zipf-skewed tile pool, writing per-request
// samples and a run summary.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
	"github.com/mohammed-shakir/layergroup-tiler/internal/logger"
)

type Config struct {
	TargetURL      string
	Host           string
	MapKey         string
	SQL            string
	CartoCSS       string
	StatTag        string
	Zoom           int
	Grid           bool
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	TileCount      int
	OutputPrefix   string
	RequestTimeout time.Duration
	WatchBrokers   string
	WatchTopic     string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8181", "Tiler base URL")
	flag.StringVar(&cfg.Host, "host", "localhost", "Host header selecting the tenant")
	flag.StringVar(&cfg.MapKey, "key", "", "map_key or api_key sent with every request")
	flag.StringVar(&cfg.SQL, "sql", "select * from test_table", "Layer SQL")
	flag.StringVar(&cfg.CartoCSS, "cartocss", "#layer { marker-fill: #F11810; }", "Layer CartoCSS")
	flag.StringVar(&cfg.StatTag, "stat-tag", "loadgen", "stat_tag of the submitted layer group")
	flag.IntVar(&cfg.Zoom, "zoom", 10, "Zoom level of the tile pool")
	flag.BoolVar(&cfg.Grid, "grid", false, "Request UTF grids instead of PNG tiles")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.TileCount, "tiles", 256, "Distinct tiles in pool")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.WatchBrokers, "watch-brokers", "", "Kafka brokers; when set, count channel announcements during the run")
	flag.StringVar(&cfg.WatchTopic, "watch-topic", "layergroup-channels", "Announcement topic")
	flag.Parse()
	return cfg
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	ErrorMsg  string
	Tile      string
	Channel   string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	Token         string    `json:"layergroupid"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Zoom          int       `json:"zoom"`
	Tiles         int       `json:"tiles"`
	Announcements int64     `json:"announcements,omitempty"`
	TargetURL     string    `json:"target"`
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := loadConfig()
	zl := logger.Build(logger.Config{Level: "info", Console: true, Component: "loadgen"}, os.Stderr)
	log := logger.NewSlog(&zl)

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Error("mkdir results", "err", err)
		return 1
	}
	prefix := fmt.Sprintf("%s_%s", cfg.OutputPrefix, time.Now().UTC().Format("20060102_150405Z"))

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	token, err := createLayergroup(setupCtx, httpClient, cfg)
	cancelSetup()
	if err != nil {
		log.Error("create layergroup", "err", err)
		return 1
	}
	log.Info("layergroup ready", "layergroupid", token)

	seed := time.Now().UnixNano()
	tiles := makeTiles(cfg.TileCount, cfg.Zoom, rand.New(rand.NewSource(seed)))
	if len(tiles) == 0 {
		log.Error("no tiles generated")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var announcements atomic.Int64
	if cfg.WatchBrokers != "" {
		stop, err := watchAnnouncements(ctx, log, cfg, &announcements)
		if err != nil {
			log.Warn("announcement watch disabled", "err", err)
		} else {
			defer stop()
		}
	}

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Error("open csv", "err", err)
		return 1
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	samples := make(chan sample, 4096)
	type aggregated struct {
		total, success, errors int64
		latMs                  []float64
	}
	results := make(chan aggregated, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "error", "tile", "channel"})
		var agg aggregated
		for s := range samples {
			agg.total++
			if s.ErrorMsg == "" {
				agg.success++
				agg.latMs = append(agg.latMs, float64(s.Latency.Microseconds())/1000.0)
			} else {
				agg.errors++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				strconv.FormatFloat(float64(s.Latency.Microseconds())/1000.0, 'f', 3, 64),
				strconv.Itoa(s.Status),
				s.ErrorMsg,
				s.Tile,
				s.Channel,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Warn("csv flush", "err", err)
		}
		results <- agg
	}()

	startTime := time.Now()
	log.Info("loadgen start",
		"target", cfg.TargetURL, "duration", cfg.Duration, "concurrency", cfg.Concurrency,
		"zoom", cfg.Zoom, "tiles", len(tiles), "zipf_s", cfg.ZipfS, "zipf_v", cfg.ZipfV)

	imax := uint64(len(tiles)) - 1
	g, gctx := errgroup.WithContext(ctx)
	for id := range cfg.Concurrency {
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, imax)
			for gctx.Err() == nil {
				v := zipf.Uint64()
				if v > uint64(math.MaxInt) || int(v) >= len(tiles) {
					continue
				}
				s := fetchTile(gctx, httpClient, cfg, token, tiles[int(v)])
				if gctx.Err() != nil {
					return nil
				}
				select {
				case samples <- s:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	close(samples)

	agg := <-results
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(agg.latMs)
	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		Token:         token,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         percentile(agg.latMs, 50),
		P95Ms:         percentile(agg.latMs, 95),
		P99Ms:         percentile(agg.latMs, 99),
		Concurrency:   cfg.Concurrency,
		Zoom:          cfg.Zoom,
		Tiles:         len(tiles),
		Announcements: announcements.Load(),
		TargetURL:     cfg.TargetURL,
	}

	if f, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = f.Close()
	}

	log.Info("done",
		"total", agg.total, "success", agg.success, "errors", agg.errors,
		"rps", runSummary.ThroughputRPS, "p50_ms", runSummary.P50Ms,
		"p95_ms", runSummary.P95Ms, "p99_ms", runSummary.P99Ms,
		"announcements", runSummary.Announcements)
	log.Info("wrote results", "summary", jsonPath, "samples", csvPath)
	return 0
}

func withKey(u *url.URL, key string) {
	if key == "" {
		return
	}
	q := u.Query()
	q.Set("map_key", key)
	u.RawQuery = q.Encode()
}

func createLayergroup(ctx context.Context, c *http.Client, cfg Config) (string, error) {
	body, err := json.Marshal(map[string]any{
		"version":  "1.0.0",
		"stat_tag": cfg.StatTag,
		"layers": []map[string]any{{
			"type": "cartodb",
			"options": map[string]any{
				"sql":              cfg.SQL,
				"cartocss":         cfg.CartoCSS,
				"cartocss_version": "2.0.1",
				"interactivity":    "cartodb_id",
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal layergroup: %w", err)
	}

	u, err := url.Parse(strings.TrimRight(cfg.TargetURL, "/") + "/layergroups")
	if err != nil {
		return "", fmt.Errorf("target url: %w", err)
	}
	withKey(u, cfg.MapKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Host = cfg.Host
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return "", fmt.Errorf("post layergroup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("post layergroup: status=%d body=%s", resp.StatusCode, raw)
	}
	var out struct {
		LayergroupID string `json:"layergroupid"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if out.LayergroupID == "" {
		return "", fmt.Errorf("create response without layergroupid")
	}
	return out.LayergroupID, nil
}

func fetchTile(ctx context.Context, c *http.Client, cfg Config, token string, t model.TileCoord) sample {
	s := sample{Timestamp: time.Now(), Tile: t.String()}

	u, err := url.Parse(strings.TrimRight(cfg.TargetURL, "/") + tilePath(token, t, cfg.Grid))
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	withKey(u, cfg.MapKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Host = cfg.Host

	resp, err := c.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	s.Status = resp.StatusCode
	s.Channel = resp.Header.Get("X-Cache-Channel")
	if resp.StatusCode != http.StatusOK {
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}

// watchAnnouncements counts announcements on every partition of the topic
// from the newest offset until ctx is done.
func watchAnnouncements(ctx context.Context, log *slog.Logger, cfg Config, n *atomic.Int64) (func(), error) {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_5_0_0
	scfg.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(strings.Split(cfg.WatchBrokers, ","), scfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	parts, err := consumer.Partitions(cfg.WatchTopic)
	if err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var pcs []sarama.PartitionConsumer
	for _, p := range parts {
		pc, err := consumer.ConsumePartition(cfg.WatchTopic, p, sarama.OffsetNewest)
		if err != nil {
			log.Warn("consume partition", "partition", p, "err", err)
			continue
		}
		pcs = append(pcs, pc)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-pc.Messages():
					if !ok {
						return
					}
					n.Add(1)
				case perr, ok := <-pc.Errors():
					if !ok {
						return
					}
					log.Warn("announcement consumer", "err", perr)
				}
			}
		}()
	}

	return func() {
		for _, pc := range pcs {
			_ = pc.Close()
		}
		_ = consumer.Close()
	}, nil
}
