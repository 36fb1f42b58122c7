package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/layergroup-tiler/internal/auth"
	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/redisstore"
	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/stylestore"
	"github.com/mohammed-shakir/layergroup-tiler/internal/channel"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/config"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/executor"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/health"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/httpclient"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/server"
	"github.com/mohammed-shakir/layergroup-tiler/internal/engine"
	"github.com/mohammed-shakir/layergroup-tiler/internal/freshness"
	"github.com/mohammed-shakir/layergroup-tiler/internal/invalidation"
	"github.com/mohammed-shakir/layergroup-tiler/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/layergroup-tiler/internal/logger"
	xyzmapper "github.com/mohammed-shakir/layergroup-tiler/internal/mapper/xyz"
	"github.com/mohammed-shakir/layergroup-tiler/internal/metadata"
	"github.com/mohammed-shakir/layergroup-tiler/internal/metrics"
	"github.com/mohammed-shakir/layergroup-tiler/internal/style"
	"github.com/mohammed-shakir/layergroup-tiler/internal/usage"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", "", "optional .env file")
	seedTenant := flag.String("seed-tenant", "", "register a tenant before serving: name,datasource,map_key,api_key")
	flag.Parse()

	var cfg config.Config
	if *envFile != "" {
		cfg = config.Load(*envFile)
	} else {
		cfg = config.Load()
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "tiler",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.MetricsAddr,
			Path:    cfg.MetricsPath,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer())
		metricsHandler = p.Handler()
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting tiler",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"metadata", cfg.MetadataURL,
		"renderer", cfg.RendererURL)

	rc, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		appLog.Error("redis unavailable", "err", err)
		return 1
	}
	defer func() { _ = rc.Close() }()

	if *seedTenant != "" {
		if err := seed(ctx, rc, *seedTenant); err != nil {
			appLog.Error("seed tenant failed", "err", err)
			return 1
		}
		appLog.Info("tenant registered", "tenant", strings.SplitN(*seedTenant, ",", 2)[0])
	}

	eng, closeFn, err := build(ctx, cfg, appLog, rc)
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return 1
	}
	defer closeFn()

	handler := server.NewHandler(appLog, eng, server.Options{
		Ready:   map[string]health.Pinger{"redis": rc},
		Metrics: metricsHandler,
	})
	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger, rc *redisstore.Client) (*engine.Engine, func(), error) {
	hc := httpclient.NewOutbound()

	mc, err := metadata.New(log, hc, cfg.MetadataURL, cfg.MetadataTimeout)
	if err != nil {
		return nil, nil, err
	}
	val, err := style.NewHTTPValidator(log, hc, cfg.StyleValidatorURL, cfg.ValidateTimeout)
	if err != nil {
		return nil, nil, err
	}
	rend, err := executor.New(log, hc, cfg.RendererURL, cfg.RenderTimeout)
	if err != nil {
		return nil, nil, err
	}

	store := stylestore.New(log, rc, stylestore.Options{
		TTL:       cfg.StyleTTL,
		OpTimeout: cfg.StoreOpTimeout,
		CacheSize: cfg.StyleCacheSize,
		CacheTTL:  cfg.StyleCacheTTL,
	})
	deps := engine.Deps{
		Logger:    log,
		Gate:      auth.NewGate(log, rc, cfg.StoreOpTimeout, cfg.StyleCacheSize, cfg.StyleCacheTTL),
		Compiler:  style.NewCompiler(log, val, 8),
		Freshness: freshness.NewResolver(log, mc),
		Store:     store,
		Usage:     usage.New(log, rc, cfg.UsageLocation, cfg.StoreOpTimeout),
		Mapper:    xyzmapper.New(),
		Renderer:  rend,
	}

	var closers []func()
	closeFn := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Evict.Enabled {
		b, err := invalidation.NewBroadcaster(log, cfg.Evict.Brokers, cfg.Evict.Topic, cfg.Evict.GroupID)
		if err != nil {
			return nil, nil, err
		}
		deps.Evictions = b
		closers = append(closers, func() {
			if err := b.Close(); err != nil {
				log.Warn("eviction broadcaster close", "err", err)
			}
		})

		cons := kafkaconsumer.New(kafkaconsumer.DefaultConfig(cfg.Evict.Brokers, cfg.Evict.Topic, cfg.Evict.GroupID), log, store)
		go func() {
			if err := cons.Start(ctx); err != nil {
				log.Error("eviction consumer exited", "err", err)
			}
		}()
	}

	if cfg.Announce.Enabled {
		a, err := channel.NewAnnouncer(log, channel.AnnouncerConfig{
			Brokers: cfg.Announce.Brokers,
			Topic:   cfg.Announce.Topic,
			Queue:   cfg.Announce.Queue,
			Dedupe:  cfg.Announce.Dedupe,
		})
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		deps.Publisher = a
		closers = append(closers, func() {
			if err := a.Close(); err != nil {
				log.Warn("announcer close", "err", err)
			}
		})
	}

	eng, err := engine.New(deps)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return eng, closeFn, nil
}

func seed(ctx context.Context, rc *redisstore.Client, def string) error {
	parts := strings.Split(def, ",")
	if len(parts) != 4 {
		return fmt.Errorf("seed tenant %q: want name,datasource,map_key,api_key", def)
	}
	name := strings.TrimSpace(parts[0])
	if !keys.ValidTenant(name) {
		return fmt.Errorf("seed tenant: invalid name %q", name)
	}
	return rc.HSet(ctx, keys.Tenant(name), map[string]string{
		"datasource": strings.TrimSpace(parts[1]),
		"map_key":    strings.TrimSpace(parts[2]),
		"api_key":    strings.TrimSpace(parts[3]),
	})
}
