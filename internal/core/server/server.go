// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/config"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/health"
	middleware "github.com/mohammed-shakir/layergroup-tiler/internal/core/middleware"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/router"
)

// layer groups are served under both the current and the legacy prefix
var prefixes = []string{"/layergroups", "/tiles/layergroup"}

type Options struct {
	// Ready lists dependencies checked by /readyz.
	Ready map[string]health.Pinger
	// Metrics serves /metrics; nil uses the default registry.
	Metrics http.Handler
}

func NewHandler(logger *slog.Logger, svc router.Service, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Ready, 2*time.Second))
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", opts.Metrics)

	for _, p := range prefixes {
		r.Route(p, func(r chi.Router) {
			r.Post("/", router.HandleCreate(logger, svc))
			r.Get("/{token}/{z}/{x}/{y}.png", router.HandleTile(logger, svc))
			r.Get("/{token}/{layer}/{z}/{x}/{y}.grid.json", router.HandleGrid(logger, svc))
			r.Delete("/{token}", router.HandleDelete(logger, svc))
		})
	}
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RenderTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
