// Package router holds the HTTP handlers for layer-group submission and
// artifact fetches.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/layergroup-tiler/internal/auth"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
	"github.com/mohammed-shakir/layergroup-tiler/internal/engine"
	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

const (
	ContentTypePNG  = "image/png"
	ContentTypeGrid = "text/javascript; charset=utf-8"
	ContentTypeJSON = "application/json; charset=utf-8"

	CacheControlArtifact = "public,max-age=31536000"
	HeaderCacheChannel   = "X-Cache-Channel"
)

// Service is what the handlers drive; *engine.Engine implements it.
type Service interface {
	Create(ctx context.Context, req engine.CreateRequest) (engine.CreateResult, error)
	Tile(ctx context.Context, req engine.FetchRequest) (engine.Artifact, error)
	Grid(ctx context.Context, req engine.FetchRequest, layer int) (engine.Artifact, error)
	Delete(ctx context.Context, req engine.DeleteRequest) error
}

type createResponse struct {
	LayergroupID string `json:"layergroupid"`
	LastUpdated  string `json:"last_updated,omitempty"`
}

type errorResponse struct {
	Errors []string `json:"errors"`
}

// HandleCreate accepts a layer-group configuration and answers with its
// token.
func HandleCreate(logger *slog.Logger, svc Service) http.HandlerFunc {
	return instrument("create", func(w http.ResponseWriter, r *http.Request) {
		cfg, err := layergroup.Decode(r.Body)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		res, err := svc.Create(r.Context(), engine.CreateRequest{
			Host:       r.Host,
			Credential: auth.CredentialFrom(r.URL.Query()),
			Config:     cfg,
		})
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, createResponse{
			LayergroupID: res.Token.String(),
			LastUpdated:  res.LastUpdated,
		})
	})
}

// HandleTile serves GET .../{token}/{z}/{x}/{y}.png
func HandleTile(logger *slog.Logger, svc Service) http.HandlerFunc {
	return instrument("tile", func(w http.ResponseWriter, r *http.Request) {
		req, err := fetchRequest(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		art, err := svc.Tile(r.Context(), req)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeArtifact(w, ContentTypePNG, art)
	})
}

// HandleGrid serves GET .../{token}/{layer}/{z}/{x}/{y}.grid.json
func HandleGrid(logger *slog.Logger, svc Service) http.HandlerFunc {
	return instrument("grid", func(w http.ResponseWriter, r *http.Request) {
		req, err := fetchRequest(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		layer, err := pathInt(r, "layer")
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		art, err := svc.Grid(r.Context(), req, layer)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeArtifact(w, ContentTypeGrid, art)
	})
}

// HandleDelete serves DELETE .../{token}
func HandleDelete(logger *slog.Logger, svc Service) http.HandlerFunc {
	return instrument("delete", func(w http.ResponseWriter, r *http.Request) {
		err := svc.Delete(r.Context(), engine.DeleteRequest{
			Host:       r.Host,
			Credential: auth.CredentialFrom(r.URL.Query()),
			Token:      chi.URLParam(r, "token"),
		})
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func fetchRequest(r *http.Request) (engine.FetchRequest, error) {
	var t model.TileCoord
	var err error
	if t.Z, err = pathInt(r, "z"); err != nil {
		return engine.FetchRequest{}, err
	}
	if t.X, err = pathInt(r, "x"); err != nil {
		return engine.FetchRequest{}, err
	}
	if t.Y, err = pathInt(r, "y"); err != nil {
		return engine.FetchRequest{}, err
	}
	return engine.FetchRequest{
		Host:       r.Host,
		Credential: auth.CredentialFrom(r.URL.Query()),
		Token:      chi.URLParam(r, "token"),
		Tile:       t,
	}, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &layergroup.ValidationError{Messages: []string{fmt.Sprintf("invalid %s %q", name, raw)}}
	}
	return n, nil
}

func writeArtifact(w http.ResponseWriter, contentType string, art engine.Artifact) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", CacheControlArtifact)
	h.Set(HeaderCacheChannel, art.Channel)
	if art.LastUpdated != "" {
		if t, err := time.Parse("2006-01-02T15:04:05.000Z", art.LastUpdated); err == nil {
			h.Set("Last-Modified", t.UTC().Format(http.TimeFormat))
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(art.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Body)
}

// writeError answers with {"errors":[...]} and the status for err. Error
// responses never carry caching headers.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := layergroup.StatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	} else {
		logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Errors: layergroup.Messages(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}
