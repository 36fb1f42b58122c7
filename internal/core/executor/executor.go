// Package executor calls the rendering engine for tile and grid artifacts.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/httpclient"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

const upstream = "renderer"

// Request is one render job. Queries are already expanded for the tile.
type Request struct {
	Styles        []string `json:"styles"`
	Queries       []string `json:"queries"`
	Z             int      `json:"z"`
	X             int      `json:"x"`
	Y             int      `json:"y"`
	Layer         *int     `json:"layer,omitempty"`
	Interactivity string   `json:"interactivity,omitempty"`
}

func NewRequest(styles, queries []string, t model.TileCoord) Request {
	return Request{Styles: styles, Queries: queries, Z: t.Z, X: t.X, Y: t.Y}
}

type Interface interface {
	RenderTile(ctx context.Context, req Request) ([]byte, error)
	RenderGrid(ctx context.Context, req Request) ([]byte, error)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	timeout  time.Duration
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, rendererURL string, timeout time.Duration) (*Executor, error) {
	u, err := url.Parse(rendererURL)
	if err != nil {
		return nil, fmt.Errorf("parse renderer url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse renderer url %q: missing scheme or host", rendererURL)
	}
	if client == nil {
		client = httpclient.NewOutbound()
	}
	return &Executor{
		logger:   logger,
		client:   client,
		base:     u,
		timeout:  timeout,
		startNow: time.Now,
	}, nil
}

func (e *Executor) RenderTile(ctx context.Context, req Request) ([]byte, error) {
	return e.render(ctx, "tile", req)
}

func (e *Executor) RenderGrid(ctx context.Context, req Request) ([]byte, error) {
	return e.render(ctx, "grid", req)
}

func (e *Executor) render(ctx context.Context, kind string, req Request) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	target := e.base.JoinPath(kind).String()

	start := e.startNow()
	resp, err := httpclient.PostJSON(ctx, e.client, upstream, target, req)
	if err != nil {
		return nil, layergroup.Infra("render "+kind, err)
	}
	e.logger.Debug("render done",
		"kind", kind,
		"tile", fmt.Sprintf("%d/%d/%d", req.Z, req.X, req.Y),
		"status", resp.Status,
		"bytes", len(resp.Body),
		"duration", time.Since(start).String())

	switch {
	case resp.OK():
		return resp.Body, nil
	case resp.Status == http.StatusBadRequest:
		return nil, &layergroup.ValidationError{Messages: rendererErrors(resp.Body)}
	default:
		return nil, layergroup.Infra("render "+kind,
			fmt.Errorf("upstream status %d: %s", resp.Status, httpclient.Snippet(resp.Body)))
	}
}

// rendererErrors reads {"errors":[..]} or {"error":".."}, else the raw body.
func rendererErrors(b []byte) []string {
	var body struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(b, &body); err == nil {
		if len(body.Errors) > 0 {
			return body.Errors
		}
		if body.Error != "" {
			return []string{body.Error}
		}
	}
	msg := strings.TrimSpace(httpclient.Snippet(b))
	if msg == "" {
		msg = "renderer rejected request"
	}
	return []string{msg}
}
