// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
)

// NewOutbound creates a new outbound http client. Per-call deadlines come
// from the request context.
func NewOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

const maxResponse = 32 << 20

// Response is a fully read upstream reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// PostJSON sends body as JSON to url and reads the whole reply. Transport
// errors are returned as-is; any HTTP status is a successful exchange.
func PostJSON(ctx context.Context, client *http.Client, upstream, url string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", upstream, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", upstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		observability.ObserveUpstream(upstream, err, time.Since(start).Seconds())
		return nil, fmt.Errorf("%s request: %w", upstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	observability.ObserveUpstream(upstream, err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", upstream, err)
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        b,
	}, nil
}

// Snippet trims an upstream body for log and error text.
func Snippet(b []byte) string {
	const n = 512
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
