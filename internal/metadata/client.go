// Package metadata talks to the SQL metadata service that knows when each
// table was last updated and who may read it.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/httpclient"
)

const upstream = "metadata"

// Row is one result row, numbers kept as json.Number.
type Row map[string]any

// QueryError is the service rejecting the query itself, as opposed to the
// service being unavailable.
type QueryError struct {
	Status   int
	Messages []string
}

func (e *QueryError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("metadata query rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("metadata query rejected (status %d): %s", e.Status, e.Messages[0])
}

type Querier interface {
	Query(ctx context.Context, sql, apiKey string) ([]Row, error)
}

type Client struct {
	logger  *slog.Logger
	client  *http.Client
	url     string
	timeout time.Duration
}

func New(logger *slog.Logger, client *http.Client, endpoint string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse metadata url %q: invalid", endpoint)
	}
	if client == nil {
		client = httpclient.NewOutbound()
	}
	return &Client{logger: logger, client: client, url: u.String(), timeout: timeout}, nil
}

type queryBody struct {
	Q      string `json:"q"`
	APIKey string `json:"api_key,omitempty"`
}

type queryReply struct {
	Rows  []Row           `json:"rows"`
	Error json.RawMessage `json:"error"`
}

// Query runs sql and returns its rows. Only a 400 reply means the query is
// bad and yields *QueryError; auth, throttling and every other non-2xx
// reply is a plain error.
func (c *Client) Query(ctx context.Context, sql, apiKey string) ([]Row, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := httpclient.PostJSON(ctx, c.client, upstream, c.url, queryBody{Q: sql, APIKey: apiKey})
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusBadRequest {
		msgs := decodeErrors(resp.Body)
		c.logger.Debug("metadata query rejected", "status", resp.Status, "errors", msgs)
		return nil, &QueryError{Status: resp.Status, Messages: msgs}
	}
	if !resp.OK() {
		return nil, fmt.Errorf("metadata status %d: %s", resp.Status, httpclient.Snippet(resp.Body))
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	var out queryReply
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode metadata reply: %w", err)
	}
	return out.Rows, nil
}

// decodeErrors accepts {"error": "msg"} and {"error": ["a","b"]}.
func decodeErrors(b []byte) []string {
	var reply queryReply
	if err := json.Unmarshal(b, &reply); err != nil || len(reply.Error) == 0 {
		return []string{httpclient.Snippet(b)}
	}
	var one string
	if err := json.Unmarshal(reply.Error, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(reply.Error, &many); err == nil && len(many) > 0 {
		return many
	}
	return []string{string(reply.Error)}
}

// IsQueryError reports whether err carries a rejection of the query.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
