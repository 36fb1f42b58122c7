// Package style validates and compiles layer styles through the external
// styling-language service.
package style

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/httpclient"
)

const upstream = "style_validator"

// Validator compiles one style source. Problems with the source come back
// in problems; err is reserved for the service failing.
type Validator interface {
	Validate(ctx context.Context, src, version string) (compiled string, problems []string, err error)
}

type HTTPValidator struct {
	logger  *slog.Logger
	client  *http.Client
	url     string
	timeout time.Duration
}

func NewHTTPValidator(logger *slog.Logger, client *http.Client, endpoint string, timeout time.Duration) (*HTTPValidator, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse style validator url %q: invalid", endpoint)
	}
	if client == nil {
		client = httpclient.NewOutbound()
	}
	return &HTTPValidator{logger: logger, client: client, url: u.String(), timeout: timeout}, nil
}

type validateBody struct {
	Style   string `json:"style"`
	Version string `json:"version"`
}

type validateReply struct {
	Compiled string   `json:"compiled"`
	Errors   []string `json:"errors"`
}

func (v *HTTPValidator) Validate(ctx context.Context, src, version string) (string, []string, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	resp, err := httpclient.PostJSON(ctx, v.client, upstream, v.url, validateBody{Style: src, Version: version})
	if err != nil {
		return "", nil, err
	}

	var out validateReply
	switch {
	case resp.OK():
	case resp.Status == http.StatusBadRequest || resp.Status == http.StatusUnprocessableEntity:
		// some validators report style errors with a 4xx and the same body
	default:
		return "", nil, fmt.Errorf("style validator status %d: %s", resp.Status, httpclient.Snippet(resp.Body))
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", nil, fmt.Errorf("decode style validator reply: %w", err)
	}
	if len(out.Errors) == 0 && !resp.OK() {
		return "", nil, fmt.Errorf("style validator status %d without errors", resp.Status)
	}
	return out.Compiled, out.Errors, nil
}
