// Package auth resolves the tenant a request is addressed to and decides
// whether its credential may read private data.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

type Tenant struct {
	Name       string
	Datasource string
	MapKey     string
	APIKey     string
}

// HashSource is the part of the shared store the gate reads tenants from.
type HashSource interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

type Gate struct {
	logger  *slog.Logger
	src     HashSource
	timeout time.Duration
	cache   *expirable.LRU[string, Tenant]
}

// NewGate caches resolved tenants for ttl; ttl<=0 disables the cache.
func NewGate(logger *slog.Logger, src HashSource, timeout time.Duration, size int, ttl time.Duration) *Gate {
	g := &Gate{logger: logger, src: src, timeout: timeout}
	if ttl > 0 && size > 0 {
		g.cache = expirable.NewLRU[string, Tenant](size, nil, ttl)
	}
	return g
}

// TenantFromHost returns the first DNS label of host, lowercased, with any
// port removed.
func TenantFromHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	return strings.ToLower(label)
}

func (g *Gate) ResolveTenant(ctx context.Context, host string) (Tenant, error) {
	name := TenantFromHost(host)
	if !keys.ValidTenant(name) {
		return Tenant{}, &layergroup.NotFoundError{What: fmt.Sprintf("tenant %q", name)}
	}
	if g.cache != nil {
		if t, ok := g.cache.Get(name); ok {
			return t, nil
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	fields, err := g.src.HGetAll(ctx, keys.Tenant(name))
	if err != nil {
		return Tenant{}, layergroup.Infra("resolve tenant", err)
	}
	if len(fields) == 0 {
		return Tenant{}, &layergroup.NotFoundError{What: fmt.Sprintf("tenant %q", name)}
	}

	t := Tenant{
		Name:       name,
		Datasource: fields["datasource"],
		MapKey:     fields["map_key"],
		APIKey:     fields["api_key"],
	}
	if t.Datasource == "" {
		t.Datasource = name
	}
	if g.cache != nil {
		g.cache.Add(name, t)
	}
	return t, nil
}

// Credential carries every key presented with a request. map_key and
// api_key are read independently so a stale value in one does not hide a
// valid value in the other.
type Credential struct {
	MapKey string
	APIKey string
}

func CredentialFrom(q url.Values) Credential {
	return Credential{MapKey: q.Get("map_key"), APIKey: q.Get("api_key")}
}

func (c Credential) present() bool { return c.MapKey != "" || c.APIKey != "" }

// matches reports whether any presented key equals want.
func (c Credential) matches(want string) bool {
	return keyEqual(c.MapKey, want) || keyEqual(c.APIKey, want)
}

func (t Tenant) accepts(c Credential) bool {
	return c.matches(t.MapKey) || c.matches(t.APIKey)
}

func keyEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Authorize allows public data unconditionally and private data only with
// a credential the tenant recognises.
func (g *Gate) Authorize(t Tenant, c Credential, private bool) error {
	if !private || t.accepts(c) {
		return nil
	}
	reason := "private data requires a valid key"
	if c.present() {
		reason = "invalid key for tenant " + t.Name
	}
	g.logger.Debug("authorization denied", "tenant", t.Name, "with_credential", c.present())
	return &layergroup.AuthorizationError{Reason: reason}
}

// AuthorizeAdmin requires the tenant's api_key.
func (g *Gate) AuthorizeAdmin(t Tenant, c Credential) error {
	if c.matches(t.APIKey) {
		return nil
	}
	return &layergroup.AuthorizationError{Reason: "administrative operation requires api_key"}
}
