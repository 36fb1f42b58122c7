package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/redisstore"
	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newGate(t *testing.T, ttl time.Duration) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	mr.HSet("tenant:localhost", "datasource", "cartodb_test_user_1_db", "map_key", "1234", "api_key", "admin")

	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return NewGate(discard(), rc, time.Second, 16, ttl), mr
}

func TestTenantFromHost(t *testing.T) {
	cases := map[string]string{
		"localhost":              "localhost",
		"localhost:8181":         "localhost",
		"Vizzuality.cartodb.com": "vizzuality",
		"acme.example.org:443":   "acme",
		"":                       "",
	}
	for in, want := range cases {
		if got := TenantFromHost(in); got != want {
			t.Errorf("TenantFromHost(%q)=%q want %q", in, got, want)
		}
	}
}

func TestResolveTenant(t *testing.T) {
	g, _ := newGate(t, 0)
	ten, err := g.ResolveTenant(context.Background(), "localhost:8181")
	if err != nil {
		t.Fatalf("ResolveTenant: %v", err)
	}
	if ten.Name != "localhost" || ten.Datasource != "cartodb_test_user_1_db" || ten.MapKey != "1234" {
		t.Fatalf("tenant=%+v", ten)
	}

	_, err = g.ResolveTenant(context.Background(), "nobody.example.com")
	if !errors.Is(err, layergroup.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestResolveTenant_CachedUntilTTL(t *testing.T) {
	g, mr := newGate(t, time.Minute)
	if _, err := g.ResolveTenant(context.Background(), "localhost"); err != nil {
		t.Fatalf("ResolveTenant: %v", err)
	}
	mr.Del("tenant:localhost")
	if _, err := g.ResolveTenant(context.Background(), "localhost"); err != nil {
		t.Fatalf("cached tenant should resolve: %v", err)
	}
}

func TestResolveTenant_StoreDownIsInfrastructure(t *testing.T) {
	g, mr := newGate(t, 0)
	mr.Close()
	_, err := g.ResolveTenant(context.Background(), "localhost")
	var ie *layergroup.InfrastructureError
	if !errors.As(err, &ie) {
		t.Fatalf("want InfrastructureError, got %v", err)
	}
}

func TestCredentialFrom(t *testing.T) {
	c := CredentialFrom(url.Values{"map_key": {"a"}, "api_key": {"b"}})
	if c.MapKey != "a" || c.APIKey != "b" {
		t.Fatalf("both keys must be kept, got %+v", c)
	}
	if c := CredentialFrom(url.Values{}); c.present() {
		t.Fatalf("empty, got %+v", c)
	}
}

func TestAuthorize_StaleMapKeyDoesNotHideValidAPIKey(t *testing.T) {
	g, _ := newGate(t, 0)
	ten := Tenant{Name: "localhost", MapKey: "1234", APIKey: "admin"}
	c := CredentialFrom(url.Values{"map_key": {"stale"}, "api_key": {"admin"}})
	if err := g.Authorize(ten, c, true); err != nil {
		t.Fatalf("valid api_key next to a stale map_key: %v", err)
	}
	if err := g.AuthorizeAdmin(ten, c); err != nil {
		t.Fatalf("admin with valid api_key next to a stale map_key: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	g, _ := newGate(t, 0)
	ten := Tenant{Name: "localhost", MapKey: "1234", APIKey: "admin"}

	if err := g.Authorize(ten, Credential{}, false); err != nil {
		t.Fatalf("public without key: %v", err)
	}
	for _, c := range []Credential{{MapKey: "1234"}, {APIKey: "admin"}, {MapKey: "admin"}} {
		if err := g.Authorize(ten, c, true); err != nil {
			t.Fatalf("private with %+v: %v", c, err)
		}
	}
	for _, c := range []Credential{{}, {MapKey: "wrong"}, {MapKey: "wrong", APIKey: "wrong"}} {
		err := g.Authorize(ten, c, true)
		var ae *layergroup.AuthorizationError
		if !errors.As(err, &ae) {
			t.Fatalf("private with %+v: want AuthorizationError, got %v", c, err)
		}
		if !strings.Contains(err.Error(), "permission denied") {
			t.Fatalf("message=%q", err.Error())
		}
	}
	if err := g.Authorize(Tenant{Name: "x"}, Credential{}, true); err == nil {
		t.Fatalf("tenant without keys must never grant private access")
	}
}

func TestAuthorizeAdmin(t *testing.T) {
	g, _ := newGate(t, 0)
	ten := Tenant{Name: "localhost", MapKey: "1234", APIKey: "admin"}
	if err := g.AuthorizeAdmin(ten, Credential{APIKey: "admin"}); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if err := g.AuthorizeAdmin(ten, Credential{MapKey: "1234", APIKey: "1234"}); err == nil {
		t.Fatalf("map_key must not grant admin")
	}
}
