package keys

import "testing"

func TestStyleKeyLayout(t *testing.T) {
	got := Style("localhost", "0123abcd")
	if want := "map_style|localhost|~0123abcd"; got != want {
		t.Fatalf("Style=%q want %q", got, want)
	}
}

func TestUsageKeysAreTenantScoped(t *testing.T) {
	if got, want := UsageGlobal("localhost"), "user:localhost:mapviews:global"; got != want {
		t.Fatalf("UsageGlobal=%q want %q", got, want)
	}
	if got, want := UsageTag("localhost", "random_tag"), "user:localhost:mapviews:stat_tag:random_tag"; got != want {
		t.Fatalf("UsageTag=%q want %q", got, want)
	}
	if UsageGlobal("a") == UsageGlobal("b") {
		t.Fatalf("tenants must not share usage keys")
	}
}

func TestTenantKey(t *testing.T) {
	if got := Tenant("acme"); got != "tenant:acme" {
		t.Fatalf("Tenant=%q", got)
	}
}

func TestValidTenant(t *testing.T) {
	cases := map[string]bool{
		"localhost": true,
		"acme-2":    true,
		"":          false,
		"-x":        false,
		"Upper":     false,
		"a|b":       false,
		"a:b":       false,
	}
	for in, want := range cases {
		if got := ValidTenant(in); got != want {
			t.Errorf("ValidTenant(%q)=%v want %v", in, got, want)
		}
	}
}
