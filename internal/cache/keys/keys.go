// Package keys builds the Redis key layout shared by the style store, usage
// accounting and tenant lookup.
package keys

import (
	"strings"
)

const (
	stylePrefix  = "map_style"
	tenantPrefix = "tenant"
	userPrefix   = "user"
)

// Style addresses one persisted style record: map_style|<tenant>|~<digest>.
func Style(tenant, digest string) string {
	var b strings.Builder
	b.Grow(len(stylePrefix) + len(tenant) + len(digest) + 3)
	b.WriteString(stylePrefix)
	b.WriteByte('|')
	b.WriteString(tenant)
	b.WriteString("|~")
	b.WriteString(digest)
	return b.String()
}

// UsageGlobal is the per-tenant sorted set of daily map views.
func UsageGlobal(tenant string) string {
	return userPrefix + ":" + tenant + ":mapviews:global"
}

// UsageTag is the per-tenant, per-stat-tag sorted set of daily map views.
func UsageTag(tenant, tag string) string {
	return userPrefix + ":" + tenant + ":mapviews:stat_tag:" + tag
}

func Tenant(name string) string {
	return tenantPrefix + ":" + name
}

// ValidTenant reports whether name is usable as a key segment: a non-empty
// lowercase DNS label.
func ValidTenant(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
