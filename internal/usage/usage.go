// Package usage keeps per-tenant daily map-view counters.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

// Store is the counter surface of the shared store.
type Store interface {
	ZIncrBy(ctx context.Context, member string, incr float64, keys ...string) error
	ZScore(ctx context.Context, key, member string) (float64, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

type Accountant struct {
	logger  *slog.Logger
	store   Store
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
}

func New(logger *slog.Logger, store Store, loc *time.Location, timeout time.Duration) *Accountant {
	if loc == nil {
		loc = time.UTC
	}
	return &Accountant{logger: logger, store: store, loc: loc, timeout: timeout, now: time.Now}
}

// DayBucket is the counter member for t: YYYYMMDD in loc.
func DayBucket(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("20060102")
}

// Record counts one map view for tenant in the global series and, when tag
// is set, in the tag series.
func (a *Accountant) Record(ctx context.Context, tenant, tag string) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	series := []string{keys.UsageGlobal(tenant)}
	if tag != "" {
		series = append(series, keys.UsageTag(tenant, tag))
	}
	day := DayBucket(a.now(), a.loc)
	if err := a.store.ZIncrBy(ctx, day, 1, series...); err != nil {
		return layergroup.Infra("record usage", err)
	}
	observability.IncUsage("global")
	if tag != "" {
		observability.IncUsage("stat_tag")
	}
	a.logger.Debug("usage recorded", "tenant", tenant, "stat_tag", tag, "day", day)
	return nil
}

// Count reads the counter for tenant on day; an empty tag reads the global
// series.
func (a *Accountant) Count(ctx context.Context, tenant, tag string, day time.Time) (int64, error) {
	key := keys.UsageGlobal(tenant)
	if tag != "" {
		key = keys.UsageTag(tenant, tag)
	}
	v, err := a.store.ZScore(ctx, key, DayBucket(day, a.loc))
	if err != nil {
		return 0, layergroup.Infra("read usage", err)
	}
	return int64(v), nil
}

// Clean drops the global series and the named tag series for tenant.
func (a *Accountant) Clean(ctx context.Context, tenant string, tags ...string) error {
	series := []string{keys.UsageGlobal(tenant)}
	for _, t := range tags {
		series = append(series, keys.UsageTag(tenant, t))
	}
	if _, err := a.store.Del(ctx, series...); err != nil {
		return layergroup.Infra("clean usage", err)
	}
	return nil
}
