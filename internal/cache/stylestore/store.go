// Package stylestore persists compiled layer-group styles in the shared
// store, keyed by tenant and configuration digest.
package stylestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/keys"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

// Record is what a token resolves to. Epoch and Private are captured when
// the record is first created.
type Record struct {
	Tenant    string             `msgpack:"tenant"`
	Digest    string             `msgpack:"digest"`
	Layers    []layergroup.Layer `msgpack:"layers"`
	Styles    []string           `msgpack:"styles"`
	StatTag   string             `msgpack:"stat_tag,omitempty"`
	Epoch     int64              `msgpack:"epoch"`
	HasEpoch  bool               `msgpack:"has_epoch"`
	Private   bool               `msgpack:"private"`
	CreatedAt time.Time          `msgpack:"created_at"`
}

// Backend is the conditional-write key/value surface the store needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

type Options struct {
	// TTL bounds how long a record lives in the backend; 0 keeps it forever.
	TTL       time.Duration
	OpTimeout time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

type Store struct {
	logger *slog.Logger
	be     Backend
	opts   Options
	local  *expirable.LRU[string, Record]
	sf     singleflight.Group
}

func New(logger *slog.Logger, be Backend, opts Options) *Store {
	s := &Store{logger: logger, be: be, opts: opts}
	if opts.CacheSize > 0 && opts.CacheTTL > 0 {
		s.local = expirable.NewLRU[string, Record](opts.CacheSize, nil, opts.CacheTTL)
	}
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.OpTimeout)
	}
	return ctx, func() {}
}

// GetOrCreate stores rec unless a record for the same tenant and digest
// already exists, in which case the existing record is returned. created
// reports whether this call wrote it.
func (s *Store) GetOrCreate(ctx context.Context, rec Record) (out Record, created bool, err error) {
	key := keys.Style(rec.Tenant, rec.Digest)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	b, err := msgpack.Marshal(&rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("encode style record: %w", err)
	}

	cctx, cancel := s.withTimeout(ctx)
	ok, err := s.be.SetNX(cctx, key, b, s.opts.TTL)
	cancel()
	if err != nil {
		return Record{}, false, layergroup.Infra("store style", err)
	}
	if ok {
		s.remember(key, rec)
		s.logger.Debug("style record created", "tenant", rec.Tenant, "digest", rec.Digest)
		return rec, true, nil
	}

	existing, err := s.fetch(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

// Lookup returns the record for tenant and digest, or a NotFoundError.
func (s *Store) Lookup(ctx context.Context, tenant, digest string) (Record, error) {
	key := keys.Style(tenant, digest)
	if s.local != nil {
		if r, ok := s.local.Get(key); ok {
			observability.IncStyleCache(true)
			return r, nil
		}
		observability.IncStyleCache(false)
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.fetch(ctx, key)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

func (s *Store) fetch(ctx context.Context, key string) (Record, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b, ok, err := s.be.Get(cctx, key)
	if err != nil {
		return Record{}, layergroup.Infra("load style", err)
	}
	if !ok {
		return Record{}, &layergroup.NotFoundError{What: "layergroup"}
	}
	var rec Record
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return Record{}, layergroup.Infra("load style", fmt.Errorf("decode %q: %w", key, err))
	}
	s.remember(key, rec)
	return rec, nil
}

// Delete removes the record and any locally cached copy.
func (s *Store) Delete(ctx context.Context, tenant, digest string) error {
	key := keys.Style(tenant, digest)
	if s.local != nil {
		s.local.Remove(key)
	}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.be.Del(cctx, key)
	if err != nil {
		return layergroup.Infra("delete style", err)
	}
	if n == 0 {
		return &layergroup.NotFoundError{What: "layergroup"}
	}
	return nil
}

// Evict drops only the in-process copy; the shared record is untouched.
func (s *Store) Evict(tenant, digest string) {
	if s.local != nil {
		s.local.Remove(keys.Style(tenant, digest))
	}
}

func (s *Store) remember(key string, rec Record) {
	if s.local != nil {
		s.local.Add(key, rec)
	}
}

// IsNotFound is a convenience for callers branching on a miss.
func IsNotFound(err error) bool {
	return errors.Is(err, layergroup.ErrNotFound)
}
