// Package engine runs layer-group submissions and artifact fetches through
// tenant resolution, style compilation, freshness, authorization, storage,
// usage accounting and rendering.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/auth"
	"github.com/mohammed-shakir/layergroup-tiler/internal/cache/stylestore"
	"github.com/mohammed-shakir/layergroup-tiler/internal/channel"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/executor"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
	"github.com/mohammed-shakir/layergroup-tiler/internal/freshness"
	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
	"github.com/mohammed-shakir/layergroup-tiler/internal/logger"
	"github.com/mohammed-shakir/layergroup-tiler/internal/mapper"
	"github.com/mohammed-shakir/layergroup-tiler/internal/style"
	"github.com/mohammed-shakir/layergroup-tiler/internal/usage"
)

// Publisher receives channel announcements; implementations must not block.
type Publisher interface {
	Publish(ev channel.Announcement)
}

// Evictions tells other instances that a layer group was deleted.
type Evictions interface {
	Evicted(ctx context.Context, tenant, digest string) error
}

type Deps struct {
	Logger    *slog.Logger
	Gate      *auth.Gate
	Compiler  *style.Compiler
	Freshness *freshness.Resolver
	Store     *stylestore.Store
	Usage     *usage.Accountant
	Mapper    mapper.Interface
	Renderer  executor.Interface
	// Publisher and Evictions are optional.
	Publisher Publisher
	Evictions Evictions
}

type Engine struct {
	logger *slog.Logger
	gate   *auth.Gate
	comp   *style.Compiler
	fresh  *freshness.Resolver
	store  *stylestore.Store
	usage  *usage.Accountant
	mapr   mapper.Interface
	render executor.Interface
	pub    Publisher
	evict  Evictions
	now    func() time.Time
}

func New(d Deps) (*Engine, error) {
	switch {
	case d.Logger == nil:
		return nil, errors.New("engine: logger is required")
	case d.Gate == nil, d.Compiler == nil, d.Freshness == nil, d.Store == nil,
		d.Usage == nil, d.Mapper == nil, d.Renderer == nil:
		return nil, errors.New("engine: missing dependency")
	}
	return &Engine{
		logger: d.Logger,
		gate:   d.Gate,
		comp:   d.Compiler,
		fresh:  d.Freshness,
		store:  d.Store,
		usage:  d.Usage,
		mapr:   d.Mapper,
		render: d.Renderer,
		pub:    d.Publisher,
		evict:  d.Evictions,
		now:    time.Now,
	}, nil
}

type CreateRequest struct {
	Host       string
	Credential auth.Credential
	Config     layergroup.Config
}

type CreateResult struct {
	Token layergroup.Token
	// LastUpdated is empty when freshness is unknown.
	LastUpdated string
	Created     bool
}

// Create registers a layer group for the tenant addressed by Host and
// returns its token. Resubmitting an equivalent configuration yields the
// same digest, reuses the stored compiled styles and counts usage again.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (res CreateResult, err error) {
	defer func() { observability.IncSubmission(outcome(res, err)) }()

	ten, err := e.gate.ResolveTenant(ctx, req.Host)
	if err != nil {
		return CreateResult{}, err
	}
	ctx = logger.WithTenant(ctx, ten.Name)

	digest, err := layergroup.Digest(req.Config)
	if err != nil {
		return CreateResult{}, err
	}
	ctx = logger.WithLayergroup(ctx, digest)

	styles, err := e.compiledStyles(ctx, ten.Name, digest, req.Config.Layers)
	if err != nil {
		return CreateResult{}, err
	}

	fr, err := e.fresh.Resolve(ctx, ten.APIKey, req.Config.Queries())
	if err != nil {
		return CreateResult{}, err
	}
	if err := e.gate.Authorize(ten, req.Credential, fr.Private); err != nil {
		return CreateResult{}, err
	}

	_, created, err := e.store.GetOrCreate(ctx, stylestore.Record{
		Tenant:    ten.Name,
		Digest:    digest,
		Layers:    req.Config.Layers,
		Styles:    styles,
		StatTag:   req.Config.StatTag,
		Epoch:     fr.Epoch,
		HasEpoch:  fr.Known,
		Private:   fr.Private,
		CreatedAt: e.now().UTC(),
	})
	if err != nil {
		return CreateResult{}, err
	}

	if err := e.usage.Record(ctx, ten.Name, req.Config.StatTag); err != nil {
		e.logger.WarnContext(ctx, "usage not recorded", "err", err)
	}

	tok := layergroup.NewToken(digest, fr.Epoch, fr.Known)
	if e.pub != nil {
		e.pub.Publish(channel.Announcement{
			Channel:      channel.For(ten.Datasource, fr.Combined),
			Tenant:       ten.Name,
			LayergroupID: tok.String(),
			LastUpdated:  fr.LastUpdated(),
		})
	}

	e.logger.InfoContext(ctx, "layergroup submitted",
		"layergroupid", tok.String(),
		"created", created,
		"layers", len(req.Config.Layers))
	return CreateResult{Token: tok, LastUpdated: fr.LastUpdated(), Created: created}, nil
}

// compiledStyles reuses the compiled styles of an existing record for the
// same digest and only compiles when there is none.
func (e *Engine) compiledStyles(ctx context.Context, tenant, digest string, layers []layergroup.Layer) ([]string, error) {
	rec, err := e.store.Lookup(ctx, tenant, digest)
	switch {
	case err == nil && len(rec.Styles) == len(layers):
		e.logger.DebugContext(ctx, "reusing compiled styles")
		return rec.Styles, nil
	case err != nil && !stylestore.IsNotFound(err):
		return nil, err
	}
	return e.comp.Compile(ctx, tenant+"|"+digest, layers)
}

func outcome(res CreateResult, err error) string {
	if err == nil {
		if res.Created {
			return "created"
		}
		return "reused"
	}
	switch layergroup.StatusCode(err) {
	case 400:
		return "invalid"
	case 401:
		return "denied"
	case 404:
		return "not_found"
	default:
		return "error"
	}
}

type FetchRequest struct {
	Host       string
	Credential auth.Credential
	Token      string
	Tile       model.TileCoord
}

type Artifact struct {
	Body    []byte
	Channel string
	// LastUpdated is the freshness captured when the layer group was stored.
	LastUpdated string
}

// resolve finds the stored layer group a fetch addresses and checks the
// caller may read it.
func (e *Engine) resolve(ctx context.Context, req FetchRequest) (context.Context, auth.Tenant, stylestore.Record, error) {
	ten, err := e.gate.ResolveTenant(ctx, req.Host)
	if err != nil {
		return ctx, auth.Tenant{}, stylestore.Record{}, err
	}
	ctx = logger.WithTenant(ctx, ten.Name)

	ref, err := layergroup.ParseRef(req.Token)
	if err != nil {
		return ctx, ten, stylestore.Record{}, err
	}
	ctx = logger.WithLayergroup(ctx, ref.Digest)

	rec, err := e.store.Lookup(ctx, ten.Name, ref.Digest)
	if err != nil {
		return ctx, ten, stylestore.Record{}, err
	}
	if err := e.gate.Authorize(ten, req.Credential, rec.Private); err != nil {
		return ctx, ten, stylestore.Record{}, err
	}
	if err := req.Tile.Validate(); err != nil {
		return ctx, ten, stylestore.Record{}, &layergroup.ValidationError{Messages: []string{err.Error()}}
	}
	return ctx, ten, rec, nil
}

// artifact builds the response for a rendered job. The channel is derived
// from the tile-expanded queries the renderer actually ran.
func (e *Engine) artifact(ten auth.Tenant, rec stylestore.Record, queries []string, body []byte) Artifact {
	a := Artifact{
		Body:    body,
		Channel: channel.For(ten.Datasource, freshness.CombinedQuery(queries)),
	}
	if rec.HasEpoch {
		a.LastUpdated = freshness.ISO8601(rec.Epoch)
	}
	return a
}

func (e *Engine) job(rec stylestore.Record, t model.TileCoord) executor.Request {
	queries := make([]string, len(rec.Layers))
	for i, l := range rec.Layers {
		queries[i] = l.SQL
	}
	return executor.NewRequest(rec.Styles, e.mapr.ExpandAll(queries, t), t)
}

// Tile renders the image tile at req.Tile.
func (e *Engine) Tile(ctx context.Context, req FetchRequest) (Artifact, error) {
	ctx, ten, rec, err := e.resolve(ctx, req)
	if err != nil {
		return Artifact{}, err
	}
	job := e.job(rec, req.Tile)
	body, err := e.render.RenderTile(ctx, job)
	if err != nil {
		return Artifact{}, err
	}
	e.logger.DebugContext(ctx, "tile rendered", "tile", req.Tile.String(), "bytes", len(body))
	return e.artifact(ten, rec, job.Queries, body), nil
}

// Grid renders the interactivity grid of one layer at req.Tile.
func (e *Engine) Grid(ctx context.Context, req FetchRequest, layer int) (Artifact, error) {
	ctx, ten, rec, err := e.resolve(ctx, req)
	if err != nil {
		return Artifact{}, err
	}
	if layer < 0 || layer >= len(rec.Layers) {
		return Artifact{}, &layergroup.ValidationError{Messages: []string{
			fmt.Sprintf("layer %d out of range, layergroup has %d layers", layer, len(rec.Layers)),
		}}
	}
	cols := rec.Layers[layer].Interactivity
	if cols == "" {
		return Artifact{}, &layergroup.ValidationError{Messages: []string{
			fmt.Sprintf("layer %d has no interactivity", layer),
		}}
	}

	job := e.job(rec, req.Tile)
	job.Layer = &layer
	job.Interactivity = cols
	body, err := e.render.RenderGrid(ctx, job)
	if err != nil {
		return Artifact{}, err
	}
	e.logger.DebugContext(ctx, "grid rendered", "tile", req.Tile.String(), "layer", layer)
	return e.artifact(ten, rec, job.Queries, body), nil
}

type DeleteRequest struct {
	Host       string
	Credential auth.Credential
	Token      string
}

// Delete removes a stored layer group. It requires the tenant api key.
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) error {
	ten, err := e.gate.ResolveTenant(ctx, req.Host)
	if err != nil {
		return err
	}
	ref, err := layergroup.ParseRef(req.Token)
	if err != nil {
		return err
	}
	if err := e.gate.AuthorizeAdmin(ten, req.Credential); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, ten.Name, ref.Digest); err != nil {
		return err
	}
	lctx := logger.WithLayergroup(logger.WithTenant(ctx, ten.Name), ref.Digest)
	e.logger.InfoContext(lctx, "layergroup deleted")
	if e.evict != nil {
		// peers fall back to their cache TTL when the broadcast fails
		if err := e.evict.Evicted(ctx, ten.Name, ref.Digest); err != nil {
			e.logger.WarnContext(lctx, "eviction broadcast failed", "err", err)
		}
	}
	return nil
}
