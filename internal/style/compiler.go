package style

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

// Compiler validates every layer style of a configuration concurrently.
type Compiler struct {
	logger *slog.Logger
	v      Validator
	limit  int
	sf     singleflight.Group
}

func NewCompiler(logger *slog.Logger, v Validator, limit int) *Compiler {
	if limit <= 0 {
		limit = 8
	}
	return &Compiler{logger: logger, v: v, limit: limit}
}

// Compile returns one compiled style per layer, in layer order. Style
// problems are aggregated into a single ValidationError whose messages are
// prefixed "style<i>: " and ordered by layer. key, when non-empty,
// coalesces concurrent compilations of the same configuration.
func (c *Compiler) Compile(ctx context.Context, key string, layers []layergroup.Layer) ([]string, error) {
	if key == "" {
		return c.compile(ctx, layers)
	}
	v, err, shared := c.sf.Do(key, func() (any, error) {
		return c.compile(ctx, layers)
	})
	if shared {
		c.logger.Debug("compile coalesced", "key", key)
	}
	if err != nil {
		return nil, err
	}
	out := v.([]string)
	return append([]string(nil), out...), nil
}

func (c *Compiler) compile(ctx context.Context, layers []layergroup.Layer) ([]string, error) {
	compiled := make([]string, len(layers))
	problems := make([][]string, len(layers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, l := range layers {
		g.Go(func() error {
			out, errs, err := c.v.Validate(gctx, l.CartoCSS, l.CartoCSSVersion)
			if err != nil {
				return layergroup.Infra(fmt.Sprintf("validate style%d", i), err)
			}
			compiled[i] = out
			problems[i] = errs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var msgs []string
	for i, errs := range problems {
		for _, e := range errs {
			msgs = append(msgs, fmt.Sprintf("style%d: %s", i, strings.TrimSpace(e)))
		}
	}
	if len(msgs) > 0 {
		return nil, &layergroup.ValidationError{Messages: msgs}
	}
	return compiled, nil
}
