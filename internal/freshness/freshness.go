// Package freshness derives the last-modification time and privacy of the
// tables a set of layer queries reads from.
package freshness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
	"github.com/mohammed-shakir/layergroup-tiler/internal/metadata"
)

const dollarTag = "$windshaft$"

// CombinedQuery joins the layer queries, in order, into the single
// statement the metadata service resolves to a table list.
func CombinedQuery(queries []string) string {
	return "SELECT CDB_QueryTables(" + dollarTag + strings.Join(queries, ";") + dollarTag + ")"
}

// MetadataQuery asks for the newest update time and any-private flag over
// the tables referenced by combined.
func MetadataQuery(combined string) string {
	return "SELECT EXTRACT(EPOCH FROM max(updated_at)) AS max, " +
		"coalesce(bool_or(privacy = 'private'), false) AS private " +
		"FROM CDB_TableMetadata m WHERE m.tabname::name = any ((" + combined + ")::name[])"
}

type Result struct {
	Combined string
	// Epoch is in milliseconds and meaningful only when Known.
	Epoch   int64
	Known   bool
	Private bool
}

// LastUpdated renders the epoch for responses, empty when unknown.
func (r Result) LastUpdated() string {
	if !r.Known {
		return ""
	}
	return ISO8601(r.Epoch)
}

type Resolver struct {
	logger *slog.Logger
	q      metadata.Querier
}

func NewResolver(logger *slog.Logger, q metadata.Querier) *Resolver {
	return &Resolver{logger: logger, q: q}
}

// Resolve issues exactly one metadata request for all queries. A rejected
// query is a validation error; anything else going wrong with the service
// is an infrastructure error.
func (r *Resolver) Resolve(ctx context.Context, apiKey string, queries []string) (Result, error) {
	combined := CombinedQuery(queries)
	rows, err := r.q.Query(ctx, MetadataQuery(combined), apiKey)
	if err != nil {
		var qe *metadata.QueryError
		if errors.As(err, &qe) {
			return Result{}, &layergroup.ValidationError{Messages: qe.Messages}
		}
		return Result{}, layergroup.Infra("resolve freshness", err)
	}

	res := Result{Combined: combined}
	if len(rows) == 0 {
		return res, nil
	}
	row := rows[0]

	ms, known, err := EpochMillis(row["max"])
	if err != nil {
		return Result{}, layergroup.Infra("resolve freshness", err)
	}
	res.Epoch, res.Known = ms, known
	if p, ok := row["private"].(bool); ok {
		res.Private = p
	}
	r.logger.Debug("freshness resolved", "known", res.Known, "epoch", res.Epoch, "private", res.Private)
	return res, nil
}

// EpochMillis converts seconds since the epoch, possibly fractional, to
// milliseconds by exact decimal truncation. nil means unknown.
func EpochMillis(v any) (int64, bool, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		s = t.String()
	case string:
		s = t
	case float64:
		s = big.NewFloat(t).Text('f', -1)
	default:
		return 0, false, fmt.Errorf("epoch: unexpected type %T", v)
	}

	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return 0, false, fmt.Errorf("epoch: invalid number %q", s)
	}
	r.Mul(r, big.NewRat(1000, 1))
	// Euclidean division floors because the denominator is positive
	ms := new(big.Int).Div(r.Num(), r.Denom())
	if !ms.IsInt64() {
		return 0, false, fmt.Errorf("epoch: %q out of range", s)
	}
	return ms.Int64(), true, nil
}

const isoLayout = "2006-01-02T15:04:05.000Z"

func ISO8601(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoLayout)
}
