// Package xyzmapper maps XYZ tile coordinates onto Web Mercator envelopes and
// expands the tile placeholders a layer query may carry.
package xyzmapper

import (
	"strconv"
	"strings"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
	"github.com/mohammed-shakir/layergroup-tiler/internal/mapper"
)

const (
	SRID     = 3857
	TileSize = 256

	// half the Web Mercator world extent in meters
	originShift = 20037508.342789244
	worldSize   = 2 * originShift
)

const (
	PlaceholderBBox        = "!bbox!"
	PlaceholderPixelWidth  = "!pixel_width!"
	PlaceholderPixelHeight = "!pixel_height!"
)

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

// TileBounds returns the envelope of t. The caller validates t.
func (m *Mapper) TileBounds(t model.TileCoord) model.BBox {
	span := worldSize / float64(uint64(1)<<uint(t.Z))
	minx := -originShift + float64(t.X)*span
	maxy := originShift - float64(t.Y)*span
	return model.BBox{
		X1:   minx,
		Y1:   maxy - span,
		X2:   minx + span,
		Y2:   maxy,
		SRID: SRID,
	}
}

// Resolution is the ground size of one pixel at zoom z.
func (m *Mapper) Resolution(z int) float64 {
	return worldSize / TileSize / float64(uint64(1)<<uint(z))
}

// Expand substitutes every occurrence of each placeholder in sql.
func (m *Mapper) Expand(sql string, t model.TileCoord) string {
	if !strings.Contains(sql, "!") {
		return sql
	}
	res := strconv.FormatFloat(m.Resolution(t.Z), 'g', 17, 64)
	r := strings.NewReplacer(
		PlaceholderBBox, m.TileBounds(t).String(),
		PlaceholderPixelWidth, res,
		PlaceholderPixelHeight, res,
	)
	return r.Replace(sql)
}

func (m *Mapper) ExpandAll(queries []string, t model.TileCoord) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = m.Expand(q, t)
	}
	return out
}
