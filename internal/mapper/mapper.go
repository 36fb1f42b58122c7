// Package mapper converts tile coordinates into the geometry a layer query
// is evaluated against.
package mapper

import (
	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
)

type Interface interface {
	TileBounds(t model.TileCoord) model.BBox
	ExpandAll(queries []string, t model.TileCoord) []string
}
