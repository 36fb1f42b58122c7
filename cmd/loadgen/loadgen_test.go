package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
)

func TestPercentile(t *testing.T) {
	vals := []float64{10, 20, 30, 40, 50}
	if got := percentile(vals, 50); got != 30 {
		t.Fatalf("p50=%v want 30", got)
	}
	if got := percentile(vals, 0); got != 10 {
		t.Fatalf("p0=%v want 10", got)
	}
	if got := percentile(vals, 100); got != 50 {
		t.Fatalf("p100=%v want 50", got)
	}
	if got := percentile(vals, 25); got != 20 {
		t.Fatalf("p25=%v want 20", got)
	}
	if !math.IsNaN(percentile(nil, 50)) {
		t.Fatalf("empty input must be NaN")
	}
}

func TestLonLatToTile(t *testing.T) {
	if got := lonLatToTile(0, 0, 1); got != (model.TileCoord{Z: 1, X: 1, Y: 1}) {
		t.Fatalf("origin at z1: %+v", got)
	}
	if got := lonLatToTile(-180, 85, 2); got != (model.TileCoord{Z: 2, X: 0, Y: 0}) {
		t.Fatalf("north west corner at z2: %+v", got)
	}
	if got := lonLatToTile(180, -85, 2); got != (model.TileCoord{Z: 2, X: 3, Y: 3}) {
		t.Fatalf("south east corner clamps: %+v", got)
	}
}

func TestMakeTiles_DistinctAndValid(t *testing.T) {
	tiles := makeTiles(64, 10, rand.New(rand.NewSource(1)))
	if len(tiles) == 0 || len(tiles) > 64 {
		t.Fatalf("unexpected pool size %d", len(tiles))
	}
	seen := map[model.TileCoord]bool{}
	for _, tc := range tiles {
		if err := tc.Validate(); err != nil {
			t.Fatalf("invalid tile %+v: %v", tc, err)
		}
		if seen[tc] {
			t.Fatalf("duplicate tile %+v", tc)
		}
		seen[tc] = true
	}
}

func TestTilePath(t *testing.T) {
	tc := model.TileCoord{Z: 3, X: 4, Y: 5}
	if got := tilePath("abc:1", tc, false); got != "/layergroups/abc:1/3/4/5.png" {
		t.Fatalf("png path %q", got)
	}
	if got := tilePath("abc:1", tc, true); got != "/layergroups/abc:1/0/3/4/5.grid.json" {
		t.Fatalf("grid path %q", got)
	}
}
