package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/model"
)

// lonLatToTile returns the tile containing lon/lat at zoom z.
func lonLatToTile(lon, lat float64, z int) model.TileCoord {
	n := math.Exp2(float64(z))
	x := int((lon + 180) / 360 * n)
	latRad := lat * math.Pi / 180
	y := int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	maxIdx := int(n) - 1
	return model.TileCoord{Z: z, X: clamp(x, 0, maxIdx), Y: clamp(y, 0, maxIdx)}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// makeTiles mixes tiles around a few hot centres with random cold ones.
// The hot tiles come first so a Zipf index favours them.
func makeTiles(count, z int, r *rand.Rand) []model.TileCoord {
	centers := [][2]float64{
		{18.0686, 59.3293}, // Stockholm
		{11.9746, 57.7089}, // Göteborg
		{13.0038, 55.6050}, // Malmö
		{22.1547, 65.5848}, // Luleå
	}
	seen := make(map[model.TileCoord]struct{}, count)
	tiles := make([]model.TileCoord, 0, count)
	add := func(t model.TileCoord) {
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		tiles = append(tiles, t)
	}

	hot := max(8, count/4)
	for i := 0; i < hot*4 && len(tiles) < hot; i++ {
		c := centers[i%len(centers)]
		dx, dy := (r.Float64()-0.5)*0.2, (r.Float64()-0.5)*0.2
		add(lonLatToTile(c[0]+dx, c[1]+dy, z))
	}

	// cold tiles anywhere over Sweden; bounded attempts for low zooms
	for i := 0; i < count*8 && len(tiles) < count; i++ {
		lon := 11 + r.Float64()*(24-11)
		lat := 55 + r.Float64()*(66-55)
		add(lonLatToTile(lon, lat, z))
	}
	return tiles
}

func tilePath(token string, t model.TileCoord, grid bool) string {
	if grid {
		return fmt.Sprintf("/layergroups/%s/0/%d/%d/%d.grid.json", token, t.Z, t.X, t.Y)
	}
	return fmt.Sprintf("/layergroups/%s/%d/%d/%d.png", token, t.Z, t.X, t.Y)
}
