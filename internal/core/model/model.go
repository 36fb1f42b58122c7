// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strconv"
)

// BBox is an envelope in the coordinate system named by SRID.
type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   int
}

// String renders the PostGIS envelope constructor for b.
func (b BBox) String() string {
	return fmt.Sprintf("ST_MakeEnvelope(%s,%s,%s,%s,%d)",
		fmtCoord(b.X1), fmtCoord(b.Y1), fmtCoord(b.X2), fmtCoord(b.Y2), b.SRID)
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TileCoord addresses a tile in the XYZ scheme, origin top-left.
type TileCoord struct {
	Z, X, Y int
}

const MaxZoom = 30

func (t TileCoord) Validate() error {
	if t.Z < 0 || t.Z > MaxZoom {
		return fmt.Errorf("zoom %d out of range [0,%d]", t.Z, MaxZoom)
	}
	n := 1 << t.Z
	if t.X < 0 || t.X >= n {
		return fmt.Errorf("x %d out of range for zoom %d", t.X, t.Z)
	}
	if t.Y < 0 || t.Y >= n {
		return fmt.Errorf("y %d out of range for zoom %d", t.Y, t.Z)
	}
	return nil
}

func (t TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}
