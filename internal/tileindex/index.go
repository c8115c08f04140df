// Package tileindex builds hierarchical tile indexes from GeoJSON features and
// answers per-tile feature queries in tile coordinates.
package tileindex

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MaxZoom is the deepest zoom an index answers for.
const MaxZoom = 24

// DefaultExtent is the tile coordinate extent used by GeoJSON tiles.
const DefaultExtent = 8192

// Tile is the content of one tile of an index.
// Feature geometries are in tile coordinates, 0..Extent on both axes.
type Tile struct {
	Z, X, Y  uint32
	Extent   uint32
	Features []*geojson.Feature
}

// Index is a spatial tile index built from a feature collection.
type Index interface {
	// Tile returns nil when the tile is out of range or holds no features.
	Tile(z, x, y uint32) *Tile
}

func validTile(z, x, y uint32) bool {
	if z > MaxZoom {
		return false
	}
	n := uint32(1) << z
	return x < n && y < n
}

// lngX projects a longitude to [0, 1] mercator space.
func lngX(lng float64) float64 {
	return lng/360 + 0.5
}

// latY projects a latitude to [0, 1] mercator space, north at 0.
func latY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	switch {
	case y < 0:
		return 0
	case y > 1:
		return 1
	}
	return y
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}

func unproject(x, y float64) orb.Point {
	return orb.Point{xLng(x), yLat(y)}
}
