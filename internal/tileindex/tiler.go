package tileindex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
)

// TilerOptions configures a Tiler.
type TilerOptions struct {
	// MaxZoom is the zoom where simplification stops.
	MaxZoom uint32
	// Tolerance is the Douglas-Peucker tolerance in tile units.
	Tolerance float64
	// Extent is the tile coordinate extent.
	Extent uint32
	// Buffer is the tile buffer on each side, in tile units.
	Buffer uint32
	// GenerateID replaces feature ids with their index in the input.
	GenerateID bool
	// MaxCachedTiles bounds the tile cache. Zero means the default.
	MaxCachedTiles int
}

// DefaultTilerOptions returns the options used when a source does not set any.
func DefaultTilerOptions() TilerOptions {
	return TilerOptions{
		MaxZoom:        14,
		Tolerance:      3,
		Extent:         DefaultExtent,
		Buffer:         128,
		MaxCachedTiles: 4096,
	}
}

type indexedFeature struct {
	feature *geojson.Feature
	bound   orb.Bound
}

// Tiler slices a feature collection into clipped and simplified vector tiles on demand.
type Tiler struct {
	opts     TilerOptions
	features []indexedFeature

	mu    sync.RWMutex
	cache map[maptile.Tile]*Tile
}

// NewTiler indexes fc. fc must not be modified afterwards.
func NewTiler(fc *geojson.FeatureCollection, opts TilerOptions) (*Tiler, error) {
	if opts.MaxZoom > MaxZoom {
		return nil, fmt.Errorf("maxZoom should be in the 0-%d range", MaxZoom)
	}
	if opts.Extent == 0 {
		return nil, errors.New("extent must be positive")
	}
	if opts.MaxCachedTiles <= 0 {
		opts.MaxCachedTiles = DefaultTilerOptions().MaxCachedTiles
	}

	t := &Tiler{
		opts:  opts,
		cache: make(map[maptile.Tile]*Tile),
	}
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if opts.GenerateID {
			f.ID = i
		}
		t.features = append(t.features, indexedFeature{feature: f, bound: f.Geometry.Bound()})
	}
	return t, nil
}

// Len returns the number of indexed features.
func (t *Tiler) Len() int { return len(t.features) }

// Tile implements Index.
func (t *Tiler) Tile(z, x, y uint32) *Tile {
	if !validTile(z, x, y) {
		return nil
	}
	key := maptile.New(x, y, maptile.Zoom(z))

	t.mu.RLock()
	tile, ok := t.cache[key]
	t.mu.RUnlock()
	if ok {
		return tile
	}

	tile = t.build(key)

	t.mu.Lock()
	if len(t.cache) >= t.opts.MaxCachedTiles {
		t.cache = make(map[maptile.Tile]*Tile)
	}
	t.cache[key] = tile
	t.mu.Unlock()

	return tile
}

func (t *Tiler) build(key maptile.Tile) *Tile {
	// pad the lon/lat pre-filter generously, the exact cut happens in tile space
	tb := key.Bound()
	ratio := 2 * float64(t.opts.Buffer) / float64(t.opts.Extent)
	padX := (tb.Max[0] - tb.Min[0]) * ratio
	padY := (tb.Max[1] - tb.Min[1]) * ratio
	search := orb.Bound{
		Min: orb.Point{tb.Min[0] - padX, tb.Min[1] - padY},
		Max: orb.Point{tb.Max[0] + padX, tb.Max[1] + padY},
	}

	var candidates []*geojson.Feature
	for _, f := range t.features {
		if !search.Intersects(f.bound) {
			continue
		}
		candidates = append(candidates, &geojson.Feature{
			ID:         f.feature.ID,
			Type:       "Feature",
			Geometry:   orb.Clone(f.feature.Geometry),
			Properties: f.feature.Properties,
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	layers := mvt.Layers{&mvt.Layer{
		Name:     "tile",
		Version:  2,
		Extent:   t.opts.Extent,
		Features: candidates,
	}}
	layers.ProjectToTile(key)

	buf := float64(t.opts.Buffer)
	ext := float64(t.opts.Extent)
	layers.Clip(orb.Bound{Min: orb.Point{-buf, -buf}, Max: orb.Point{ext + buf, ext + buf}})
	if uint32(key.Z) < t.opts.MaxZoom && t.opts.Tolerance > 0 {
		layers.Simplify(simplify.DouglasPeucker(t.opts.Tolerance))
	}
	layers.RemoveEmpty(1.0, 2.0)

	features := layers[0].Features
	if len(features) == 0 {
		return nil
	}
	return &Tile{
		Z:        uint32(key.Z),
		X:        key.X,
		Y:        key.Y,
		Extent:   t.opts.Extent,
		Features: features,
	}
}
