// Package worker turns raw tile payloads into per layer family buckets.
//
// Each worker source serializes requests for the same tile (or, for GeoJSON,
// the same dataset) onto a single active operation: reloads that arrive while
// a tile is parsing are queued and replayed once, and bursts of dataset updates
// are coalesced so that only the newest one is built.
package worker

import (
	"time"

	"github.com/paulmach/orb/maptile"

	"tileworker/internal/dem"
	"tileworker/internal/tileindex"
)

// UID identifies one tile held by a worker source.
type UID uint64

// Request describes where to fetch a payload.
type Request struct {
	URL    string
	Header map[string]string
}

// TileParams is the input of LoadTile and ReloadTile.
type TileParams struct {
	UID    UID
	Source string
	// TileID is the canonical tile.
	TileID maptile.Tile
	// Zoom is the overscaled zoom, TileID.Z when zero.
	Zoom float64
	// Request is fetched when Data is nil.
	Request *Request
	Data    []byte

	ShowCollisionBoxes    bool
	CollectResourceTiming bool
}

func (p TileParams) zoom() float64 {
	if p.Zoom == 0 {
		return float64(p.TileID.Z)
	}
	return p.Zoom
}

// Timing reports where the time of a request went.
type Timing struct {
	Fetch time.Duration
	Parse time.Duration
}

// CollisionBox is a debug box for a placed feature, in tile coordinates.
type CollisionBox struct {
	LayerID      string
	FeatureIndex int
	MinX, MinY   float64
	MaxX, MaxY   float64
}

// TileResult is what a parse produces.
type TileResult struct {
	// RawTileData is a private copy of the decoded payload. Set by LoadTile only.
	RawTileData    []byte
	Buckets        []*Bucket
	CollisionBoxes []CollisionBox
	ResourceTiming *Timing
}

// TileCallback receives a tile outcome. A nil result with a nil error means the
// tile has no data.
type TileCallback func(*TileResult, error)

// LoadDataParams is the input of GeoJSONWorkerSource.LoadData.
type LoadDataParams struct {
	Source string
	// Data is an inline GeoJSON document. URL is fetched when Data is nil.
	Data []byte
	URL  string

	Cluster        bool
	ClusterOptions *tileindex.ClusterOptions
	TilerOptions   *tileindex.TilerOptions

	CollectResourceTiming bool
}

// LoadDataResult is the outcome of LoadData. Abandoned is set when a newer
// request superseded this one before it was serviced.
type LoadDataResult struct {
	Abandoned      bool
	FeatureCount   int
	ResourceTiming *Timing
}

// LoadDataCallback receives the outcome of LoadData.
type LoadDataCallback func(*LoadDataResult, error)

// SourceParams names the source of Coalesce and RemoveSource.
type SourceParams struct {
	Source string
}

// DEMParams is the input of RasterDEMTileWorkerSource.LoadTile.
type DEMParams struct {
	UID          UID
	Source       string
	TileID       maptile.Tile
	RawImageData []byte
	// Encoding is "mapbox" (default) or "terrarium".
	Encoding string
}

// DEMCallback receives a decoded elevation tile.
type DEMCallback func(*dem.Data, error)
