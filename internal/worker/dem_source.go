package worker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"tileworker/internal/dem"
)

// demRecord is the slot of one tile. data stays nil until the decode lands.
type demRecord struct {
	data *dem.Data
}

// RasterDEMTileWorkerSource decodes elevation tiles and keeps them by uid.
type RasterDEMTileWorkerSource struct {
	log    logrus.FieldLogger
	decode func(DEMParams) (*dem.Data, error)

	mu     sync.Mutex
	loaded map[UID]*demRecord
}

// NewRasterDEMTileWorkerSource returns an empty DEM source.
func NewRasterDEMTileWorkerSource(opts ...Option) *RasterDEMTileWorkerSource {
	o := newOptions(opts)
	return &RasterDEMTileWorkerSource{
		log:    o.log,
		decode: decodeDEM,
		loaded: make(map[UID]*demRecord),
	}
}

// LoadTile decodes params.RawImageData and calls callback once. The decoded
// tile is kept only if no RemoveTile or newer LoadTile for the uid came first.
func (s *RasterDEMTileWorkerSource) LoadTile(ctx context.Context, params DEMParams, callback DEMCallback) {
	rec := &demRecord{}
	s.mu.Lock()
	s.loaded[params.UID] = rec
	s.mu.Unlock()

	go func() {
		d, err := s.decode(params)
		s.mu.Lock()
		if s.loaded[params.UID] == rec {
			if err != nil {
				delete(s.loaded, params.UID)
			} else {
				rec.data = d
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.log.WithFields(logrus.Fields{
				"source": params.Source,
				"tile":   params.TileID,
			}).WithError(err).Warn("DEM tile decode failed")
			callback(nil, err)
			return
		}
		callback(d, nil)
	}()
}

func decodeDEM(params DEMParams) (*dem.Data, error) {
	enc, err := dem.ParseEncoding(params.Encoding)
	if err != nil {
		return nil, DecodeError{UID: params.UID, Err: err}
	}
	d, err := dem.Decode(params.RawImageData, enc)
	if err != nil {
		return nil, DecodeError{UID: params.UID, Err: err}
	}
	return d, nil
}

// Tile returns a decoded tile, or nil while it is decoding or unknown.
func (s *RasterDEMTileWorkerSource) Tile(uid UID) *dem.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.loaded[uid]; rec != nil {
		return rec.data
	}
	return nil
}

// RemoveTile forgets a tile. Removing an unknown tile is a no-op.
func (s *RasterDEMTileWorkerSource) RemoveTile(params DEMParams) {
	s.mu.Lock()
	delete(s.loaded, params.UID)
	s.mu.Unlock()
}
