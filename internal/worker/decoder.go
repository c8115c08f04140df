package worker

import (
	"context"

	"github.com/paulmach/orb/encoding/mvt"
)

// Fetcher loads raw bytes. Retries and caching are the fetcher's business.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// DecodedTile is a tile in vector tile form together with its encoded bytes.
type DecodedTile struct {
	Layers  mvt.Layers
	RawData []byte
}

// TileDecoder produces the vector tile view of a requested tile.
// A nil tile with a nil error means there is no data for the tile.
type TileDecoder interface {
	DecodeTile(ctx context.Context, params TileParams) (*DecodedTile, error)
}

// TileDecoderFunc adapts a function to TileDecoder.
type TileDecoderFunc func(ctx context.Context, params TileParams) (*DecodedTile, error)

func (f TileDecoderFunc) DecodeTile(ctx context.Context, params TileParams) (*DecodedTile, error) {
	return f(ctx, params)
}

// protobufDecoder decodes Mapbox Vector Tile payloads, gzipped or not.
type protobufDecoder struct {
	fetcher Fetcher
}

func (d protobufDecoder) DecodeTile(ctx context.Context, params TileParams) (*DecodedTile, error) {
	raw := params.Data
	if raw == nil && params.Request != nil {
		if d.fetcher == nil {
			return nil, ErrNoFetcher
		}
		var err error
		raw, err = d.fetcher.Fetch(ctx, *params.Request)
		if err != nil {
			return nil, err
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var (
		layers mvt.Layers
		err    error
	)
	if isGzipped(raw) {
		layers, err = mvt.UnmarshalGzipped(raw)
	} else {
		layers, err = mvt.Unmarshal(raw)
	}
	if err != nil {
		return nil, DecodeError{UID: params.UID, Err: err}
	}
	return &DecodedTile{Layers: layers, RawData: raw}, nil
}

func isGzipped(b []byte) bool {
	return len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}
