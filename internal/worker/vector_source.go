package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"tileworker/internal/style"
)

// Stats counts parses of a worker source.
type Stats struct {
	Loaded int
	// Parses counts every pass over a tile, restyles included.
	Parses int64
	// Replays counts parses started for a queued reload.
	Replays int64
	// Restyles counts parses redone because the style changed mid-parse.
	Restyles int64
}

// VectorTileWorkerSource loads vector tiles and keeps them parsed against the
// current style. At most one parse per tile runs at a time.
type VectorTileWorkerSource struct {
	layerIndex *style.LayerIndex
	decoder    TileDecoder
	opts       options

	mu     sync.Mutex
	loaded *tileArena

	// parsed, when set, runs after every pass of parseTile.
	parsed func()

	parses   atomic.Int64
	replays  atomic.Int64
	restyles atomic.Int64
}

// NewVectorTileWorkerSource returns a source decoding Mapbox Vector Tile payloads.
func NewVectorTileWorkerSource(layerIndex *style.LayerIndex, opts ...Option) *VectorTileWorkerSource {
	o := newOptions(opts)
	return newVectorTileWorkerSource(layerIndex, protobufDecoder{fetcher: o.fetcher}, o)
}

// NewVectorTileWorkerSourceWithDecoder returns a source reading tiles through decoder.
func NewVectorTileWorkerSourceWithDecoder(layerIndex *style.LayerIndex, decoder TileDecoder, opts ...Option) *VectorTileWorkerSource {
	return newVectorTileWorkerSource(layerIndex, decoder, newOptions(opts))
}

func newVectorTileWorkerSource(layerIndex *style.LayerIndex, decoder TileDecoder, o options) *VectorTileWorkerSource {
	return &VectorTileWorkerSource{
		layerIndex: layerIndex,
		decoder:    decoder,
		opts:       o,
		loaded:     newTileArena(),
	}
}

// LoadTile decodes and parses a tile, then calls callback once. The tile is
// tracked from the moment LoadTile returns, so reloads issued meanwhile queue up.
func (s *VectorTileWorkerSource) LoadTile(ctx context.Context, params TileParams, callback TileCallback) {
	wt := newWorkerTile(params)
	s.mu.Lock()
	s.loaded.put(wt)
	s.mu.Unlock()

	go s.load(ctx, wt, params, callback)
}

func (s *VectorTileWorkerSource) load(ctx context.Context, wt *WorkerTile, params TileParams, callback TileCallback) {
	start := time.Now()
	decoded, err := s.decoder.DecodeTile(ctx, params)
	fetched := time.Since(start)

	if err != nil || decoded == nil {
		s.mu.Lock()
		if s.loaded.get(wt.uid) == wt {
			s.loaded.remove(wt.uid)
		}
		pending := wt.takePending()
		s.mu.Unlock()

		if err != nil {
			s.opts.log.WithFields(logrus.Fields{
				"source": params.Source,
				"tile":   params.TileID,
			}).WithError(err).Warn("Tile load failed")
		}
		callback(nil, err)
		pending.resolve(nil, err)
		return
	}

	raw := append([]byte(nil), decoded.RawData...)
	s.mu.Lock()
	wt.vectorTile = decoded.Layers
	s.mu.Unlock()

	s.parse(wt, func(res *TileResult, err error) {
		if res != nil {
			res.RawTileData = raw
			if res.ResourceTiming != nil {
				res.ResourceTiming.Fetch = fetched
			}
		}
		callback(res, err)
	})
}

// parse runs one parse of wt and hands its result to done. A reload queued
// meanwhile is started before done is called, so the tile never sits idle with
// work pending.
func (s *VectorTileWorkerSource) parse(wt *WorkerTile, done TileCallback) {
	s.mu.Lock()
	in := wt.snapshot()
	timed := wt.collectTiming
	s.mu.Unlock()

	start := time.Now()
	res := s.parseCurrent(in)
	if timed {
		res.ResourceTiming = &Timing{Parse: time.Since(start)}
	}

	s.mu.Lock()
	next := wt.takePending()
	if next == nil {
		wt.status = statusDone
	} else {
		wt.apply(next.params)
	}
	s.mu.Unlock()

	if next != nil {
		s.replays.Add(1)
		go s.parse(wt, next.resolve)
	}
	done(res, nil)
}

// parseCurrent parses against the current style and starts over, a bounded
// number of times, when the style changes before the parse completes.
func (s *VectorTileWorkerSource) parseCurrent(in parseInput) *TileResult {
	for attempt := 0; ; attempt++ {
		gen, families := s.layerIndex.Families(in.source)
		res := parseTile(in, families, s.opts.log)
		s.parses.Add(1)
		if s.parsed != nil {
			s.parsed()
		}
		if s.layerIndex.Generation() == gen || attempt >= s.opts.maxRestyles {
			return res
		}
		s.restyles.Add(1)
	}
}

// ReloadTile re-parses a loaded tile against the current style. While the tile
// is parsing the request is queued; bursts collapse into a single replay whose
// result is delivered to every queued callback.
// Reloading an unknown tile calls back with no result.
func (s *VectorTileWorkerSource) ReloadTile(ctx context.Context, params TileParams, callback TileCallback) {
	s.reload(ctx, params, callback, false)
}

// reload re-parses a tracked tile. An unknown uid is loaded afresh when
// loadMissing is set and answered with no result otherwise. The lookup and the
// dispatch happen under one lock.
func (s *VectorTileWorkerSource) reload(ctx context.Context, params TileParams, callback TileCallback, loadMissing bool) {
	s.mu.Lock()
	wt := s.loaded.get(params.UID)
	if wt == nil && loadMissing {
		wt = newWorkerTile(params)
		s.loaded.put(wt)
		s.mu.Unlock()
		go s.load(ctx, wt, params, callback)
		return
	}
	if wt == nil {
		s.mu.Unlock()
		callback(nil, nil)
		return
	}
	if wt.status == statusParsing {
		wt.queue(params, callback)
		s.mu.Unlock()
		return
	}
	wt.apply(params)
	wt.status = statusParsing
	s.mu.Unlock()

	go s.parse(wt, callback)
}

// UpdateConfig applies a style change to the layer index. Tiles pick it up on
// their next parse, and a parse in flight starts over.
func (s *VectorTileWorkerSource) UpdateConfig(configs []style.LayerConfig, removedIDs []string) error {
	return s.layerIndex.Update(configs, removedIDs)
}

// AbortTile acknowledges an abort. Work in flight runs to completion.
func (s *VectorTileWorkerSource) AbortTile(params TileParams) {
	s.opts.log.WithField("uid", params.UID).Debug("Abort requested, in-flight work continues")
}

// RemoveTile forgets a tile. Queued reloads are answered with no result.
// Removing an unknown tile is a no-op.
func (s *VectorTileWorkerSource) RemoveTile(params TileParams) {
	s.mu.Lock()
	var pending *pendingReload
	if wt := s.loaded.remove(params.UID); wt != nil {
		pending = wt.takePending()
	}
	s.mu.Unlock()

	pending.resolve(nil, nil)
}

// Loaded reports whether a tile with uid is tracked.
func (s *VectorTileWorkerSource) Loaded(uid UID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded.get(uid) != nil
}

// clearLoaded drops every tile, answering their queued reloads with no result.
func (s *VectorTileWorkerSource) clearLoaded() {
	s.mu.Lock()
	tiles := s.loaded.clear()
	pending := make([]*pendingReload, 0, len(tiles))
	for _, wt := range tiles {
		pending = append(pending, wt.takePending())
	}
	s.mu.Unlock()

	for _, p := range pending {
		p.resolve(nil, nil)
	}
}

// Stats returns the current counters.
func (s *VectorTileWorkerSource) Stats() Stats {
	s.mu.Lock()
	n := s.loaded.len()
	s.mu.Unlock()
	return Stats{
		Loaded:   n,
		Parses:   s.parses.Load(),
		Replays:  s.replays.Load(),
		Restyles: s.restyles.Load(),
	}
}
