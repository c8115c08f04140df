package worker

import (
	"sort"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"tileworker/internal/style"
)

type tileStatus int

const (
	statusParsing tileStatus = iota
	statusDone
)

func (s tileStatus) String() string {
	if s == statusParsing {
		return "parsing"
	}
	return "done"
}

// pendingReload is the single queued reload of a tile. A newer reload replaces
// the params and adds its callback, so every caller hears back exactly once.
type pendingReload struct {
	params    TileParams
	callbacks []TileCallback
}

func (p *pendingReload) resolve(res *TileResult, err error) {
	if p == nil {
		return
	}
	for _, cb := range p.callbacks {
		cb(res, err)
	}
}

// WorkerTile is one loaded tile. Fields are guarded by the owning source's mutex.
type WorkerTile struct {
	uid                UID
	source             string
	tileID             maptile.Tile
	zoom               float64
	showCollisionBoxes bool
	collectTiming      bool

	status     tileStatus
	vectorTile mvt.Layers
	pending    *pendingReload
}

func newWorkerTile(params TileParams) *WorkerTile {
	wt := &WorkerTile{
		uid:    params.UID,
		source: params.Source,
		tileID: params.TileID,
		status: statusParsing,
	}
	wt.apply(params)
	return wt
}

func (wt *WorkerTile) apply(params TileParams) {
	wt.zoom = params.zoom()
	wt.showCollisionBoxes = params.ShowCollisionBoxes
	wt.collectTiming = params.CollectResourceTiming
}

func (wt *WorkerTile) queue(params TileParams, cb TileCallback) {
	if wt.pending == nil {
		wt.pending = &pendingReload{}
	}
	wt.pending.params = params
	wt.pending.callbacks = append(wt.pending.callbacks, cb)
}

func (wt *WorkerTile) takePending() *pendingReload {
	p := wt.pending
	wt.pending = nil
	return p
}

// parseInput is the snapshot of a tile a parse works from.
type parseInput struct {
	uid                UID
	source             string
	zoom               float64
	showCollisionBoxes bool
	layers             mvt.Layers
}

func (wt *WorkerTile) snapshot() parseInput {
	return parseInput{
		uid:                wt.uid,
		source:             wt.source,
		zoom:               wt.zoom,
		showCollisionBoxes: wt.showCollisionBoxes,
		layers:             wt.vectorTile,
	}
}

// parseTile builds one bucket per visible layer family with features.
func parseTile(in parseInput, families style.Families, log logrus.FieldLogger) *TileResult {
	sourceLayers := make([]string, 0, len(families))
	for id := range families {
		sourceLayers = append(sourceLayers, id)
	}
	sort.Strings(sourceLayers)

	positions := make(map[string]int, len(in.layers))
	for i, l := range in.layers {
		positions[l.Name] = i
	}

	res := &TileResult{Buckets: []*Bucket{}}
	index := 0
	for _, id := range sourceLayers {
		pos, ok := positions[id]
		if !ok {
			continue
		}
		layer := in.layers[pos]
		if layer.Version > 2 {
			log.WithFields(logrus.Fields{
				"source":       in.source,
				"source-layer": id,
				"version":      layer.Version,
			}).Warn("Vector tile source layer uses an unsupported version, skipped")
			continue
		}

		for _, family := range families[id] {
			leader := family[0]
			if leader.IsHidden(in.zoom) {
				continue
			}
			b := newBucket(index, family, id, pos, in.zoom, layer.Extent)
			index++
			b.populate(layer.Features, leader)
			if b.isEmpty() {
				continue
			}
			res.Buckets = append(res.Buckets, b)
			if in.showCollisionBoxes {
				res.CollisionBoxes = append(res.CollisionBoxes, b.collisionBoxes()...)
			}
		}
	}
	return res
}
