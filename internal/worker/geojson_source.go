package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"tileworker/internal/style"
	"tileworker/internal/tileindex"
)

type pendingLoad struct {
	ctx      context.Context
	params   LoadDataParams
	callback LoadDataCallback
}

// GeoJSONWorkerSource serves tiles cut from a GeoJSON dataset. Tiles are
// synthesized from a spatial index and then parsed like any vector tile.
//
// Dataset loads are coalesced: while one load is outstanding, further LoadData
// calls replace each other and every replaced request is answered with
// Abandoned. The caller acknowledges a finished load with Coalesce, which
// starts the newest queued request, if any.
type GeoJSONWorkerSource struct {
	*VectorTileWorkerSource

	log     logrus.FieldLogger
	fetcher Fetcher

	dataMu  sync.Mutex
	state   coalesceState
	pending *pendingLoad

	indexMu sync.RWMutex
	index   tileindex.Index
}

// NewGeoJSONWorkerSource returns a source with no data. Tiles load as empty
// until LoadData succeeds.
func NewGeoJSONWorkerSource(layerIndex *style.LayerIndex, opts ...Option) *GeoJSONWorkerSource {
	o := newOptions(opts)
	g := &GeoJSONWorkerSource{
		log:     o.log,
		fetcher: o.fetcher,
	}
	g.VectorTileWorkerSource = newVectorTileWorkerSource(layerIndex, TileDecoderFunc(g.loadVectorData), o)
	return g
}

// LoadData replaces the dataset. callback is called exactly once, with Abandoned
// set if a newer LoadData or RemoveSource superseded this request. On failure
// the previous dataset stays in place.
func (g *GeoJSONWorkerSource) LoadData(ctx context.Context, params LoadDataParams, callback LoadDataCallback) {
	g.dataMu.Lock()
	prev := g.pending
	g.pending = &pendingLoad{ctx: ctx, params: params, callback: callback}
	var action coalesceAction
	g.state, action = transition(g.state, eventLoadData)
	g.dataMu.Unlock()

	if prev != nil {
		prev.callback(&LoadDataResult{Abandoned: true}, nil)
	}
	if action == actionStartLoad {
		g.startLoad()
	}
}

// Coalesce acknowledges a finished load and starts the next queued one.
func (g *GeoJSONWorkerSource) Coalesce(params SourceParams) {
	g.dataMu.Lock()
	var action coalesceAction
	g.state, action = transition(g.state, eventCoalesce)
	g.dataMu.Unlock()

	if action == actionStartLoad {
		g.startLoad()
	}
}

// RemoveSource answers any queued LoadData with Abandoned.
func (g *GeoJSONWorkerSource) RemoveSource(params SourceParams) {
	g.dataMu.Lock()
	p := g.pending
	g.pending = nil
	g.dataMu.Unlock()

	if p != nil {
		p.callback(&LoadDataResult{Abandoned: true}, nil)
	}
}

func (g *GeoJSONWorkerSource) startLoad() {
	g.dataMu.Lock()
	p := g.pending
	g.pending = nil
	if p == nil {
		// the queued request was removed, nothing will call Coalesce
		g.state = stateIdle
	}
	g.dataMu.Unlock()

	if p == nil {
		return
	}
	go func() {
		res, err := g.loadAndIndex(p.ctx, p.params)
		if err != nil {
			g.log.WithField("source", p.params.Source).WithError(err).Error("GeoJSON load failed")
		}
		p.callback(res, err)
	}()
}

func (g *GeoJSONWorkerSource) loadAndIndex(ctx context.Context, params LoadDataParams) (*LoadDataResult, error) {
	start := time.Now()
	data, err := g.loadGeoJSON(ctx, params)
	if err != nil {
		return nil, err
	}
	fetched := time.Since(start)

	fc, err := parseGeoJSON(data)
	if err != nil {
		return nil, InputError{Source: params.Source, Err: err}
	}
	tileindex.Rewind(fc, true)

	idx, err := buildIndex(fc, params)
	if err != nil {
		return nil, IndexError{Source: params.Source, Err: err}
	}

	g.indexMu.Lock()
	g.index = idx
	g.indexMu.Unlock()
	g.clearLoaded()

	g.log.WithFields(logrus.Fields{
		"source":   params.Source,
		"features": len(fc.Features),
		"cluster":  params.Cluster,
	}).Debug("GeoJSON indexed")

	res := &LoadDataResult{FeatureCount: len(fc.Features)}
	if params.CollectResourceTiming {
		res.ResourceTiming = &Timing{Fetch: fetched, Parse: time.Since(start) - fetched}
	}
	return res, nil
}

func (g *GeoJSONWorkerSource) loadGeoJSON(ctx context.Context, params LoadDataParams) ([]byte, error) {
	if params.Data != nil {
		return params.Data, nil
	}
	if params.URL == "" {
		return nil, InputError{Source: params.Source, Err: errors.New("neither data nor url given")}
	}
	if g.fetcher == nil {
		return nil, ErrNoFetcher
	}
	return g.fetcher.Fetch(ctx, Request{URL: params.URL})
}

// parseGeoJSON accepts a FeatureCollection, a Feature or a bare geometry and
// always returns a collection.
func parseGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "FeatureCollection":
		return geojson.UnmarshalFeatureCollection(data)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return geojson.NewFeatureCollection().Append(f), nil
	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return geojson.NewFeatureCollection().Append(geojson.NewFeature(geom.Geometry())), nil
	}
	return nil, fmt.Errorf("unknown GeoJSON type %q", head.Type)
}

func buildIndex(fc *geojson.FeatureCollection, params LoadDataParams) (tileindex.Index, error) {
	if params.Cluster {
		opts := tileindex.DefaultClusterOptions()
		if params.ClusterOptions != nil {
			opts = *params.ClusterOptions
		}
		return tileindex.NewCluster(fc, opts)
	}
	opts := tileindex.DefaultTilerOptions()
	if params.TilerOptions != nil {
		opts = *params.TilerOptions
	}
	return tileindex.NewTiler(fc, opts)
}

func (g *GeoJSONWorkerSource) currentIndex() tileindex.Index {
	g.indexMu.RLock()
	defer g.indexMu.RUnlock()
	return g.index
}

// loadVectorData cuts the requested tile out of the index and wraps it as a
// single layer vector tile.
func (g *GeoJSONWorkerSource) loadVectorData(ctx context.Context, params TileParams) (*DecodedTile, error) {
	idx := g.currentIndex()
	if idx == nil {
		return nil, nil
	}
	t := params.TileID
	tile := idx.Tile(uint32(t.Z), t.X, t.Y)
	if tile == nil {
		return nil, nil
	}

	features := make([]*geojson.Feature, len(tile.Features))
	for i, f := range tile.Features {
		features[i] = &geojson.Feature{
			ID:         f.ID,
			Type:       f.Type,
			Geometry:   f.Geometry,
			Properties: flattenProperties(f.Properties),
		}
	}
	layers := mvt.Layers{&mvt.Layer{
		Name:     style.DefaultSourceLayer,
		Version:  2,
		Extent:   tile.Extent,
		Features: features,
	}}
	raw, err := mvt.Marshal(layers)
	if err != nil {
		return nil, DecodeError{UID: params.UID, Err: err}
	}
	return &DecodedTile{Layers: layers, RawData: raw}, nil
}

// flattenProperties drops null values and encodes nested values as JSON text,
// since vector tile values are scalars.
func flattenProperties(props geojson.Properties) geojson.Properties {
	out := make(geojson.Properties, len(props))
	for k, v := range props {
		switch v.(type) {
		case nil:
			continue
		case map[string]interface{}, []interface{}:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[k] = string(b)
		default:
			out[k] = v
		}
	}
	return out
}

// ReloadTile reloads a tracked tile, or loads it afresh when a dataset change
// dropped it.
func (g *GeoJSONWorkerSource) ReloadTile(ctx context.Context, params TileParams, callback TileCallback) {
	g.reload(ctx, params, callback, true)
}

func (g *GeoJSONWorkerSource) cluster() (*tileindex.Cluster, error) {
	c, ok := g.currentIndex().(*tileindex.Cluster)
	if !ok {
		return nil, ErrNotClustered
	}
	return c, nil
}

// ClusterExpansionZoom returns the zoom at which a cluster splits.
func (g *GeoJSONWorkerSource) ClusterExpansionZoom(clusterID int) (int, error) {
	c, err := g.cluster()
	if err != nil {
		return 0, err
	}
	return c.ExpansionZoom(clusterID)
}

// ClusterChildren returns the direct children of a cluster.
func (g *GeoJSONWorkerSource) ClusterChildren(clusterID int) ([]*geojson.Feature, error) {
	c, err := g.cluster()
	if err != nil {
		return nil, err
	}
	return c.Children(clusterID)
}

// ClusterLeaves returns up to limit input points of a cluster after skipping offset.
func (g *GeoJSONWorkerSource) ClusterLeaves(clusterID, limit, offset int) ([]*geojson.Feature, error) {
	c, err := g.cluster()
	if err != nil {
		return nil, err
	}
	return c.Leaves(clusterID, limit, offset)
}
