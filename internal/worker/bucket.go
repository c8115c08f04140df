package worker

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"tileworker/internal/filter"
	"tileworker/internal/style"
)

// BucketFeature is a source feature admitted to a bucket. Geometry is in tile coordinates.
type BucketFeature struct {
	// Index is the position of the feature in its source layer.
	Index      int
	ID         interface{}
	Type       string
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// Bucket holds the renderable features of one layer family.
type Bucket struct {
	Index            int
	LayerIDs         []string
	Type             string
	SourceLayer      string
	SourceLayerIndex int
	Zoom             float64
	Extent           uint32
	Features         []BucketFeature
}

func newBucket(index int, family []*style.Layer, sourceLayer string, sourceLayerIndex int, zoom float64, extent uint32) *Bucket {
	ids := make([]string, len(family))
	for i, l := range family {
		ids[i] = l.ID()
	}
	return &Bucket{
		Index:            index,
		LayerIDs:         ids,
		Type:             family[0].Type(),
		SourceLayer:      sourceLayer,
		SourceLayerIndex: sourceLayerIndex,
		Zoom:             zoom,
		Extent:           extent,
	}
}

// populate admits the features that pass the family filter and whose geometry
// the layer type can draw.
func (b *Bucket) populate(features []*geojson.Feature, leader *style.Layer) {
	for i, f := range features {
		if f.Geometry == nil {
			continue
		}
		typ := filter.GeometryType(f.Geometry)
		if !accepts(b.Type, typ) || !leader.Filter(b.Zoom, f) {
			continue
		}
		b.Features = append(b.Features, BucketFeature{
			Index:      i,
			ID:         f.ID,
			Type:       typ,
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
}

func (b *Bucket) isEmpty() bool { return len(b.Features) == 0 }

func accepts(layerType, geomType string) bool {
	switch layerType {
	case "fill", "fill-extrusion":
		return geomType == "Polygon"
	case "line":
		return geomType == "LineString" || geomType == "Polygon"
	}
	return geomType != "Unknown"
}

// collisionBoxes returns the debug boxes of point placed features.
func (b *Bucket) collisionBoxes() []CollisionBox {
	if b.Type != "symbol" && b.Type != "circle" {
		return nil
	}
	var boxes []CollisionBox
	for _, f := range b.Features {
		bound := f.Geometry.Bound()
		for _, id := range b.LayerIDs {
			boxes = append(boxes, CollisionBox{
				LayerID:      id,
				FeatureIndex: f.Index,
				MinX:         bound.Min[0],
				MinY:         bound.Min[1],
				MaxX:         bound.Max[0],
				MaxY:         bound.Max[1],
			})
		}
	}
	return boxes
}
