package tileindex

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Rewind orients polygon rings in place. With clockwise set outer rings become
// clockwise and holes counter-clockwise, otherwise the other way round.
func Rewind(fc *geojson.FeatureCollection, clockwise bool) {
	for _, f := range fc.Features {
		if f != nil {
			rewindGeometry(f.Geometry, clockwise)
		}
	}
}

func rewindGeometry(g orb.Geometry, clockwise bool) {
	switch g := g.(type) {
	case orb.Polygon:
		rewindPolygon(g, clockwise)
	case orb.MultiPolygon:
		for _, p := range g {
			rewindPolygon(p, clockwise)
		}
	case orb.Collection:
		for _, sub := range g {
			rewindGeometry(sub, clockwise)
		}
	}
}

func rewindPolygon(p orb.Polygon, clockwise bool) {
	outer := orb.CCW
	if clockwise {
		outer = orb.CW
	}
	for i, r := range p {
		want := outer
		if i > 0 {
			want = -outer
		}
		if o := r.Orientation(); o != 0 && o != want {
			r.Reverse()
		}
	}
}
