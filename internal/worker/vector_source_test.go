package worker

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tileworker/internal/style"
)

const testTimeout = 5 * time.Second

type outcome struct {
	res *TileResult
	err error
}

func collect(ch chan<- outcome) TileCallback {
	return func(res *TileResult, err error) { ch <- outcome{res, err} }
}

func waitFor(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for callback")
	}
	return outcome{}
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func layerIndex(t *testing.T, doc string) *style.LayerIndex {
	t.Helper()
	configs, err := style.ParseLayerConfigs([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := style.NewLayerIndex(configs)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

const roadStyle = `[
	{"id": "road", "type": "line", "source": "composite", "source-layer": "roads"},
	{"id": "road-casing", "type": "line", "source": "composite", "source-layer": "roads"},
	{"id": "water", "type": "fill", "source": "composite", "source-layer": "water"}
]`

func roadTile(t *testing.T) []byte {
	t.Helper()
	roads := geojson.NewFeature(orb.LineString{{10, 10}, {100, 100}})
	roads.Properties["class"] = "primary"
	water := geojson.NewFeature(orb.Polygon{{{0, 0}, {50, 0}, {50, 50}, {0, 50}, {0, 0}}})
	layers := mvt.Layers{
		{Name: "roads", Version: 2, Extent: 4096, Features: []*geojson.Feature{roads}},
		{Name: "water", Version: 2, Extent: 4096, Features: []*geojson.Feature{water}},
	}
	data, err := mvt.Marshal(layers)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// gatedDecoder decodes protobuf tiles once release is closed.
type gatedDecoder struct {
	release chan struct{}
}

func newGatedDecoder() *gatedDecoder {
	return &gatedDecoder{release: make(chan struct{})}
}

func (d *gatedDecoder) DecodeTile(ctx context.Context, params TileParams) (*DecodedTile, error) {
	<-d.release
	return protobufDecoder{}.DecodeTile(ctx, params)
}

func params(uid UID, data []byte) TileParams {
	return TileParams{UID: uid, Source: "composite", TileID: maptile.New(0, 0, 0), Data: data}
}

func TestLoadTile(t *testing.T) {
	data := roadTile(t)
	src := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithLogger(quietLogger()))

	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, data), collect(ch))
	o := waitFor(t, ch)
	if o.err != nil {
		t.Fatal(o.err)
	}
	if !bytes.Equal(o.res.RawTileData, data) {
		t.Error("RawTileData differs from the payload")
	}
	data[0] ^= 0xff
	if bytes.Equal(o.res.RawTileData, data) {
		t.Error("RawTileData shares memory with the payload")
	}

	if len(o.res.Buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(o.res.Buckets))
	}
	road := o.res.Buckets[0]
	if road.SourceLayer != "roads" || len(road.LayerIDs) != 2 || len(road.Features) != 1 {
		t.Errorf("road bucket = %+v", road)
	}
	if o.res.Buckets[1].SourceLayer != "water" || o.res.Buckets[1].Index != 1 {
		t.Errorf("water bucket = %+v", o.res.Buckets[1])
	}
	if !src.Loaded(1) {
		t.Error("tile 1 not tracked after load")
	}
}

func TestLoadTileGzipped(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(roadTile(t)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	src := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithLogger(quietLogger()))
	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, buf.Bytes()), collect(ch))
	o := waitFor(t, ch)
	if o.err != nil {
		t.Fatal(o.err)
	}
	if len(o.res.Buckets) != 2 {
		t.Errorf("buckets = %d, want 2", len(o.res.Buckets))
	}
}

func TestLoadTileEmpty(t *testing.T) {
	src := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithLogger(quietLogger()))
	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, []byte{}), collect(ch))
	o := waitFor(t, ch)
	if o.res != nil || o.err != nil {
		t.Errorf("got %+v, %v, want nil, nil", o.res, o.err)
	}
	if src.Loaded(1) {
		t.Error("empty tile still tracked")
	}
}

func TestLoadTileDecodeError(t *testing.T) {
	dec := newGatedDecoder()
	src := NewVectorTileWorkerSourceWithDecoder(layerIndex(t, roadStyle), dec, WithLogger(quietLogger()))

	loadCh := make(chan outcome, 1)
	reloadCh := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, []byte{0x1a, 0x7f, 0x01}), collect(loadCh))
	src.ReloadTile(context.Background(), params(1, nil), collect(reloadCh))
	close(dec.release)

	for _, ch := range []chan outcome{loadCh, reloadCh} {
		o := waitFor(t, ch)
		var de DecodeError
		if !errors.As(o.err, &de) || de.UID != 1 {
			t.Errorf("err = %v, want DecodeError for uid 1", o.err)
		}
	}
	if src.Loaded(1) {
		t.Error("failed tile still tracked")
	}
}

func TestLoadTileFetch(t *testing.T) {
	data := roadTile(t)
	f := fetcherFunc(func(ctx context.Context, req Request) ([]byte, error) {
		if req.URL != "mbtiles://0/0/0" {
			return nil, errors.New("unexpected url " + req.URL)
		}
		return data, nil
	})
	src := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithFetcher(f), WithLogger(quietLogger()))

	p := params(1, nil)
	p.Request = &Request{URL: "mbtiles://0/0/0"}
	p.CollectResourceTiming = true
	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), p, collect(ch))
	o := waitFor(t, ch)
	if o.err != nil {
		t.Fatal(o.err)
	}
	if len(o.res.Buckets) != 2 || o.res.ResourceTiming == nil {
		t.Errorf("got %d buckets, timing %v", len(o.res.Buckets), o.res.ResourceTiming)
	}

	bare := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithLogger(quietLogger()))
	bare.LoadTile(context.Background(), p, collect(ch))
	if o := waitFor(t, ch); !errors.Is(o.err, ErrNoFetcher) {
		t.Errorf("err = %v, want ErrNoFetcher", o.err)
	}
}

type fetcherFunc func(ctx context.Context, req Request) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, req Request) ([]byte, error) { return f(ctx, req) }

func TestReloadCollapses(t *testing.T) {
	const reloads = 5
	dec := newGatedDecoder()
	src := NewVectorTileWorkerSourceWithDecoder(layerIndex(t, roadStyle), dec, WithLogger(quietLogger()))

	ch := make(chan outcome, reloads+1)
	src.LoadTile(context.Background(), params(7, roadTile(t)), collect(ch))
	for i := 0; i < reloads; i++ {
		src.ReloadTile(context.Background(), params(7, nil), collect(ch))
	}
	close(dec.release)

	var reloaded int
	for i := 0; i < reloads+1; i++ {
		o := waitFor(t, ch)
		if o.err != nil || o.res == nil {
			t.Fatalf("callback %d: %+v, %v", i, o.res, o.err)
		}
		if o.res.RawTileData == nil && len(o.res.Buckets) != 2 {
			t.Errorf("reload result has %d buckets, want 2", len(o.res.Buckets))
		}
		if o.res.RawTileData == nil {
			reloaded++
		}
	}
	select {
	case o := <-ch:
		t.Fatalf("unexpected extra callback %+v", o)
	case <-time.After(50 * time.Millisecond):
	}

	stats := src.Stats()
	if stats.Parses != 2 || stats.Replays != 1 {
		t.Errorf("stats = %+v, want 2 parses and 1 replay", stats)
	}
	if reloaded != reloads {
		t.Errorf("%d reload callbacks, want %d", reloaded, reloads)
	}
}

func TestReloadWhenDone(t *testing.T) {
	src := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithLogger(quietLogger()))
	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, roadTile(t)), collect(ch))
	waitFor(t, ch)

	p := params(1, nil)
	p.ShowCollisionBoxes = true
	src.ReloadTile(context.Background(), p, collect(ch))
	o := waitFor(t, ch)
	if o.err != nil || o.res == nil {
		t.Fatalf("got %+v, %v", o.res, o.err)
	}
	if o.res.RawTileData != nil {
		t.Error("reload result carries raw tile data")
	}
	if src.Stats().Parses != 2 {
		t.Errorf("parses = %d, want 2", src.Stats().Parses)
	}
}

func TestReloadUnknownTile(t *testing.T) {
	src := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithLogger(quietLogger()))
	ch := make(chan outcome, 1)
	src.ReloadTile(context.Background(), params(42, nil), collect(ch))
	if o := waitFor(t, ch); o.res != nil || o.err != nil {
		t.Errorf("got %+v, %v, want nil, nil", o.res, o.err)
	}
}

func TestRemoveTile(t *testing.T) {
	dec := newGatedDecoder()
	src := NewVectorTileWorkerSourceWithDecoder(layerIndex(t, roadStyle), dec, WithLogger(quietLogger()))

	loadCh := make(chan outcome, 1)
	reloadCh := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(3, roadTile(t)), collect(loadCh))
	src.ReloadTile(context.Background(), params(3, nil), collect(reloadCh))

	src.RemoveTile(params(3, nil))
	if o := waitFor(t, reloadCh); o.res != nil || o.err != nil {
		t.Errorf("queued reload got %+v, %v, want nil, nil", o.res, o.err)
	}
	src.RemoveTile(params(3, nil))
	src.RemoveTile(params(99, nil))
	if src.Loaded(3) {
		t.Error("removed tile still tracked")
	}

	close(dec.release)
	if o := waitFor(t, loadCh); o.err != nil || o.res == nil {
		t.Errorf("in-flight load got %+v, %v", o.res, o.err)
	}
	if n := src.Stats().Loaded; n != 0 {
		t.Errorf("loaded = %d, want 0", n)
	}
}

func TestAbortTile(t *testing.T) {
	src := NewVectorTileWorkerSource(layerIndex(t, roadStyle), WithLogger(quietLogger()))
	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, roadTile(t)), collect(ch))
	src.AbortTile(params(1, nil))
	if o := waitFor(t, ch); o.err != nil || o.res == nil {
		t.Errorf("aborted load got %+v, %v, want it to finish", o.res, o.err)
	}
}

func TestParseTile(t *testing.T) {
	idx := layerIndex(t, `[
		{"id": "primary", "type": "line", "source": "s", "source-layer": "roads", "filter": ["==", "class", "primary"]},
		{"id": "late", "type": "line", "source": "s", "source-layer": "roads", "minzoom": 10},
		{"id": "area", "type": "fill", "source": "s", "source-layer": "roads"},
		{"id": "labels", "type": "symbol", "source": "s", "source-layer": "places"},
		{"id": "future", "type": "circle", "source": "s", "source-layer": "v3"}
	]`)

	primary := geojson.NewFeature(orb.LineString{{0, 0}, {10, 10}})
	primary.Properties["class"] = "primary"
	minor := geojson.NewFeature(orb.LineString{{0, 0}, {20, 20}})
	minor.Properties["class"] = "minor"
	place := geojson.NewFeature(orb.Point{5, 6})
	in := parseInput{
		source:             "s",
		zoom:               5,
		showCollisionBoxes: true,
		layers: mvt.Layers{
			{Name: "roads", Version: 2, Extent: 4096, Features: []*geojson.Feature{primary, minor}},
			{Name: "places", Version: 2, Extent: 4096, Features: []*geojson.Feature{place}},
			{Name: "v3", Version: 3, Extent: 4096, Features: []*geojson.Feature{place}},
		},
	}

	_, families := idx.Families("s")
	res := parseTile(in, families, quietLogger())

	var got []string
	for _, b := range res.Buckets {
		got = append(got, b.LayerIDs[0])
	}
	want := []string{"labels", "primary"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("bucket leaders = %v, want %v", got, want)
	}
	if n := len(res.Buckets[1].Features); n != 1 {
		t.Errorf("primary bucket has %d features, want 1", n)
	}
	if res.Buckets[0].SourceLayerIndex != 1 {
		t.Errorf("labels source layer index = %d, want 1", res.Buckets[0].SourceLayerIndex)
	}
	if len(res.CollisionBoxes) != 1 || res.CollisionBoxes[0].LayerID != "labels" {
		t.Errorf("collision boxes = %+v", res.CollisionBoxes)
	}

	in.zoom = 12
	in.showCollisionBoxes = false
	res = parseTile(in, families, quietLogger())
	if len(res.Buckets) != 3 || res.CollisionBoxes != nil {
		t.Errorf("at z12 got %d buckets, %d boxes, want 3, 0", len(res.Buckets), len(res.CollisionBoxes))
	}
}

func TestRestyleDuringParse(t *testing.T) {
	const roadsOnly = `[{"id": "road", "type": "line", "source": "composite", "source-layer": "roads"}]`
	water := style.LayerConfig{ID: "water", Type: "fill", Source: "composite", SourceLayer: "water"}

	src := NewVectorTileWorkerSource(layerIndex(t, roadsOnly), WithLogger(quietLogger()))
	passes := 0
	src.parsed = func() {
		passes++
		if passes == 1 {
			if err := src.UpdateConfig([]style.LayerConfig{water}, nil); err != nil {
				t.Error(err)
			}
		}
	}

	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, roadTile(t)), collect(ch))
	o := waitFor(t, ch)
	if o.err != nil {
		t.Fatal(o.err)
	}
	if st := src.Stats(); st.Restyles != 1 || st.Parses != 2 {
		t.Errorf("stats = %+v, want 1 restyle over 2 parses", st)
	}
	if len(o.res.Buckets) != 2 || o.res.Buckets[1].SourceLayer != "water" {
		t.Errorf("buckets = %+v, want the water family added mid-parse", o.res.Buckets)
	}
}

func TestRestyleBounded(t *testing.T) {
	const roadsOnly = `[{"id": "road", "type": "line", "source": "composite", "source-layer": "roads"}]`
	src := NewVectorTileWorkerSource(layerIndex(t, roadsOnly), WithLogger(quietLogger()), WithMaxRestyles(0))
	src.parsed = func() {
		// every pass sees a newer style
		if err := src.UpdateConfig(nil, []string{"missing"}); err != nil {
			t.Error(err)
		}
	}

	ch := make(chan outcome, 1)
	src.LoadTile(context.Background(), params(1, roadTile(t)), collect(ch))
	o := waitFor(t, ch)
	if o.err != nil || o.res == nil {
		t.Fatalf("load = %+v, %v", o.res, o.err)
	}
	if st := src.Stats(); st.Restyles != 0 || st.Parses != 1 {
		t.Errorf("stats = %+v, want a single parse", st)
	}
	if len(o.res.Buckets) != 1 {
		t.Errorf("buckets = %d, want the road family only", len(o.res.Buckets))
	}
}
