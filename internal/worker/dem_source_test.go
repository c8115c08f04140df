package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"tileworker/internal/dem"
)

type demOutcome struct {
	data *dem.Data
	err  error
}

func TestRasterDEMTileWorkerSource(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{128, 100, 0, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	src := NewRasterDEMTileWorkerSource(WithLogger(quietLogger()))
	ch := make(chan demOutcome, 1)
	cb := func(d *dem.Data, err error) { ch <- demOutcome{d, err} }

	src.LoadTile(context.Background(), DEMParams{UID: 5, RawImageData: buf.Bytes(), Encoding: "terrarium"}, cb)
	o := <-ch
	if o.err != nil {
		t.Fatal(o.err)
	}
	if o.data.Dim != 4 || o.data.Get(0, 0) != 100 {
		t.Errorf("dim %d, elevation %v, want 4, 100", o.data.Dim, o.data.Get(0, 0))
	}
	if src.Tile(5) != o.data {
		t.Error("decoded tile not stored")
	}

	src.RemoveTile(DEMParams{UID: 5})
	src.RemoveTile(DEMParams{UID: 5})
	if src.Tile(5) != nil {
		t.Error("tile still stored after remove")
	}

	src.LoadTile(context.Background(), DEMParams{UID: 6, RawImageData: []byte("garbage")}, cb)
	o = <-ch
	var de DecodeError
	if !errors.As(o.err, &de) || de.UID != 6 {
		t.Errorf("err = %v, want DecodeError for uid 6", o.err)
	}

	src.LoadTile(context.Background(), DEMParams{UID: 7, RawImageData: buf.Bytes(), Encoding: "lerc"}, cb)
	if o := <-ch; o.err == nil {
		t.Error("expected an error for an unknown encoding")
	}
}

func TestRasterDEMRemoveDuringDecode(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1024, 1024))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	src := NewRasterDEMTileWorkerSource(WithLogger(quietLogger()))
	release := make(chan struct{})
	src.decode = func(p DEMParams) (*dem.Data, error) {
		<-release
		return decodeDEM(p)
	}
	ch := make(chan demOutcome, 2)
	cb := func(d *dem.Data, err error) { ch <- demOutcome{d, err} }

	params := DEMParams{UID: 9, RawImageData: buf.Bytes()}
	src.LoadTile(context.Background(), params, cb)
	if src.Tile(9) != nil {
		t.Error("tile visible before its decode finished")
	}
	src.RemoveTile(params)
	close(release)

	select {
	case o := <-ch:
		if o.err != nil || o.data == nil || o.data.Dim != 1024 {
			t.Fatalf("callback = %+v", o)
		}
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the DEM callback")
	}
	if src.Tile(9) != nil {
		t.Error("tile 9 stored after RemoveTile")
	}

	// a newer load of the same uid wins over an older one still decoding
	gate := make(chan struct{})
	src.decode = func(p DEMParams) (*dem.Data, error) {
		if p.Encoding == "" {
			<-gate
		}
		return decodeDEM(p)
	}
	src.LoadTile(context.Background(), DEMParams{UID: 10, RawImageData: buf.Bytes()}, cb)
	src.LoadTile(context.Background(), DEMParams{UID: 10, RawImageData: buf.Bytes(), Encoding: "terrarium"}, cb)
	newer := <-ch
	close(gate)
	<-ch
	if newer.err != nil || src.Tile(10) != newer.data {
		t.Errorf("stored tile is not the newer load: %+v", newer)
	}
}
