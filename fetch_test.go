package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/maptile"

	"tileworker/internal/worker"
)

func TestGetTileURL(t *testing.T) {
	tm := TileMap{URL: "https://tiles.example.com/{z}/{x}/{y}.pbf?tms={-y}&access_token={token}", Token: "abc"}
	got := tm.GetTileURL(maptile.New(3, 1, 2))
	want := "https://tiles.example.com/2/3/1.pbf?tms=2&access_token=abc"
	if got != want {
		t.Errorf("GetTileURL = %q, want %q", got, want)
	}
	if req := (&TileMap{}).Request(maptile.New(0, 0, 0)); req != nil {
		t.Errorf("Request without url = %+v, want nil", req)
	}
}

func TestParseTilePath(t *testing.T) {
	z, x, y, err := parseTilePath("/3/5/6")
	if err != nil || z != 3 || x != 5 || y != 6 {
		t.Errorf("parseTilePath = %d, %d, %d, %v", z, x, y, err)
	}
	for _, p := range []string{"1/2", "a/b/c", "1/2/0", "25/0/0"} {
		if _, _, _, err := parseTilePath(p); err == nil {
			t.Errorf("parseTilePath(%q): expected an error", p)
		}
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tile":
			if r.Header.Get("X-Key") != "k" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte("tile"))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := newHTTPFetcher(2)
	ctx := context.Background()
	data, err := f.Fetch(ctx, worker.Request{URL: srv.URL + "/tile", Header: map[string]string{"X-Key": "k"}})
	if err != nil || string(data) != "tile" {
		t.Errorf("Fetch(/tile) = %q, %v", data, err)
	}
	if data, err := f.Fetch(ctx, worker.Request{URL: srv.URL + "/empty"}); err != nil || data != nil {
		t.Errorf("Fetch(/empty) = %q, %v, want nil, nil", data, err)
	}
	if _, err := f.Fetch(ctx, worker.Request{URL: srv.URL + "/broken"}); err == nil {
		t.Error("Fetch(/broken): expected an error")
	}
}

func TestRouteFetcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.geojson")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := routeFetcher{"file": fileFetcher{}}
	ctx := context.Background()
	for _, u := range []string{path, "file://" + path} {
		if data, err := r.Fetch(ctx, worker.Request{URL: u}); err != nil || string(data) != "{}" {
			t.Errorf("Fetch(%q) = %q, %v", u, data, err)
		}
	}
	if _, err := r.Fetch(ctx, worker.Request{URL: "ftp://example.com/x"}); err == nil {
		t.Error("expected an error for an unrouted scheme")
	}
}
