package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tileworker/internal/worker"
)

// httpFetcher 通过 HTTP 获取瓦片或数据
type httpFetcher struct {
	client *http.Client
}

func newHTTPFetcher(workers int) httpFetcher {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = workers
	tr.MaxConnsPerHost = workers
	tr.MaxIdleConns = workers
	tr.IdleConnTimeout = 5 * time.Second
	return httpFetcher{client: &http.Client{Transport: tr, Timeout: time.Minute}}
}

func (f httpFetcher) Fetch(ctx context.Context, req worker.Request) ([]byte, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		r.Header.Set(k, v)
	}
	resp, err := f.client.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		// 空瓦片
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch %s: status code %d", req.URL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// fileFetcher 读取本地文件, 支持 file:// 与普通路径
type fileFetcher struct{}

func (fileFetcher) Fetch(ctx context.Context, req worker.Request) ([]byte, error) {
	return os.ReadFile(strings.TrimPrefix(req.URL, "file://"))
}

// mbtilesFetcher 从 MBTiles 读取 mbtiles://{z}/{x}/{y}
type mbtilesFetcher struct {
	db *sql.DB
}

func openMBTilesFetcher(path string) (*mbtilesFetcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	return &mbtilesFetcher{db: db}, nil
}

func (f *mbtilesFetcher) Fetch(ctx context.Context, req worker.Request) ([]byte, error) {
	z, x, y, err := parseTilePath(strings.TrimPrefix(req.URL, "mbtiles://"))
	if err != nil {
		return nil, err
	}
	var data []byte
	row := f.db.QueryRowContext(ctx,
		"select tile_data from tiles where zoom_level = ? and tile_column = ? and tile_row = ?",
		z, x, (uint32(1)<<z)-y-1)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (f *mbtilesFetcher) Close() error { return f.db.Close() }

func parseTilePath(p string) (z, x, y uint32, err error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("tile path %q is not z/x/y", p)
	}
	var v [3]uint64
	for i, s := range parts {
		if v[i], err = strconv.ParseUint(s, 10, 32); err != nil {
			return 0, 0, 0, fmt.Errorf("tile path %q: %w", p, err)
		}
	}
	if v[0] > ZoomMax || v[1] >= 1<<v[0] || v[2] >= 1<<v[0] {
		return 0, 0, 0, fmt.Errorf("tile path %q out of range", p)
	}
	return uint32(v[0]), uint32(v[1]), uint32(v[2]), nil
}

// routeFetcher 按地址协议选择加载器
type routeFetcher map[string]worker.Fetcher

func (r routeFetcher) Fetch(ctx context.Context, req worker.Request) ([]byte, error) {
	scheme := "file"
	if u, err := url.Parse(req.URL); err == nil && len(u.Scheme) > 1 {
		scheme = u.Scheme
	}
	f, ok := r[scheme]
	if !ok {
		return nil, fmt.Errorf("no fetcher for %q", req.URL)
	}
	return f.Fetch(ctx, req)
}
