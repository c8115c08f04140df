package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"tileworker/internal/dem"
	"tileworker/internal/worker"
)

// tileProcessor 处理单个瓦片, 返回待保存的数据, 空瓦片返回 nil
type tileProcessor interface {
	Process(ctx context.Context, uid worker.UID, t maptile.Tile) ([]byte, error)
}

type vectorWorker interface {
	LoadTile(ctx context.Context, params worker.TileParams, callback worker.TileCallback)
	RemoveTile(params worker.TileParams)
}

// vectorProcessor 通过矢量数据源加载并解析瓦片
type vectorProcessor struct {
	src                vectorWorker
	tm                 TileMap
	source             string
	showCollisionBoxes bool
	log                logrus.FieldLogger
}

func (p *vectorProcessor) Process(ctx context.Context, uid worker.UID, t maptile.Tile) ([]byte, error) {
	params := worker.TileParams{
		UID:                uid,
		Source:             p.source,
		TileID:             t,
		Request:            p.tm.Request(t),
		ShowCollisionBoxes: p.showCollisionBoxes,
	}
	type outcome struct {
		res *worker.TileResult
		err error
	}
	ch := make(chan outcome, 1)
	p.src.LoadTile(ctx, params, func(res *worker.TileResult, err error) { ch <- outcome{res, err} })
	defer p.src.RemoveTile(params)

	var o outcome
	select {
	case o = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if o.err != nil || o.res == nil {
		return nil, o.err
	}

	features := 0
	for _, b := range o.res.Buckets {
		features += len(b.Features)
	}
	p.log.WithFields(logrus.Fields{
		"tile":     t,
		"buckets":  len(o.res.Buckets),
		"features": features,
		"boxes":    len(o.res.CollisionBoxes),
	}).Debug("tile parsed")
	return o.res.RawTileData, nil
}

// demProcessor 获取并解码高程瓦片
type demProcessor struct {
	src      *worker.RasterDEMTileWorkerSource
	fetcher  worker.Fetcher
	tm       TileMap
	source   string
	encoding string
	log      logrus.FieldLogger
}

func (p *demProcessor) Process(ctx context.Context, uid worker.UID, t maptile.Tile) ([]byte, error) {
	req := p.tm.Request(t)
	if req == nil {
		return nil, errors.New("raster-dem source needs a tile url")
	}
	raw, err := p.fetcher.Fetch(ctx, *req)
	if err != nil || len(raw) == 0 {
		return nil, err
	}

	params := worker.DEMParams{UID: uid, Source: p.source, TileID: t, RawImageData: raw, Encoding: p.encoding}
	type outcome struct {
		data *dem.Data
		err  error
	}
	ch := make(chan outcome, 1)
	p.src.LoadTile(ctx, params, func(d *dem.Data, err error) { ch <- outcome{d, err} })
	defer p.src.RemoveTile(params)

	var o outcome
	select {
	case o = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if o.err != nil {
		return nil, o.err
	}
	lo, hi := o.data.MinMax()
	p.log.WithFields(logrus.Fields{"tile": t, "dim": o.data.Dim, "min": lo, "max": hi}).Debug("dem decoded")
	return raw, nil
}

// closingProcessor 任务结束时关闭数据源
type closingProcessor struct {
	tileProcessor
	io.Closer
}

// loadGeoJSONSource 读取 GeoJSON 并建立索引, 返回要素几何用于计算覆盖范围
func loadGeoJSONSource(ctx context.Context, src *worker.GeoJSONWorkerSource, fetcher worker.Fetcher, c *Conf) (orb.Collection, error) {
	if c.Source.GeoJSON == "" {
		return nil, errors.New("geojson source needs source.geojson")
	}
	data, err := fetcher.Fetch(ctx, worker.Request{URL: c.Source.GeoJSON})
	if err != nil {
		return nil, err
	}

	tiler, cluster := c.TilerOptions(), c.ClusterOptions()
	params := worker.LoadDataParams{
		Source:         c.Source.Name,
		Data:           data,
		Cluster:        c.Source.Cluster,
		TilerOptions:   &tiler,
		ClusterOptions: &cluster,
	}
	type outcome struct {
		res *worker.LoadDataResult
		err error
	}
	ch := make(chan outcome, 1)
	src.LoadData(ctx, params, func(res *worker.LoadDataResult, err error) { ch <- outcome{res, err} })

	var o outcome
	select {
	case o = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	src.Coalesce(worker.SourceParams{Source: c.Source.Name})
	if o.err != nil {
		return nil, o.err
	}
	if o.res.Abandoned {
		return nil, fmt.Errorf("loading %s was abandoned", c.Source.GeoJSON)
	}
	return geometriesOf(data), nil
}

// geometriesOf 提取 FeatureCollection、Feature 或几何对象中的几何
func geometriesOf(data []byte) orb.Collection {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		var c orb.Collection
		for _, f := range fc.Features {
			if f.Geometry != nil {
				c = append(c, f.Geometry)
			}
		}
		return c
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		return orb.Collection{f.Geometry}
	}
	if g, err := geojson.UnmarshalGeometry(data); err == nil && g.Geometry() != nil {
		return orb.Collection{g.Geometry()}
	}
	return nil
}
