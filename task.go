package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"tileworker/internal/style"
	"tileworker/internal/worker"
)

// State 任务状态
type State int32

const (
	Initialize State = iota
	Running
	Aborting
	Terminated
)

func (s State) String() string {
	switch s {
	case Initialize:
		return "initialize"
	case Running:
		return "running"
	case Aborting:
		return "aborting"
	}
	return "terminated"
}

func InitTask() {
	start := time.Now()
	ctx := SafeExitInst.Context()

	task, err := buildTask(ctx, conf, log)
	if err != nil {
		log.WithError(err).Fatal("任务创建失败")
	}
	// 注册安全退出
	SafeExitInst.Register(task.Close)
	if conf.Task.DryRun {
		for _, layer := range task.Layers {
			log.Infof("zoom %d: %d tiles", layer.Zoom, layer.Count)
		}
		log.Infof("task %s: %d tiles in total, dry run", task.Name, task.Total)
		SafeExitInst.Shutdown()
		return
	}

	if err := task.Download(ctx); err != nil {
		log.WithError(err).Error("任务未完成")
	}
	SafeExitInst.Shutdown()

	log.Infof("%.3fs finished, %d tiles saved, %d empty, %d failed",
		time.Since(start).Seconds(), task.saved.Load(), task.empty.Load(), task.failed.Load())
}

// Task 瓦片任务
type Task struct {
	ID        string
	Name      string
	File      string
	Min       int
	Max       int
	Layers    []Layer
	TileMap   TileMap
	Total     int64
	Processor tileProcessor
	Store     tileStore
	Breaks    *BreakPoint

	log         logrus.FieldLogger
	state       atomic.Int32
	workerCount int
	timeDelay   time.Duration
	showBar     bool
	tileWG      sync.WaitGroup
	workers     chan struct{}
	nextUID     atomic.Uint64

	saved, empty, failed atomic.Int64
	closeOnce            sync.Once
}

// NewTask 创建任务
func NewTask(layers []Layer, m TileMap, p tileProcessor, store tileStore, workers int, log logrus.FieldLogger) (*Task, error) {
	if len(layers) == 0 {
		return nil, errors.New("empty layer")
	}
	if workers < 1 {
		workers = 1
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}
	task := &Task{
		ID:          id,
		Name:        m.Name,
		Layers:      layers,
		Min:         m.Min,
		Max:         m.Max,
		TileMap:     m,
		Processor:   p,
		Store:       store,
		log:         log.WithField("task", id),
		workerCount: workers,
		workers:     make(chan struct{}, workers),
	}
	for _, layer := range layers {
		task.Total += layer.Count
	}
	return task, nil
}

// Bound 范围
func (task *Task) Bound() orb.Bound {
	var bound orb.Bound
	first := true
	for _, layer := range task.Layers {
		for _, g := range layer.Collection {
			if first {
				bound, first = g.Bound(), false
				continue
			}
			bound = bound.Union(g.Bound())
		}
	}
	return bound
}

// MetaItems MBTiles 元数据
func (task *Task) MetaItems() map[string]string {
	b := task.Bound()
	c := b.Center()
	return map[string]string{
		"id":      uuid.New().String(),
		"name":    task.Name,
		"format":  task.TileMap.Format,
		"type":    "overlay",
		"version": MBTileVersion,
		"bounds":  fmt.Sprintf(`%f,%f,%f,%f`, b.Min[0], b.Min[1], b.Max[0], b.Max[1]),
		"center":  fmt.Sprintf(`%f,%f,%d`, c[0], c[1], (task.Min+task.Max)/2),
		"minzoom": strconv.Itoa(task.Min),
		"maxzoom": strconv.Itoa(task.Max),
	}
}

func (task *Task) State() State { return State(task.state.Load()) }

// Download 按级别处理所有瓦片, ctx 取消时停止派发
func (task *Task) Download(ctx context.Context) error {
	task.state.Store(int32(Running))
	defer task.state.Store(int32(Terminated))

	for _, layer := range task.Layers {
		if err := task.downloadLayer(ctx, layer); err != nil {
			return err
		}
	}
	return nil
}

func (task *Task) downloadLayer(ctx context.Context, layer Layer) error {
	task.log.Infof("zoom %d starting, %d tiles", layer.Zoom, layer.Count)
	var bar *pb.ProgressBar
	if task.showBar {
		bar = pb.New64(layer.Count).Prefix(fmt.Sprintf("Zoom %d : ", layer.Zoom)).Postfix("\n")
		bar.SetRefreshRate(time.Second)
		bar.Start()
	}
	increment := func() {
		if bar != nil {
			bar.Increment()
		}
	}

	var err error
	for _, tile := range layer.Tiles {
		// 如果已经在成功列表里
		if task.Breaks != nil && task.Breaks.IsSuccessed(tile) {
			task.log.Debugf("tile %v already done, skipped", tile)
			increment()
			continue
		}
		if err = task.acquire(ctx); err != nil {
			task.state.Store(int32(Aborting))
			task.log.Infof("Task %s got canceled.", task.Name)
			break
		}
		increment()
		if task.timeDelay > 0 {
			time.Sleep(task.timeDelay)
		}
		task.tileWG.Add(1)
		go task.processTile(ctx, tile)
	}
	//等待该层结束
	task.tileWG.Wait()
	if bar != nil {
		bar.FinishPrint(fmt.Sprintf("Task %s Zoom %d finished ~", task.ID, layer.Zoom))
	}
	return err
}

// acquire 占用一个 worker, ctx 取消时返回错误
func (task *Task) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case task.workers <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processTile 加载、解析并保存一个瓦片
func (task *Task) processTile(ctx context.Context, mt maptile.Tile) {
	start := time.Now()
	defer func() {
		task.tileWG.Done()
		<-task.workers
	}()

	uid := worker.UID(task.nextUID.Add(1))
	data, err := task.Processor.Process(ctx, uid, mt)
	if err != nil {
		task.failed.Add(1)
		task.log.WithField("tile", mt).WithError(err).Warn("tile failed")
		return
	}
	if len(data) == 0 {
		task.empty.Add(1)
		task.log.Debugf("nil tile %v ~", mt)
		return
	}
	if task.TileMap.Format == PBF {
		if data, err = gzipBytes(data); err != nil {
			task.failed.Add(1)
			task.log.WithField("tile", mt).WithError(err).Error("gzip tile failed")
			return
		}
	}
	if err := task.Store.Save(Tile{T: mt, C: data}); err != nil {
		task.failed.Add(1)
		task.log.WithField("tile", mt).WithError(err).Error("save tile failed")
		return
	}
	task.saved.Add(1)
	if task.Breaks != nil {
		task.Breaks.SetSuccessed(mt)
	}
	task.log.Debugf("tile(z:%d, x:%d, y:%d), %dms , %.2f kb",
		mt.Z, mt.X, mt.Y, time.Since(start).Milliseconds(), float32(len(data))/1024.0)
}

// Close 关闭存储, 可重复调用
func (task *Task) Close() {
	task.closeOnce.Do(func() {
		if task.Store != nil {
			if err := task.Store.Close(); err != nil {
				task.log.WithError(err).Error("close store failed")
			}
		}
		if c, ok := task.Processor.(interface{ Close() error }); ok {
			c.Close()
		}
	})
}

// buildTask 根据配置组装数据源、覆盖范围与存储
func buildTask(ctx context.Context, c *Conf, log *logrus.Logger) (*Task, error) {
	layerIndex, err := loadStyle(c.Style.Layers)
	if err != nil {
		return nil, err
	}

	tm := TileMap{
		Name:   c.Tm.Name,
		Min:    c.Tm.Min,
		Max:    c.Tm.Max,
		Format: c.Tm.Format,
		URL:    c.Tm.URL,
	}
	fetchers := routeFetcher{
		"http":  newHTTPFetcher(c.Task.Workers),
		"https": newHTTPFetcher(c.Task.Workers),
		"file":  fileFetcher{},
	}
	var mbt *mbtilesFetcher
	if c.Source.MBTiles != "" {
		if mbt, err = openMBTilesFetcher(c.Source.MBTiles); err != nil {
			return nil, err
		}
		fetchers["mbtiles"] = mbt
		if tm.URL == "" {
			tm.URL = "mbtiles://{z}/{x}/{y}"
		}
	}
	opts := []worker.Option{worker.WithLogger(log), worker.WithFetcher(fetchers)}

	var (
		proc     tileProcessor
		coverage orb.Collection
	)
	switch c.Source.Type {
	case SourceGeoJSON:
		src := worker.NewGeoJSONWorkerSource(layerIndex, opts...)
		fc, err := loadGeoJSONSource(ctx, src, fetchers, c)
		if err != nil {
			return nil, err
		}
		coverage = fc
		proc = &vectorProcessor{src: src, source: c.Source.Name, showCollisionBoxes: c.Source.ShowCollisionBoxes, log: log}
	case SourceRasterDEM:
		proc = &demProcessor{src: worker.NewRasterDEMTileWorkerSource(opts...), fetcher: fetchers, tm: tm, source: c.Source.Name, encoding: c.Source.Encoding, log: log}
	default:
		src := worker.NewVectorTileWorkerSource(layerIndex, opts...)
		proc = &vectorProcessor{src: src, tm: tm, source: c.Source.Name, showCollisionBoxes: c.Source.ShowCollisionBoxes, log: log}
	}
	if mbt != nil {
		proc = closingProcessor{proc, mbt}
	}

	layers, err := coverLayers(c, coverage)
	if err != nil {
		return nil, err
	}
	task, err := NewTask(layers, tm, proc, nil, c.Task.Workers, log)
	if err != nil {
		return nil, err
	}
	task.timeDelay = time.Duration(c.Task.Timedelay) * time.Millisecond
	task.showBar = true
	if task.Breaks = BreakPointInst; task.Breaks == nil {
		log.Warn("break point disabled")
	}
	if c.Task.DryRun {
		return task, nil
	}
	if err := task.SetupStore(c); err != nil {
		return nil, err
	}
	return task, nil
}

// SetupStore 按输出类型打开存储
func (task *Task) SetupStore(c *Conf) error {
	outdir := c.Output.Directory
	switch c.Output.Format {
	case OutputFiles:
		task.File = filepath.Join(outdir, task.Name)
		task.Store = fileStore{dir: task.File, format: task.TileMap.Format}
		return os.MkdirAll(task.File, os.ModePerm)
	case OutputMySQL:
		s, err := openMySQLStore(c.Output.Conn, c.Task.BatchSize, task.MetaItems())
		if err != nil {
			return err
		}
		task.Store = s
		return nil
	}
	task.File = filepath.Join(outdir, fmt.Sprintf("%s.mbtiles", task.Name))
	s, err := openMBTilesStore(task.File, c.Task.BatchSize, task.MetaItems())
	if err != nil {
		return err
	}
	task.Store = s
	return nil
}

func loadStyle(path string) (*style.LayerIndex, error) {
	if path == "" {
		return style.NewLayerIndex(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	configs, err := style.ParseLayerConfigs(data)
	if err != nil {
		return nil, err
	}
	return style.NewLayerIndex(configs)
}

// coverLayers 计算每级覆盖的瓦片, GeoJSON 数据源默认覆盖自身要素
func coverLayers(c *Conf, own orb.Collection) ([]Layer, error) {
	type zoomRange struct {
		min, max   int
		collection orb.Collection
	}
	var ranges []zoomRange
	for _, lrs := range c.Lrs {
		col, err := loadCollection(lrs.Geojson)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, zoomRange{lrs.Min, lrs.Max, col})
	}
	if len(ranges) == 0 && own != nil {
		ranges = append(ranges, zoomRange{c.Tm.Min, c.Tm.Max, own})
	}

	var layers []Layer
	for _, r := range ranges {
		for z := r.min; z <= r.max; z++ {
			if z < 0 || z > ZoomMax {
				return nil, fmt.Errorf("zoom %d out of range", z)
			}
			tiles, err := coverTiles(r.collection, maptile.Zoom(z))
			if err != nil {
				return nil, err
			}
			layers = append(layers, Layer{
				Zoom:       z,
				Count:      int64(len(tiles)),
				Collection: r.collection,
				Tiles:      tiles,
			})
		}
	}
	return layers, nil
}
