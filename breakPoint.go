package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb/maptile"
)

var BreakPointInst *BreakPoint

func InitBreakPoint() {
	bp, err := OpenBreakPoint(conf.BreakPoint.SaveFilePath, conf.Source.Name, conf.Task.BufSize)
	if err != nil {
		log.WithError(err).Fatal("break point file open is error")
	}
	BreakPointInst = bp
	SafeExitInst.Register(func() {
		if err := bp.Close(); err != nil {
			log.WithError(err).Error("断点记录关闭失败")
			return
		}
		log.Infof("断点记录任务已安全退出")
	})
	log.Infof("断点记录任务已开始, 已完成 %d 个瓦片", bp.Len())
}

// BreakPoint 记录已完成的瓦片，任务重启时跳过
type BreakPoint struct {
	file     *os.File
	saveChan chan maptile.Tile
	stopped  chan struct{}

	// closeMu 保护 isClose 与 saveChan 的关闭
	closeMu sync.RWMutex
	isClose bool

	mu         sync.RWMutex
	successMap map[string]struct{}
}

// OpenBreakPoint 打开 dir 下 name.log 并读入已有的断点
func OpenBreakPoint(dir, name string, buf int) (*BreakPoint, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.log", name))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	successMap, err := readBreakPoints(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	b := &BreakPoint{
		file:       file,
		saveChan:   make(chan maptile.Tile, buf),
		stopped:    make(chan struct{}),
		successMap: successMap,
	}
	go b.run()
	return b, nil
}

func readBreakPoints(file *os.File) (map[string]struct{}, error) {
	res := make(map[string]struct{})
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			res[line] = struct{}{}
		}
	}
	return res, sc.Err()
}

func breakPointKey(tile maptile.Tile) string {
	return fmt.Sprintf("%d-%d-%d", tile.X, tile.Y, tile.Z)
}

func (b *BreakPoint) IsSuccessed(tile maptile.Tile) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.successMap[breakPointKey(tile)]
	return ok
}

func (b *BreakPoint) SetSuccessed(tile maptile.Tile) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.isClose {
		return
	}
	b.saveChan <- tile
}

// Len 已完成的瓦片数
func (b *BreakPoint) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.successMap)
}

func (b *BreakPoint) run() {
	defer close(b.stopped)
	w := bufio.NewWriter(b.file)
	for tile := range b.saveChan {
		key := breakPointKey(tile)
		b.mu.Lock()
		b.successMap[key] = struct{}{}
		b.mu.Unlock()
		fmt.Fprintln(w, key)
		if len(b.saveChan) == 0 {
			w.Flush()
		}
	}
	w.Flush()
}

// Close 写完缓冲中的断点后关闭文件，可重复调用
func (b *BreakPoint) Close() error {
	b.closeMu.Lock()
	if b.isClose {
		b.closeMu.Unlock()
		return nil
	}
	b.isClose = true
	close(b.saveChan)
	b.closeMu.Unlock()

	<-b.stopped
	return b.file.Close()
}
