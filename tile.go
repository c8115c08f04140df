package main

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ZoomMax 最大级别
const ZoomMax = 24

// Tile 自定义瓦片存储
type Tile struct {
	T maptile.Tile
	C []byte
}

// flipY TMS 行号, MBTiles 使用
func (tile Tile) flipY() uint32 {
	return (1 << uint32(tile.T.Z)) - tile.T.Y - 1
}

// Layer 级别&瓦片数
type Layer struct {
	Zoom       int
	Count      int64
	Collection orb.Collection
	Tiles      []maptile.Tile
}

// Constants representing TileFormat types
const (
	PNG  = "png"
	JPG  = "jpg"
	PBF  = "pbf"
	WEBP = "webp"
)

// isGzipped 判断数据是否已 gzip 压缩
func isGzipped(b []byte) bool {
	return len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}
