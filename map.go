package main

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"

	"tileworker/internal/worker"
)

// TileMap 瓦片地图类型
type TileMap struct {
	Name   string
	Min    int
	Max    int
	Format string
	URL    string
	Token  string
}

// GetTileURL 获取瓦片URL, 支持 {z} {x} {y} {-y} 与 {token}
func (m *TileMap) GetTileURL(t maptile.Tile) string {
	flipped := (uint32(1) << uint32(t.Z)) - t.Y - 1
	r := strings.NewReplacer(
		"{x}", strconv.Itoa(int(t.X)),
		"{-y}", strconv.Itoa(int(flipped)),
		"{y}", strconv.Itoa(int(t.Y)),
		"{z}", strconv.Itoa(int(t.Z)),
		"{token}", m.Token,
	)
	return r.Replace(m.URL)
}

// Request 瓦片请求, 未配置地址时返回 nil
func (m *TileMap) Request(t maptile.Tile) *worker.Request {
	if m.URL == "" {
		return nil
	}
	return &worker.Request{URL: m.GetTileURL(t)}
}
