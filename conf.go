package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"tileworker/internal/tileindex"
)

var conf *Conf

// 数据源类型
const (
	SourceVector    = "vector"
	SourceGeoJSON   = "geojson"
	SourceRasterDEM = "raster-dem"
)

// 输出类型
const (
	OutputFiles   = "files"
	OutputMBTiles = "mbtiles"
	OutputMySQL   = "mysql"
)

type Conf struct {
	App struct {
		Version string `mapstructure:"version"`
		Title   string `mapstructure:"title"`
	} `mapstructure:"app"`
	Output struct {
		Format         string `mapstructure:"format"`
		Directory      string `mapstructure:"directory"`
		Conn           string `mapstructure:"conn"`
		LogDir         string `mapstructure:"logDir"`
		OutputTerminal bool   `mapstructure:"outputTerminal"`
	} `mapstructure:"output"`
	Task struct {
		Workers   int  `mapstructure:"workers"`
		Timedelay int  `mapstructure:"timedelay"`
		BufSize   int  `mapstructure:"bufSize"`
		BatchSize int  `mapstructure:"batchSize"`
		DryRun    bool `mapstructure:"dryRun"`
	} `mapstructure:"task"`
	BreakPoint struct {
		SaveFilePath string `mapstructure:"saveFilePath"`
	} `mapstructure:"breakPoint"`
	Tm struct {
		Name   string `mapstructure:"name"`
		Min    int    `mapstructure:"min"`
		Max    int    `mapstructure:"max"`
		Format string `mapstructure:"format"`
		URL    string `mapstructure:"url"`
	} `mapstructure:"tm"`
	Source struct {
		Type               string `mapstructure:"type"`
		Name               string `mapstructure:"name"`
		MBTiles            string `mapstructure:"mbtiles"`
		GeoJSON            string `mapstructure:"geojson"`
		Cluster            bool   `mapstructure:"cluster"`
		Encoding           string `mapstructure:"encoding"`
		ShowCollisionBoxes bool   `mapstructure:"showCollisionBoxes"`
		Tiler              struct {
			MaxZoom    uint32  `mapstructure:"maxZoom"`
			Tolerance  float64 `mapstructure:"tolerance"`
			Extent     uint32  `mapstructure:"extent"`
			Buffer     uint32  `mapstructure:"buffer"`
			GenerateID bool    `mapstructure:"generateId"`
		} `mapstructure:"tiler"`
		Clusters struct {
			MinZoom   int     `mapstructure:"minZoom"`
			MaxZoom   int     `mapstructure:"maxZoom"`
			MinPoints int     `mapstructure:"minPoints"`
			Radius    float64 `mapstructure:"radius"`
			Extent    uint32  `mapstructure:"extent"`
		} `mapstructure:"clusters"`
	} `mapstructure:"source"`
	Style struct {
		Layers string `mapstructure:"layers"`
	} `mapstructure:"style"`
	Lrs []struct {
		Min     int    `mapstructure:"min"`
		Max     int    `mapstructure:"max"`
		Geojson string `mapstructure:"geojson"`
	} `mapstructure:"lrs"`
}

// TilerOptions 切片参数
func (c *Conf) TilerOptions() tileindex.TilerOptions {
	t := c.Source.Tiler
	return tileindex.TilerOptions{
		MaxZoom:    t.MaxZoom,
		Tolerance:  t.Tolerance,
		Extent:     t.Extent,
		Buffer:     t.Buffer,
		GenerateID: t.GenerateID,
	}
}

// ClusterOptions 聚合参数
func (c *Conf) ClusterOptions() tileindex.ClusterOptions {
	cl := c.Source.Clusters
	return tileindex.ClusterOptions{
		MinZoom:   cl.MinZoom,
		MaxZoom:   cl.MaxZoom,
		MinPoints: cl.MinPoints,
		Radius:    cl.Radius,
		Extent:    cl.Extent,
	}
}

// InitConf 初始化配置
func InitConf(cfgFile string) {
	c, err := loadConf(cfgFile)
	if err == nil {
		err = applyFlags(c)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	conf = c
}

func loadConf(cfgFile string) (*Conf, error) {
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file(%s) not exist", cfgFile)
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(cfgFile)
	v.AutomaticEnv() // read in environment variables that match
	if err := v.ReadInConfig(); err != nil {
		logrus.Warnf("read config file(%s) error, details: %s", v.ConfigFileUsed(), err)
	}
	// 设置默认值
	v.SetDefault("app.version", "v 0.2.0")
	v.SetDefault("app.title", "MapCloud Tile Worker")
	v.SetDefault("output.format", OutputMBTiles)
	v.SetDefault("output.directory", "output")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("task.workers", 4)
	v.SetDefault("task.timedelay", 0)
	v.SetDefault("task.bufSize", 64)
	v.SetDefault("task.batchSize", 256)
	v.SetDefault("breakPoint.saveFilePath", "breakpoint")
	v.SetDefault("source.type", SourceVector)
	v.SetDefault("source.name", "composite")
	v.SetDefault("source.encoding", "mapbox")

	d := tileindex.DefaultTilerOptions()
	v.SetDefault("source.tiler.maxZoom", d.MaxZoom)
	v.SetDefault("source.tiler.tolerance", d.Tolerance)
	v.SetDefault("source.tiler.extent", d.Extent)
	v.SetDefault("source.tiler.buffer", d.Buffer)
	cd := tileindex.DefaultClusterOptions()
	v.SetDefault("source.clusters.minZoom", cd.MinZoom)
	v.SetDefault("source.clusters.maxZoom", cd.MaxZoom)
	v.SetDefault("source.clusters.minPoints", cd.MinPoints)
	v.SetDefault("source.clusters.radius", cd.Radius)
	v.SetDefault("source.clusters.extent", cd.Extent)

	var c Conf
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("配置文件解析失败: %w", err)
	}
	switch c.Source.Type {
	case SourceVector, SourceGeoJSON, SourceRasterDEM:
	default:
		return nil, fmt.Errorf("unknown source type %q", c.Source.Type)
	}
	switch c.Output.Format {
	case OutputFiles, OutputMBTiles, OutputMySQL:
	default:
		return nil, fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	return &c, nil
}
