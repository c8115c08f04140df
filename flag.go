package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	hf           bool
	dryRun       bool
	configPath   string
	logLevel     string
	outputFormat string
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.BoolVar(&dryRun, "n", false, "print the tiles per zoom and exit, nothing is stored")
	flag.StringVar(&configPath, "c", "./conf/conf.toml", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")
	flag.StringVar(&outputFormat, "o", "", "override output.format (files, mbtiles or mysql)")
	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}
}

// applyFlags 命令行参数覆盖配置文件
func applyFlags(c *Conf) error {
	if dryRun {
		c.Task.DryRun = true
	}
	if outputFormat == "" {
		return nil
	}
	switch outputFormat {
	case OutputFiles, OutputMBTiles, OutputMySQL:
		c.Output.Format = outputFormat
		return nil
	}
	return fmt.Errorf("unknown output format %q", outputFormat)
}

func usage() {
	fmt.Fprintf(os.Stderr, `tileworker version: tileworker/v0.2.0
Usage: tileworker [-h] [-n] [-c filename] [-l logLevel] [-o format]

Loads vector, GeoJSON or raster-dem tiles over the configured area,
parses them against the style layers and stores the tiles.
`)
	flag.PrintDefaults()
}
