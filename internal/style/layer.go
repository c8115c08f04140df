package style

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb/geojson"

	"tileworker/internal/filter"
)

// DefaultSourceLayer is the source layer of single layer sources such as GeoJSON.
const DefaultSourceLayer = "_geojsonTileLayer"

// Visibility values of the layout "visibility" property.
const (
	VisibilityVisible = "visible"
	VisibilityNone    = "none"
)

// LayerConfig is a style layer as it appears in a style document.
type LayerConfig struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source,omitempty"`
	SourceLayer string                 `json:"source-layer,omitempty"`
	MinZoom     *float64               `json:"minzoom,omitempty"`
	MaxZoom     *float64               `json:"maxzoom,omitempty"`
	Filter      interface{}            `json:"filter,omitempty"`
	Layout      map[string]interface{} `json:"layout,omitempty"`
	Paint       map[string]interface{} `json:"paint,omitempty"`
}

// ParseLayerConfigs decodes a JSON array of style layers.
func ParseLayerConfigs(data []byte) ([]LayerConfig, error) {
	var configs []LayerConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("decoding style layers: %w", err)
	}
	return configs, nil
}

// Layer is a style layer with its filter compiled.
type Layer struct {
	config LayerConfig
	filter filter.Filter
}

func newLayer(cfg LayerConfig) (*Layer, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("style layer without id")
	}
	f, err := filter.Compile(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", cfg.ID, err)
	}
	return &Layer{config: cfg, filter: f}, nil
}

func (l *Layer) ID() string                    { return l.config.ID }
func (l *Layer) Type() string                  { return l.config.Type }
func (l *Layer) Source() string                { return l.config.Source }
func (l *Layer) Config() LayerConfig           { return l.config }
func (l *Layer) Paint() map[string]interface{} { return l.config.Paint }

// SourceLayer returns the source layer, DefaultSourceLayer when unset.
func (l *Layer) SourceLayer() string {
	if l.config.SourceLayer == "" {
		return DefaultSourceLayer
	}
	return l.config.SourceLayer
}

// MinZoom returns 0 when the layer has no minzoom.
func (l *Layer) MinZoom() float64 {
	if l.config.MinZoom == nil {
		return 0
	}
	return *l.config.MinZoom
}

// MaxZoom returns +Inf when the layer has no maxzoom.
func (l *Layer) MaxZoom() float64 {
	if l.config.MaxZoom == nil {
		return math.Inf(1)
	}
	return *l.config.MaxZoom
}

func (l *Layer) Visibility() string {
	if v, ok := l.config.Layout["visibility"].(string); ok && v == VisibilityNone {
		return VisibilityNone
	}
	return VisibilityVisible
}

// IsHidden reports whether the layer produces nothing at zoom.
func (l *Layer) IsHidden(zoom float64) bool {
	if l.config.MinZoom != nil && zoom < math.Floor(*l.config.MinZoom) {
		return true
	}
	if l.config.MaxZoom != nil && zoom >= *l.config.MaxZoom {
		return true
	}
	return l.Visibility() == VisibilityNone
}

// Filter evaluates the compiled layer filter.
func (l *Layer) Filter(zoom float64, f *geojson.Feature) bool {
	return l.filter(zoom, f)
}
