// Package style keeps the current set of style layers and groups them into the
// layer families that are parsed together.
package style

import (
	"sync"
)

// Families maps a source layer id to its ordered layer families.
type Families map[string][][]*Layer

// LayerIndex holds the style layers of one style and their families per source.
// Readers get immutable snapshots, so an update never tears an in-progress parse.
type LayerIndex struct {
	mu         sync.RWMutex
	order      []string
	configs    map[string]LayerConfig
	layers     map[string]*Layer
	bySource   map[string]Families
	generation uint64
}

// NewLayerIndex builds an index from configs.
func NewLayerIndex(configs []LayerConfig) (*LayerIndex, error) {
	idx := &LayerIndex{
		configs:  map[string]LayerConfig{},
		layers:   map[string]*Layer{},
		bySource: map[string]Families{},
	}
	if err := idx.Replace(configs); err != nil {
		return nil, err
	}
	return idx, nil
}

// Replace drops every layer and loads configs.
func (idx *LayerIndex) Replace(configs []LayerConfig) error {
	compiled, err := compile(configs)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.order = idx.order[:0]
	idx.configs = map[string]LayerConfig{}
	idx.layers = map[string]*Layer{}
	idx.apply(configs, compiled, nil)
	return nil
}

// Update adds or replaces configs and removes the layers named in removedIDs.
// When a config fails to compile nothing is changed.
func (idx *LayerIndex) Update(configs []LayerConfig, removedIDs []string) error {
	compiled, err := compile(configs)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.apply(configs, compiled, removedIDs)
	return nil
}

func compile(configs []LayerConfig) ([]*Layer, error) {
	compiled := make([]*Layer, len(configs))
	for i, cfg := range configs {
		l, err := newLayer(cfg)
		if err != nil {
			return nil, err
		}
		compiled[i] = l
	}
	return compiled, nil
}

// apply must be called with mu held.
func (idx *LayerIndex) apply(configs []LayerConfig, compiled []*Layer, removedIDs []string) {
	for i, cfg := range configs {
		if _, ok := idx.configs[cfg.ID]; !ok {
			idx.order = append(idx.order, cfg.ID)
		}
		idx.configs[cfg.ID] = cfg
		idx.layers[cfg.ID] = compiled[i]
	}

	if len(removedIDs) > 0 {
		removed := make(map[string]bool, len(removedIDs))
		for _, id := range removedIDs {
			removed[id] = true
			delete(idx.configs, id)
			delete(idx.layers, id)
		}
		kept := idx.order[:0]
		for _, id := range idx.order {
			if !removed[id] {
				kept = append(kept, id)
			}
		}
		idx.order = kept
	}

	ordered := make([]LayerConfig, 0, len(idx.order))
	for _, id := range idx.order {
		ordered = append(ordered, idx.configs[id])
	}

	bySource := map[string]Families{}
	for _, group := range GroupByLayout(ordered) {
		family := make([]*Layer, len(group))
		for i, cfg := range group {
			family[i] = idx.layers[cfg.ID]
		}
		first := family[0]
		if first.Visibility() == VisibilityNone {
			continue
		}
		src := bySource[first.Source()]
		if src == nil {
			src = Families{}
			bySource[first.Source()] = src
		}
		src[first.SourceLayer()] = append(src[first.SourceLayer()], family)
	}

	idx.bySource = bySource
	idx.generation++
}

// Families returns the families of source together with the generation they belong to.
// The returned value must not be modified.
func (idx *LayerIndex) Families(source string) (uint64, Families) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.generation, idx.bySource[source]
}

// FamiliesBySource returns every family of every source. The returned value must not be modified.
func (idx *LayerIndex) FamiliesBySource() map[string]Families {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.bySource
}

// Generation increases on every Replace or Update.
func (idx *LayerIndex) Generation() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.generation
}

// Layer returns the compiled layer with id.
func (idx *LayerIndex) Layer(id string) (*Layer, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	l, ok := idx.layers[id]
	return l, ok
}

// Len returns the number of layers, hidden ones included.
func (idx *LayerIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.order)
}
