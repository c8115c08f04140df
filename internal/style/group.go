package style

import "encoding/json"

// layoutKey serialises the properties that decide whether two layers can share a bucket.
// encoding/json sorts map keys so equal layouts always produce the same key.
func layoutKey(cfg LayerConfig) string {
	ref := map[string]interface{}{
		"type":         cfg.Type,
		"source":       cfg.Source,
		"source-layer": cfg.SourceLayer,
		"minzoom":      cfg.MinZoom,
		"maxzoom":      cfg.MaxZoom,
		"filter":       cfg.Filter,
		"layout":       cfg.Layout,
	}
	b, err := json.Marshal(ref)
	if err != nil {
		// unencodable values never compare equal to anything else
		return "\x00" + cfg.ID
	}
	return string(b)
}

// GroupByLayout partitions configs into groups with identical layout properties,
// preserving the order in which each group is first seen.
func GroupByLayout(configs []LayerConfig) [][]LayerConfig {
	var groups [][]LayerConfig
	index := make(map[string]int)
	for _, cfg := range configs {
		k := layoutKey(cfg)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], cfg)
	}
	return groups
}
