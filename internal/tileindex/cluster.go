package tileindex

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrNoSuchCluster is returned by cluster queries for an unknown cluster id.
var ErrNoSuchCluster = errors.New("no cluster with the specified id")

// ClusterOptions configures a Cluster index.
type ClusterOptions struct {
	MinZoom   int
	MaxZoom   int
	MinPoints int
	// Radius is the cluster radius in tile units of Extent.
	Radius float64
	Extent uint32
	// GenerateID replaces point ids with their index in the input.
	GenerateID bool
}

// DefaultClusterOptions returns the options used when a source does not set any.
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{
		MinZoom:   0,
		MaxZoom:   16,
		MinPoints: 2,
		Radius:    40,
		Extent:    512,
	}
}

type clusterNode struct {
	x, y  float64
	count int
	// id is the cluster id, zero for input points
	id int
	// zoom is the level the node was created for
	zoom int
	// point is the input index for input points, -1 for clusters
	point    int
	children []*clusterNode
}

func (n *clusterNode) isCluster() bool { return n.point < 0 }

// Cluster groups point features into clusters for every zoom between
// MinZoom and MaxZoom. Non point features are ignored.
type Cluster struct {
	opts   ClusterOptions
	points []*geojson.Feature
	levels [][]*clusterNode
	byID   map[int]*clusterNode
}

// NewCluster clusters the points of fc.
func NewCluster(fc *geojson.FeatureCollection, opts ClusterOptions) (*Cluster, error) {
	if opts.MinZoom < 0 || opts.MaxZoom >= MaxZoom || opts.MinZoom > opts.MaxZoom {
		return nil, fmt.Errorf("cluster zoom range %d-%d outside 0-%d", opts.MinZoom, opts.MaxZoom, MaxZoom-1)
	}
	if opts.Radius <= 0 || opts.Extent == 0 {
		return nil, errors.New("cluster radius and extent must be positive")
	}
	if opts.MinPoints < 2 {
		opts.MinPoints = 2
	}

	c := &Cluster{
		opts:   opts,
		levels: make([][]*clusterNode, opts.MaxZoom+2),
		byID:   make(map[int]*clusterNode),
	}

	var leaves []*clusterNode
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		if opts.GenerateID {
			f.ID = len(c.points)
		}
		leaves = append(leaves, &clusterNode{
			x:     lngX(p[0]),
			y:     latY(p[1]),
			count: 1,
			zoom:  opts.MaxZoom + 1,
			point: len(c.points),
		})
		c.points = append(c.points, f)
	}

	c.levels[opts.MaxZoom+1] = leaves
	for z := opts.MaxZoom; z >= opts.MinZoom; z-- {
		c.levels[z] = c.cluster(c.levels[z+1], z)
	}
	return c, nil
}

type gridCell struct{ x, y int }

func (c *Cluster) cluster(nodes []*clusterNode, zoom int) []*clusterNode {
	r := c.opts.Radius / (float64(c.opts.Extent) * math.Pow(2, float64(zoom)))
	r2 := r * r

	cell := func(n *clusterNode) gridCell {
		return gridCell{int(math.Floor(n.x / r)), int(math.Floor(n.y / r))}
	}
	grid := make(map[gridCell][]int, len(nodes))
	for i, n := range nodes {
		k := cell(n)
		grid[k] = append(grid[k], i)
	}

	visited := make([]bool, len(nodes))
	var out []*clusterNode
	for i, n := range nodes {
		if visited[i] {
			continue
		}
		visited[i] = true

		var neighbors []int
		count := n.count
		k := cell(n)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, j := range grid[gridCell{k.x + dx, k.y + dy}] {
					if visited[j] {
						continue
					}
					m := nodes[j]
					ddx, ddy := m.x-n.x, m.y-n.y
					if ddx*ddx+ddy*ddy <= r2 {
						neighbors = append(neighbors, j)
						count += m.count
					}
				}
			}
		}

		if len(neighbors) == 0 || count < c.opts.MinPoints {
			out = append(out, n)
			continue
		}

		wx := n.x * float64(n.count)
		wy := n.y * float64(n.count)
		children := []*clusterNode{n}
		for _, j := range neighbors {
			visited[j] = true
			m := nodes[j]
			wx += m.x * float64(m.count)
			wy += m.y * float64(m.count)
			children = append(children, m)
		}

		id := (i << 5) + (zoom + 1) + len(c.points)
		parent := &clusterNode{
			x:        wx / float64(count),
			y:        wy / float64(count),
			count:    count,
			id:       id,
			zoom:     zoom,
			point:    -1,
			children: children,
		}
		c.byID[id] = parent
		out = append(out, parent)
	}
	return out
}

func (c *Cluster) level(z uint32) []*clusterNode {
	zc := int(z)
	if zc < c.opts.MinZoom {
		zc = c.opts.MinZoom
	}
	if zc > c.opts.MaxZoom+1 {
		zc = c.opts.MaxZoom + 1
	}
	return c.levels[zc]
}

// Tile implements Index.
func (c *Cluster) Tile(z, x, y uint32) *Tile {
	if !validTile(z, x, y) {
		return nil
	}
	z2 := math.Pow(2, float64(z))
	ext := float64(c.opts.Extent)
	pad := c.opts.Radius / ext
	minX, maxX := (float64(x)-pad)/z2, (float64(x)+1+pad)/z2
	minY, maxY := (float64(y)-pad)/z2, (float64(y)+1+pad)/z2

	var features []*geojson.Feature
	for _, n := range c.level(z) {
		if n.x < minX || n.x > maxX || n.y < minY || n.y > maxY {
			continue
		}
		f := c.feature(n, orb.Point{
			math.Round(ext * (n.x*z2 - float64(x))),
			math.Round(ext * (n.y*z2 - float64(y))),
		})
		features = append(features, f)
	}
	if len(features) == 0 {
		return nil
	}
	return &Tile{Z: z, X: x, Y: y, Extent: c.opts.Extent, Features: features}
}

func (c *Cluster) feature(n *clusterNode, at orb.Point) *geojson.Feature {
	if !n.isCluster() {
		src := c.points[n.point]
		return &geojson.Feature{ID: src.ID, Type: "Feature", Geometry: at, Properties: src.Properties}
	}
	f := geojson.NewFeature(at)
	f.ID = n.id
	f.Properties["cluster"] = true
	f.Properties["cluster_id"] = n.id
	f.Properties["point_count"] = n.count
	f.Properties["point_count_abbreviated"] = abbreviate(n.count)
	return f
}

func abbreviate(count int) interface{} {
	switch {
	case count >= 10000:
		return fmt.Sprintf("%dk", int(math.Round(float64(count)/1000)))
	case count >= 1000:
		return fmt.Sprintf("%gk", math.Round(float64(count)/100)/10)
	}
	return count
}

// Children returns the direct children of a cluster in lon/lat.
func (c *Cluster) Children(clusterID int) ([]*geojson.Feature, error) {
	n, ok := c.byID[clusterID]
	if !ok {
		return nil, ErrNoSuchCluster
	}
	out := make([]*geojson.Feature, 0, len(n.children))
	for _, child := range n.children {
		out = append(out, c.feature(child, unproject(child.x, child.y)))
	}
	return out, nil
}

// Leaves returns the input points of a cluster, skipping offset of them.
// A limit of zero or less returns all remaining points.
func (c *Cluster) Leaves(clusterID, limit, offset int) ([]*geojson.Feature, error) {
	n, ok := c.byID[clusterID]
	if !ok {
		return nil, ErrNoSuchCluster
	}
	var out []*geojson.Feature
	skipped := 0
	var walk func(n *clusterNode) bool
	walk = func(n *clusterNode) bool {
		for _, child := range n.children {
			if child.isCluster() {
				if skipped+child.count <= offset {
					skipped += child.count
					continue
				}
				if !walk(child) {
					return false
				}
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, c.points[child.point])
			if limit > 0 && len(out) == limit {
				return false
			}
		}
		return true
	}
	walk(n)
	return out, nil
}

// ExpansionZoom returns the zoom at which a cluster splits into several children.
func (c *Cluster) ExpansionZoom(clusterID int) (int, error) {
	n, ok := c.byID[clusterID]
	if !ok {
		return 0, ErrNoSuchCluster
	}
	zoom := n.zoom
	for zoom <= c.opts.MaxZoom {
		zoom++
		if len(n.children) != 1 || !n.children[0].isCluster() {
			break
		}
		n = n.children[0]
	}
	return zoom, nil
}
