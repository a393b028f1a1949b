// Package layer builds reference spatial node sets ("urban layers") from
// street-network shapefiles, GeoJSON, or PostGIS, and exposes their
// extent and centroid. Layers are read-only once built.
package layer

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// DefaultCRS is the coordinate reference system assumed for all layers.
const DefaultCRS = "EPSG:4326"

// ErrEmptyLayer is returned when an operation requires at least one node.
var ErrEmptyLayer = eris.New("layer: empty node set")

// Node is a reference point (e.g. a street intersection) with a stable
// identifier. Immutable once built.
type Node struct {
	ID        string            `json:"id"`
	Longitude float64           `json:"longitude"`
	Latitude  float64           `json:"latitude"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// BBox is a geographic bounding box with inclusive bounds.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point falls inside the box, bounds included.
func (b BBox) Contains(lng, lat float64) bool {
	return lng >= b.MinLng && lng <= b.MaxLng && lat >= b.MinLat && lat <= b.MaxLat
}

// Expand returns a box padded by pad degrees on every side.
func (b BBox) Expand(pad float64) BBox {
	return BBox{
		MinLng: b.MinLng - pad,
		MinLat: b.MinLat - pad,
		MaxLng: b.MaxLng + pad,
		MaxLat: b.MaxLat + pad,
	}
}

// Layer is an immutable set of reference nodes sorted by ID.
type Layer struct {
	nodes []Node
	byID  map[string]int
	crs   string
}

// FromNodes builds a Layer, validating coordinates and rejecting
// duplicate IDs. Nodes are sorted by ID so iteration order is stable.
func FromNodes(nodes []Node) (*Layer, error) {
	ns := make([]Node, len(nodes))
	copy(ns, nodes)
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })

	byID := make(map[string]int, len(ns))
	for i, n := range ns {
		if n.ID == "" {
			return nil, eris.Errorf("layer: node %d has empty ID", i)
		}
		if math.IsNaN(n.Longitude) || math.IsNaN(n.Latitude) ||
			math.IsInf(n.Longitude, 0) || math.IsInf(n.Latitude, 0) {
			return nil, eris.Errorf("layer: node %s has invalid coordinates", n.ID)
		}
		if _, dup := byID[n.ID]; dup {
			return nil, eris.Errorf("layer: duplicate node ID %s", n.ID)
		}
		byID[n.ID] = i
	}

	return &Layer{nodes: ns, byID: byID, crs: DefaultCRS}, nil
}

// Len returns the number of nodes.
func (l *Layer) Len() int { return len(l.nodes) }

// CRS returns the layer's coordinate reference system tag.
func (l *Layer) CRS() string { return l.crs }

// Nodes returns a copy of the node slice, sorted by ID.
func (l *Layer) Nodes() []Node {
	ns := make([]Node, len(l.nodes))
	copy(ns, l.nodes)
	return ns
}

// Node looks up a node by ID.
func (l *Layer) Node(id string) (Node, bool) {
	i, ok := l.byID[id]
	if !ok {
		return Node{}, false
	}
	return l.nodes[i], true
}

// BBox returns the extent of the node set.
func (l *Layer) BBox() (BBox, error) {
	if len(l.nodes) == 0 {
		return BBox{}, ErrEmptyLayer
	}
	b := BBox{
		MinLng: math.Inf(1), MinLat: math.Inf(1),
		MaxLng: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	for _, n := range l.nodes {
		b.MinLng = math.Min(b.MinLng, n.Longitude)
		b.MinLat = math.Min(b.MinLat, n.Latitude)
		b.MaxLng = math.Max(b.MaxLng, n.Longitude)
		b.MaxLat = math.Max(b.MaxLat, n.Latitude)
	}
	return b, nil
}

// Centroid returns the arithmetic mean of the node coordinates.
func (l *Layer) Centroid() (lng, lat float64, err error) {
	if len(l.nodes) == 0 {
		return 0, 0, ErrEmptyLayer
	}
	for _, n := range l.nodes {
		lng += n.Longitude
		lat += n.Latitude
	}
	count := float64(len(l.nodes))
	return lng / count, lat / count, nil
}
