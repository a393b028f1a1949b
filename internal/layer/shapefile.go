package layer

import (
	"fmt"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// endpointPrecision controls coordinate rounding when deriving
// intersection node IDs. 1e-6 degrees is roughly 10cm, tight enough that
// distinct intersections never collapse.
const endpointPrecision = 1e6

// FromShapefile builds a Layer from a street-network polyline shapefile.
// Nodes are the distinct segment endpoints, which approximate street
// intersections; each gets a deterministic ID derived from its rounded
// coordinates. Point shapefiles load each point as a node directly.
func FromShapefile(path string) (*Layer, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	seen := make(map[string]Node)
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()
		switch s := shape.(type) {
		case *shp.Point:
			addEndpoint(seen, s.X, s.Y)
		case *shp.PolyLine:
			collectEndpoints(seen, s)
		default:
			skipped++
		}
	}

	if skipped > 0 {
		zap.L().Debug("layer: skipped unsupported shapes",
			zap.String("source", path),
			zap.Int("skipped", skipped),
		)
	}

	nodes := make([]Node, 0, len(seen))
	for _, n := range seen {
		nodes = append(nodes, n)
	}

	l, err := FromNodes(nodes)
	if err != nil {
		return nil, err
	}
	zap.L().Info("layer: built from shapefile",
		zap.String("source", path),
		zap.Int("nodes", l.Len()),
	)
	return l, nil
}

// collectEndpoints registers the first and last point of every part of a
// polyline. Interior vertices are shape detail, not intersections.
func collectEndpoints(seen map[string]Node, pl *shp.PolyLine) {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return
	}
	for i := int32(0); i < pl.NumParts; i++ {
		start := pl.Parts[i]
		var end int32
		if i+1 < pl.NumParts {
			end = pl.Parts[i+1]
		} else {
			end = int32(len(pl.Points))
		}
		if end <= start {
			continue
		}
		first := pl.Points[start]
		last := pl.Points[end-1]
		addEndpoint(seen, first.X, first.Y)
		addEndpoint(seen, last.X, last.Y)
	}
}

func addEndpoint(seen map[string]Node, lng, lat float64) {
	id := endpointID(lng, lat)
	if _, ok := seen[id]; ok {
		return
	}
	seen[id] = Node{ID: id, Longitude: lng, Latitude: lat}
}

// endpointID builds a stable node ID from rounded coordinates.
func endpointID(lng, lat float64) string {
	return fmt.Sprintf("%d:%d",
		int64(lng*endpointPrecision+copysignHalf(lng)),
		int64(lat*endpointPrecision+copysignHalf(lat)),
	)
}

// copysignHalf rounds toward nearest rather than truncating.
func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}
