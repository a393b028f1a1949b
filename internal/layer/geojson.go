package layer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// FromGeoJSON builds a Layer from a FeatureCollection of Point features.
// Feature IDs become node IDs; features without one get a coordinate-
// derived ID. Non-point features are skipped.
func FromGeoJSON(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: read geojson %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "layer: parse geojson")
	}

	nodes := make([]Node, 0, len(fc.Features))
	var skipped int
	for _, feat := range fc.Features {
		pt, ok := feat.Geometry.(*geom.Point)
		if !ok || pt == nil {
			skipped++
			continue
		}

		n := Node{Longitude: pt.X(), Latitude: pt.Y()}
		if feat.ID != "" {
			n.ID = feat.ID
		} else {
			n.ID = endpointID(n.Longitude, n.Latitude)
		}
		if len(feat.Properties) > 0 {
			n.Attrs = make(map[string]string, len(feat.Properties))
			for k, v := range feat.Properties {
				if v == nil {
					continue
				}
				n.Attrs[k] = fmt.Sprintf("%v", v)
			}
		}
		nodes = append(nodes, n)
	}

	if skipped > 0 {
		zap.L().Debug("layer: skipped non-point geojson features",
			zap.String("source", path),
			zap.Int("skipped", skipped),
		)
	}

	return FromNodes(nodes)
}
