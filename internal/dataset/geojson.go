package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// LoadGeoJSON reads a FeatureCollection of Point features into a Dataset.
// Feature properties become record attributes; non-point features are
// skipped with a logged count.
func LoadGeoJSON(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read geojson %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "dataset: parse geojson")
	}

	records := make([]Record, 0, len(fc.Features))
	var skipped int
	for n, feat := range fc.Features {
		pt, ok := feat.Geometry.(*geom.Point)
		if !ok || pt == nil {
			skipped++
			continue
		}

		r := Record{
			ID:    featureID(feat, n),
			Attrs: make(map[string]string, len(feat.Properties)),
		}
		lng, lat := pt.X(), pt.Y()
		r.Longitude = &lng
		r.Latitude = &lat

		for k, v := range feat.Properties {
			if v == nil {
				continue
			}
			r.Attrs[k] = fmt.Sprintf("%v", v)
		}
		records = append(records, r)
	}

	if skipped > 0 {
		zap.L().Debug("dataset: skipped non-point geojson features",
			zap.String("source", path),
			zap.Int("skipped", skipped),
		)
	}

	return New(records, path), nil
}

func featureID(feat *geojson.Feature, n int) string {
	if feat.ID != "" {
		return feat.ID
	}
	return positionalID(n)
}
