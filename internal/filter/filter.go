// Package filter restricts datasets to records inside a bounding region.
package filter

import (
	"go.uber.org/zap"

	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

// BBox keeps records whose coordinates fall inside the box, bounds
// inclusive. Records missing either coordinate are removed. Removing
// every record is not an error; the removed count is logged.
func BBox(ds *dataset.Dataset, box layer.BBox) *dataset.Dataset {
	in := ds.Records()
	out := make([]dataset.Record, 0, len(in))
	var noCoords int
	for _, r := range in {
		if !r.HasCoordinates() {
			noCoords++
			continue
		}
		if box.Contains(*r.Longitude, *r.Latitude) {
			out = append(out, r)
		}
	}

	removed := len(in) - len(out)
	if removed > 0 {
		zap.L().Info("filter: records outside bounds removed",
			zap.Int("removed", removed),
			zap.Int("missing_coordinates", noCoords),
			zap.Int("kept", len(out)),
		)
	}
	return dataset.New(out, ds.Source())
}

// WithinLayerExtent filters to the layer's bounding box, padded by pad
// degrees on every side.
func WithinLayerExtent(ds *dataset.Dataset, l *layer.Layer, pad float64) (*dataset.Dataset, error) {
	box, err := l.BBox()
	if err != nil {
		return nil, err
	}
	if pad != 0 {
		box = box.Expand(pad)
	}
	return BBox(ds, box), nil
}
