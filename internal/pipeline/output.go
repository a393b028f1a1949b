package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/ctsilva/UrbanMapper/internal/aggregate"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

func writeOutput(out OutputSpec, buckets []aggregate.Bucket, lyr *layer.Layer, red aggregate.Reduction) error {
	switch strings.ToLower(out.Format) {
	case "csv":
		return writeBucketsCSV(out.Path, buckets, red)
	case "geojson":
		return writeBucketsGeoJSON(out.Path, buckets, lyr, red)
	default:
		return eris.Errorf("pipeline: unsupported output format %q", out.Format)
	}
}

func writeBucketsCSV(path string, buckets []aggregate.Bucket, red aggregate.Reduction) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", path)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"node_id", "count", red.String()}); err != nil {
		return eris.Wrap(err, "pipeline: write csv header")
	}
	for _, b := range buckets {
		row := []string{
			b.NodeID,
			strconv.Itoa(b.Count),
			strconv.FormatFloat(b.Value, 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "pipeline: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "pipeline: flush %s", path)
	}
	return f.Sync()
}

// writeBucketsGeoJSON joins buckets back onto node geometry so the
// result drops straight into a map viewer.
func writeBucketsGeoJSON(path string, buckets []aggregate.Bucket, lyr *layer.Layer, red aggregate.Reduction) error {
	fc := &geojson.FeatureCollection{}
	for _, b := range buckets {
		node, ok := lyr.Node(b.NodeID)
		if !ok {
			return eris.Errorf("pipeline: bucket references unknown node %q", b.NodeID)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       node.ID,
			Geometry: geom.NewPointFlat(geom.XY, []float64{node.Longitude, node.Latitude}),
			Properties: map[string]any{
				"node_id":    b.NodeID,
				"count":      b.Count,
				red.String(): b.Value,
			},
		})
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal geojson")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}
