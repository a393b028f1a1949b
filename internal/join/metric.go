// Package join assigns each dataset record to its nearest reference node
// using a k-d tree over the layer's node set.
package join

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
)

// earthRadiusMeters is the mean Earth radius used for great-circle
// distances.
const earthRadiusMeters = 6371008.8

// Metric selects the distance function used for nearest-node search.
type Metric int

const (
	// MetricHaversine is great-circle distance in meters, the default for
	// EPSG:4326 data.
	MetricHaversine Metric = iota
	// MetricEuclidean is planar distance in coordinate units (degrees).
	MetricEuclidean
)

func (m Metric) String() string {
	switch m {
	case MetricHaversine:
		return "haversine"
	case MetricEuclidean:
		return "euclidean"
	default:
		return "unknown"
	}
}

// ParseMetric converts a config string to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "haversine":
		return MetricHaversine, nil
	case "euclidean":
		return MetricEuclidean, nil
	default:
		return 0, eris.Errorf("join: unknown metric %q", s)
	}
}

// Haversine returns the great-circle distance in meters between two
// WGS84 points.
func Haversine(lng1, lat1, lng2, lat2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * earthRadiusMeters
}

// Euclidean returns planar distance in degree units.
func Euclidean(lng1, lat1, lng2, lat2 float64) float64 {
	dx := lng1 - lng2
	dy := lat1 - lat2
	return math.Sqrt(dx*dx + dy*dy)
}

// distanceFunc returns the metric's distance function.
func distanceFunc(m Metric) func(lng1, lat1, lng2, lat2 float64) float64 {
	if m == MetricEuclidean {
		return Euclidean
	}
	return Haversine
}

// searchPoint maps a coordinate into the space the k-d tree indexes.
// Euclidean search happens directly in degree space. Haversine search
// happens in 3D unit-sphere space: chord length is monotonic in
// great-circle distance, so the chordal nearest neighbor is exactly the
// great-circle nearest neighbor, and planar pruning stays exact.
func searchPoint(m Metric, lng, lat float64) []float64 {
	if m == MetricEuclidean {
		return []float64{lng, lat}
	}
	latRad := lat * math.Pi / 180
	lngRad := lng * math.Pi / 180
	return []float64{
		math.Cos(latRad) * math.Cos(lngRad),
		math.Cos(latRad) * math.Sin(lngRad),
		math.Sin(latRad),
	}
}
