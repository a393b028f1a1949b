package join

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

// ErrEmptyReferenceSet is returned when the layer has no nodes to join
// against.
var ErrEmptyReferenceSet = eris.New("join: empty reference node set")

// bruteForceCutoff is the reference-set size below which a linear scan
// beats building a tree.
const bruteForceCutoff = 64

// Match assigns a record to its nearest node. Distance is in the join
// metric's units (meters for haversine, degrees for euclidean).
type Match struct {
	RecordID string  `json:"record_id"`
	NodeID   string  `json:"node_id"`
	Distance float64 `json:"distance"`
}

// Result holds the outcome of a nearest join. Every input record appears
// either in Matches (exactly once) or in Unmatched (beyond the distance
// threshold).
type Result struct {
	matches    []Match
	unmatched  []string
	metric     Metric
	outputAttr string
	source     *dataset.Dataset
}

// Matches returns matches in dataset order.
func (r *Result) Matches() []Match {
	out := make([]Match, len(r.matches))
	copy(out, r.matches)
	return out
}

// Unmatched returns the IDs of records left unmatched by the distance
// threshold.
func (r *Result) Unmatched() []string {
	out := make([]string, len(r.unmatched))
	copy(out, r.unmatched)
	return out
}

// Metric returns the metric the join ran under.
func (r *Result) Metric() Metric { return r.metric }

// AnnotatedDataset returns a copy of the joined dataset with each matched
// record carrying its nearest node ID as an attribute.
func (r *Result) AnnotatedDataset() *dataset.Dataset {
	attr := r.outputAttr
	if attr == "" {
		attr = "nearest_node"
	}
	values := make(map[string]string, len(r.matches))
	for _, m := range r.matches {
		values[m.RecordID] = m.NodeID
	}
	return r.source.WithAttr(attr, values)
}

// Option configures a join.
type Option func(*joinConfig)

type joinConfig struct {
	metric      Metric
	maxDistance float64 // 0 = unlimited
	outputAttr  string
}

// WithMetric selects the distance metric. Default is haversine.
func WithMetric(m Metric) Option {
	return func(c *joinConfig) { c.metric = m }
}

// WithMaxDistance leaves records unmatched when the nearest node is
// farther than d (in metric units).
func WithMaxDistance(d float64) Option {
	return func(c *joinConfig) { c.maxDistance = d }
}

// WithOutputAttr names the attribute AnnotatedDataset writes the nearest
// node ID into. Default is "nearest_node".
func WithOutputAttr(name string) Option {
	return func(c *joinConfig) { c.outputAttr = name }
}

// Join finds the nearest layer node for every record in the dataset.
// All records must have coordinates; impute or filter first. Ties are
// broken by the lowest node ID.
func Join(ctx context.Context, ds *dataset.Dataset, l *layer.Layer, opts ...Option) (*Result, error) {
	var cfg joinConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if l.Len() == 0 {
		return nil, ErrEmptyReferenceSet
	}

	records := ds.Records()
	for _, r := range records {
		if !r.HasCoordinates() {
			return nil, eris.Errorf("join: record %s has missing coordinates", r.ID)
		}
	}

	nodes := l.Nodes() // sorted by ID
	dist := distanceFunc(cfg.metric)

	// Index nodes. Linear scan over the sorted slice already breaks ties
	// toward the lowest ID; the tree handles ties explicitly.
	var lookup func(lng, lat float64) int
	if l.Len() < bruteForceCutoff {
		lookup = func(lng, lat float64) int {
			best := 0
			bestDist := dist(lng, lat, nodes[0].Longitude, nodes[0].Latitude)
			for i := 1; i < len(nodes); i++ {
				if d := dist(lng, lat, nodes[i].Longitude, nodes[i].Latitude); d < bestDist {
					best = i
					bestDist = d
				}
			}
			return best
		}
	} else {
		points := make([][]float64, len(nodes))
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			points[i] = searchPoint(cfg.metric, n.Longitude, n.Latitude)
			ids[i] = n.ID
		}
		tree := newKDTree(points, ids)
		lookup = func(lng, lat float64) int {
			return tree.nearest(searchPoint(cfg.metric, lng, lat))
		}
	}

	result := &Result{
		metric:     cfg.metric,
		outputAttr: cfg.outputAttr,
		source:     ds,
		matches:    make([]Match, 0, len(records)),
	}

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "join: cancelled")
		}

		lng, lat := *r.Longitude, *r.Latitude
		i := lookup(lng, lat)
		d := dist(lng, lat, nodes[i].Longitude, nodes[i].Latitude)

		if cfg.maxDistance > 0 && d > cfg.maxDistance {
			result.unmatched = append(result.unmatched, r.ID)
			continue
		}
		result.matches = append(result.matches, Match{
			RecordID: r.ID,
			NodeID:   nodes[i].ID,
			Distance: d,
		})
	}

	zap.L().Info("join: nearest join complete",
		zap.Int("records", len(records)),
		zap.Int("nodes", l.Len()),
		zap.Int("matched", len(result.matches)),
		zap.Int("unmatched", len(result.unmatched)),
		zap.String("metric", cfg.metric.String()),
	)

	return result, nil
}
