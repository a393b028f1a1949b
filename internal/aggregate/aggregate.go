// Package aggregate reduces join results into per-node summary buckets.
package aggregate

import (
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/join"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

// Kind selects the reduction applied per node.
type Kind string

const (
	KindCount Kind = "count"
	KindSum   Kind = "sum"
	KindMean  Kind = "mean"
)

// Reduction describes how matched records reduce into bucket values.
// Sum and Mean read the named record attribute as a float.
type Reduction struct {
	Kind Kind
	Attr string
}

// Count counts matched records per node.
func Count() Reduction { return Reduction{Kind: KindCount} }

// Sum totals a numeric attribute per node.
func Sum(attr string) Reduction { return Reduction{Kind: KindSum, Attr: attr} }

// Mean averages a numeric attribute per node.
func Mean(attr string) Reduction { return Reduction{Kind: KindMean, Attr: attr} }

// String renders the reduction as "count", "sum(attr)", or
// "mean(attr)".
func (r Reduction) String() string {
	if r.Kind == KindCount {
		return string(KindCount)
	}
	return string(r.Kind) + "(" + r.Attr + ")"
}

func (r Reduction) validate() error {
	switch r.Kind {
	case KindCount:
		return nil
	case KindSum, KindMean:
		if r.Attr == "" {
			return eris.Errorf("aggregate: %s reduction requires an attribute", r.Kind)
		}
		return nil
	default:
		return eris.Errorf("aggregate: unknown reduction %q", r.Kind)
	}
}

// Bucket is the per-node aggregate. Value equals Count for the count
// reduction; otherwise it holds the sum or mean of the attribute.
type Bucket struct {
	NodeID string  `json:"node_id"`
	Count  int     `json:"count"`
	Value  float64 `json:"value"`
}

// Option configures aggregation.
type Option func(*config)

type config struct {
	zeroFill *layer.Layer
}

// WithZeroFill emits a zero bucket for every layer node without matches.
func WithZeroFill(l *layer.Layer) Option {
	return func(c *config) { c.zeroFill = l }
}

// Aggregate groups join matches by node and applies the reduction.
// Buckets are returned sorted by node ID; nodes with no matches are
// omitted unless zero-fill is requested.
func Aggregate(result *join.Result, ds *dataset.Dataset, red Reduction, opts ...Option) ([]Bucket, error) {
	if err := red.validate(); err != nil {
		return nil, err
	}
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	// Attribute lookup by record ID, needed for sum/mean.
	var attrByRecord map[string]string
	if red.Kind != KindCount {
		attrByRecord = make(map[string]string, ds.Len())
		for _, r := range ds.Records() {
			attrByRecord[r.ID] = r.Attr(red.Attr)
		}
	}

	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, m := range result.Matches() {
		counts[m.NodeID]++
		if red.Kind == KindCount {
			continue
		}
		raw := attrByRecord[m.RecordID]
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, eris.Errorf("aggregate: record %s attribute %q is not numeric (%q)", m.RecordID, red.Attr, raw)
		}
		sums[m.NodeID] += v
	}

	if cfg.zeroFill != nil {
		for _, n := range cfg.zeroFill.Nodes() {
			if _, ok := counts[n.ID]; !ok {
				counts[n.ID] = 0
			}
		}
	}

	buckets := make([]Bucket, 0, len(counts))
	for nodeID, count := range counts {
		b := Bucket{NodeID: nodeID, Count: count}
		switch red.Kind {
		case KindCount:
			b.Value = float64(count)
		case KindSum:
			b.Value = sums[nodeID]
		case KindMean:
			if count > 0 {
				b.Value = sums[nodeID] / float64(count)
			}
		}
		buckets = append(buckets, b)
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].NodeID < buckets[j].NodeID })
	return buckets, nil
}
