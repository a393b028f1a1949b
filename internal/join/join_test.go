package join

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

func ptr(v float64) *float64 { return &v }

func makeDataset(t *testing.T, coords map[string][2]float64) *dataset.Dataset {
	t.Helper()
	var records []dataset.Record
	for id, c := range coords {
		records = append(records, dataset.Record{
			ID: id, Longitude: ptr(c[0]), Latitude: ptr(c[1]),
		})
	}
	return dataset.New(records, "test")
}

func makeLayer(t *testing.T, coords map[string][2]float64) *layer.Layer {
	t.Helper()
	var nodes []layer.Node
	for id, c := range coords {
		nodes = append(nodes, layer.Node{ID: id, Longitude: c[0], Latitude: c[1]})
	}
	l, err := layer.FromNodes(nodes)
	require.NoError(t, err)
	return l
}

func matchesByRecord(res *Result) map[string]Match {
	out := make(map[string]Match)
	for _, m := range res.Matches() {
		out[m.RecordID] = m
	}
	return out
}

func TestJoin_AssignsNearestNode(t *testing.T) {
	// Three points at (0,0), (1,1), (10,10); nodes A at (0,0) and B at
	// (10,10). The first two belong to A, the last to B.
	ds := makeDataset(t, map[string][2]float64{
		"r1": {0, 0},
		"r2": {1, 1},
		"r3": {10, 10},
	})
	l := makeLayer(t, map[string][2]float64{
		"A": {0, 0},
		"B": {10, 10},
	})

	res, err := Join(context.Background(), ds, l)
	require.NoError(t, err)
	require.Len(t, res.Matches(), 3)
	assert.Empty(t, res.Unmatched())

	byRec := matchesByRecord(res)
	assert.Equal(t, "A", byRec["r1"].NodeID)
	assert.Equal(t, "A", byRec["r2"].NodeID)
	assert.Equal(t, "B", byRec["r3"].NodeID)

	assert.InDelta(t, 0, byRec["r1"].Distance, 1e-6)
	assert.Greater(t, byRec["r2"].Distance, 0.0)
}

func TestJoin_EmptyLayer(t *testing.T) {
	ds := makeDataset(t, map[string][2]float64{"r1": {0, 0}})
	l := makeLayer(t, nil)

	_, err := Join(context.Background(), ds, l)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrEmptyReferenceSet))
}

func TestJoin_MissingCoordinatesRejected(t *testing.T) {
	ds := dataset.New([]dataset.Record{
		{ID: "ok", Longitude: ptr(0), Latitude: ptr(0)},
		{ID: "bad"},
	}, "test")
	l := makeLayer(t, map[string][2]float64{"A": {0, 0}})

	_, err := Join(context.Background(), ds, l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestJoin_TieBreaksToLowestNodeID(t *testing.T) {
	// (5,0) is exactly equidistant from both nodes under the planar
	// metric; the lower node ID must win.
	ds := makeDataset(t, map[string][2]float64{"mid": {5, 0}})
	l := makeLayer(t, map[string][2]float64{
		"n2": {0, 0},
		"n1": {10, 0},
	})

	res, err := Join(context.Background(), ds, l, WithMetric(MetricEuclidean))
	require.NoError(t, err)
	require.Len(t, res.Matches(), 1)
	assert.Equal(t, "n1", res.Matches()[0].NodeID)
}

func TestJoin_MaxDistanceLeavesUnmatched(t *testing.T) {
	ds := makeDataset(t, map[string][2]float64{
		"near": {0.001, 0},
		"far":  {5, 0},
	})
	l := makeLayer(t, map[string][2]float64{"A": {0, 0}})

	// 1 km threshold: "near" is ~111 m away, "far" is ~556 km away.
	res, err := Join(context.Background(), ds, l, WithMaxDistance(1000))
	require.NoError(t, err)
	require.Len(t, res.Matches(), 1)
	assert.Equal(t, "near", res.Matches()[0].RecordID)
	assert.Equal(t, []string{"far"}, res.Unmatched())
}

func TestJoin_EuclideanMetric(t *testing.T) {
	ds := makeDataset(t, map[string][2]float64{"r": {3, 4}})
	l := makeLayer(t, map[string][2]float64{"A": {0, 0}})

	res, err := Join(context.Background(), ds, l, WithMetric(MetricEuclidean))
	require.NoError(t, err)
	require.Len(t, res.Matches(), 1)
	assert.InDelta(t, 5.0, res.Matches()[0].Distance, 1e-9)
	assert.Equal(t, MetricEuclidean, res.Metric())
}

func TestJoin_AnnotatedDataset(t *testing.T) {
	ds := makeDataset(t, map[string][2]float64{"r1": {0, 0}})
	l := makeLayer(t, map[string][2]float64{"A": {0, 0}})

	res, err := Join(context.Background(), ds, l, WithOutputAttr("station"))
	require.NoError(t, err)

	annotated := res.AnnotatedDataset()
	require.Equal(t, 1, annotated.Len())
	assert.Equal(t, "A", annotated.Record(0).Attr("station"))

	// Source dataset is untouched.
	assert.Equal(t, "", ds.Record(0).Attr("station"))
}

func TestJoin_Cancelled(t *testing.T) {
	ds := makeDataset(t, map[string][2]float64{"r1": {0, 0}})
	l := makeLayer(t, map[string][2]float64{"A": {0, 0}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Join(ctx, ds, l)
	assert.Error(t, err)
}

func TestJoin_TreeMatchesBruteForce(t *testing.T) {
	// A grid big enough to cross the tree cutoff must agree with the
	// linear scan on every query point, for both metrics.
	gridNodes := make(map[string][2]float64)
	for i := 0; i < 12; i++ {
		for j := 0; j < 12; j++ {
			id := fmt.Sprintf("n-%02d-%02d", i, j)
			gridNodes[id] = [2]float64{float64(i) * 0.1, float64(j) * 0.1}
		}
	}
	bigLayer := makeLayer(t, gridNodes)
	require.GreaterOrEqual(t, bigLayer.Len(), bruteForceCutoff)

	queries := make(map[string][2]float64)
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("q%d", i)
		queries[id] = [2]float64{float64(i%13) * 0.083, float64(i%7) * 0.143}
	}
	ds := makeDataset(t, queries)

	for _, metric := range []Metric{MetricHaversine, MetricEuclidean} {
		treeRes, err := Join(context.Background(), ds, bigLayer, WithMetric(metric))
		require.NoError(t, err)

		nodes := bigLayer.Nodes()
		dist := distanceFunc(metric)
		for _, m := range treeRes.Matches() {
			q := queries[m.RecordID]

			// Linear scan over the ID-sorted node slice.
			best, bestDist := "", 0.0
			for _, n := range nodes {
				d := dist(q[0], q[1], n.Longitude, n.Latitude)
				if best == "" || d < bestDist {
					best, bestDist = n.ID, d
				}
			}
			assert.Equal(t, best, m.NodeID, "metric %s record %s", metric, m.RecordID)
			assert.InDelta(t, bestDist, m.Distance, 1e-9)
		}
	}
}
