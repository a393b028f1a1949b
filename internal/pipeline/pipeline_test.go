package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctsilva/UrbanMapper/internal/store"
)

const nodesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "A", "geometry": {"type": "Point", "coordinates": [0, 0]}, "properties": {}},
    {"type": "Feature", "id": "B", "geometry": {"type": "Point", "coordinates": [10, 10]}, "properties": {}}
  ]
}`

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// fixtureJob writes a CSV dataset plus a GeoJSON layer and returns a job
// wired to them.
func fixtureJob(t *testing.T, csvBody string) (*Job, string) {
	t.Helper()
	dir := t.TempDir()

	dataPath := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte(csvBody), 0o644))

	layerPath := filepath.Join(dir, "nodes.geojson")
	require.NoError(t, os.WriteFile(layerPath, []byte(nodesGeoJSON), 0o644))

	return &Job{
		Name:    "test-job",
		Dataset: DatasetSpec{Path: dataPath, Format: "csv", IDColumn: "id", LatColumn: "lat", LngColumn: "lng"},
		Layer:   LayerSpec{Path: layerPath, Format: "geojson"},
	}, dir
}

func TestPipeline_RunEndToEnd(t *testing.T) {
	// Points at (0,0), (1,1), (10,10) against nodes A(0,0), B(10,10)
	// must bucket as A:2, B:1.
	job, dir := fixtureJob(t, "id,lat,lng\nr1,0,0\nr2,1,1\nr3,10,10\n")
	outCSV := filepath.Join(dir, "buckets.csv")
	outGeoJSON := filepath.Join(dir, "buckets.geojson")
	job.Outputs = []OutputSpec{
		{Format: "csv", Path: outCSV},
		{Format: "geojson", Path: outGeoJSON},
	}
	require.NoError(t, job.Validate())

	st := testStore(t)
	p := New(st)

	res, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, res.Buckets, 2)
	assert.Equal(t, "A", res.Buckets[0].NodeID)
	assert.Equal(t, 2, res.Buckets[0].Count)
	assert.Equal(t, "B", res.Buckets[1].NodeID)
	assert.Equal(t, 1, res.Buckets[1].Count)

	assert.Equal(t, 3, res.Summary.RecordsLoaded)
	assert.Equal(t, 3, res.Summary.RecordsMatched)
	assert.Equal(t, 0, res.Summary.Unmatched)
	assert.Equal(t, "count", res.Summary.Reduction)

	// Run record persisted as complete with the same summary.
	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusComplete, run.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 2, run.Summary.Buckets)

	// Buckets persisted.
	buckets, err := st.GetBuckets(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, buckets, 2)

	// Output artifacts written.
	f, err := os.Open(outCSV)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"node_id", "count", "count"}, rows[0])
	assert.Equal(t, []string{"A", "2", "2"}, rows[1])

	geo, err := os.ReadFile(outGeoJSON)
	require.NoError(t, err)
	assert.Contains(t, string(geo), `"FeatureCollection"`)
	assert.Contains(t, string(geo), `"node_id"`)
}

func TestPipeline_RunWithCentroidImpute(t *testing.T) {
	job, _ := fixtureJob(t, "id,lat,lng\nr1,0,0\nr2,,\n")
	job.Impute = ImputeSpec{Strategy: "centroid"}

	st := testStore(t)
	res, err := New(st).Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.RecordsImputed)
	assert.Equal(t, 2, res.Summary.RecordsMatched)

	total := 0
	for _, b := range res.Buckets {
		total += b.Count
	}
	assert.Equal(t, 2, total)
}

func TestPipeline_RunWithFilter(t *testing.T) {
	job, _ := fixtureJob(t, "id,lat,lng\nin,1,1\nout,50,50\n")
	job.Filter = FilterSpec{Enabled: true, BBox: &BoxSpec{MinLng: -1, MinLat: -1, MaxLng: 11, MaxLat: 11}}

	st := testStore(t)
	res, err := New(st).Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.RecordsFiltered)
	assert.Equal(t, 1, res.Summary.RecordsMatched)
}

func TestPipeline_RunWithZeroFill(t *testing.T) {
	job, _ := fixtureJob(t, "id,lat,lng\nr1,0,0\n")
	job.Reduce.ZeroFill = true

	st := testStore(t)
	res, err := New(st).Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, res.Buckets, 2)
	assert.Equal(t, 0, res.Buckets[1].Count)
}

func TestPipeline_FailedRunIsRecorded(t *testing.T) {
	job, _ := fixtureJob(t, "id,lat,lng\nr1,0,0\n")
	job.Dataset.Path = filepath.Join(t.TempDir(), "missing.csv")

	st := testStore(t)
	_, err := New(st).Run(context.Background(), job)
	require.Error(t, err)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: store.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Summary)
	assert.NotEmpty(t, runs[0].Summary.Error)
}

func TestPipeline_StagesRecorded(t *testing.T) {
	job, _ := fixtureJob(t, "id,lat,lng\nr1,0,0\n")

	st := testStore(t)
	res, err := New(st).Run(context.Background(), job)
	require.NoError(t, err)

	stages, err := st.ListStages(context.Background(), res.RunID)
	require.NoError(t, err)

	byName := map[string]store.Stage{}
	for _, s := range stages {
		byName[s.Name] = s
	}
	assert.Equal(t, store.StageStatusComplete, byName["load"].Status)
	assert.Equal(t, store.StageStatusSkipped, byName["impute"].Status)
	assert.Equal(t, store.StageStatusSkipped, byName["filter"].Status)
	assert.Equal(t, store.StageStatusComplete, byName["join"].Status)
	assert.Equal(t, store.StageStatusComplete, byName["aggregate"].Status)
}

func TestPipeline_PostgresLayerWithoutDB(t *testing.T) {
	job, _ := fixtureJob(t, "id,lat,lng\nr1,0,0\n")
	job.Layer = LayerSpec{Format: "postgres", PGTable: "layer_nodes"}

	st := testStore(t)
	_, err := New(st).Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
}
