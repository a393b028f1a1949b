package layer

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTable(t *testing.T) {
	assert.NoError(t, validateTable("layer_nodes"))
	assert.NoError(t, validateTable("geo.nodes"))
	assert.Error(t, validateTable("nodes; DROP TABLE runs"))
	assert.Error(t, validateTable("Nodes"))
	assert.Error(t, validateTable("1nodes"))
	assert.Error(t, validateTable(""))
}

func TestNewPGStore_RejectsBadTable(t *testing.T) {
	_, err := NewPGStore(nil, "bad table")
	assert.Error(t, err)
}

func TestPGStore_Migrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPGStore(mock, "layer_nodes")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS layer_nodes").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_layer_nodes_geom").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPGStore(mock, "layer_nodes")
	require.NoError(t, err)

	l, err := FromNodes([]Node{
		{ID: "a", Longitude: -74.0, Latitude: 40.7},
		{ID: "b", Longitude: -73.9, Latitude: 40.8},
	})
	require.NoError(t, err)

	mock.ExpectExec("TRUNCATE layer_nodes").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"layer_nodes"},
		[]string{"id", "longitude", "latitude", "geom"}).
		WillReturnResult(2)

	n, err := store.Save(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_SaveEmptyLayer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPGStore(mock, "layer_nodes")
	require.NoError(t, err)

	empty, err := FromNodes(nil)
	require.NoError(t, err)

	_, err = store.Save(context.Background(), empty)
	require.Error(t, err)
}

func TestPGStore_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPGStore(mock, "layer_nodes")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, longitude, latitude FROM layer_nodes ORDER BY id").
		WillReturnRows(pgxmock.NewRows([]string{"id", "longitude", "latitude"}).
			AddRow("a", -74.0, 40.7).
			AddRow("b", -73.9, 40.8))

	l, err := store.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	n, ok := l.Node("a")
	require.True(t, ok)
	assert.InDelta(t, -74.0, n.Longitude, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_LoadWithBBox(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPGStore(mock, "layer_nodes")
	require.NoError(t, err)

	mock.ExpectQuery("ST_MakeEnvelope").
		WithArgs(-75.0, 40.0, -73.0, 41.0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "longitude", "latitude"}).
			AddRow("a", -74.0, 40.7))

	l, err := store.Load(context.Background(), &BBox{MinLng: -75, MinLat: 40, MaxLng: -73, MaxLat: 41})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_LoadQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPGStore(mock, "layer_nodes")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, longitude, latitude").
		WillReturnError(fmt.Errorf("connection refused"))

	_, err = store.Load(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query nodes")
}
