package layer

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/ctsilva/UrbanMapper/internal/db"
)

// tablePattern restricts table names passed into generated SQL. This
// prevents injection through the table parameter.
var tablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

func validateTable(table string) error {
	if !tablePattern.MatchString(table) {
		return eris.Errorf("layer: invalid table name %q", table)
	}
	return nil
}

// PGStore persists layers to and loads them from a PostGIS table.
type PGStore struct {
	pool  db.Pool
	table string
}

// NewPGStore creates a PGStore for the given node table.
func NewPGStore(pool db.Pool, table string) (*PGStore, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return &PGStore{pool: pool, table: table}, nil
}

// Migrate creates the node table and its spatial index if missing.
func (s *PGStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			longitude DOUBLE PRECISION NOT NULL,
			latitude  DOUBLE PRECISION NOT NULL,
			geom      geometry(Point, 4326) NOT NULL
		)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return eris.Wrap(err, "layer: create node table")
	}

	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_geom ON %s USING gist (geom)`,
		identSuffix(s.table), s.table,
	)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return eris.Wrap(err, "layer: create spatial index")
	}
	return nil
}

// Save replaces the table contents with the layer's nodes, bulk-loaded
// via COPY with EWKB point geometries.
func (s *PGStore) Save(ctx context.Context, l *Layer) (int64, error) {
	if l.Len() == 0 {
		return 0, ErrEmptyLayer
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", s.table)); err != nil {
		return 0, eris.Wrap(err, "layer: truncate node table")
	}

	rows := make([][]any, 0, l.Len())
	for _, n := range l.nodes {
		pt := geom.NewPointFlat(geom.XY, []float64{n.Longitude, n.Latitude}).SetSRID(4326)
		wkb, err := ewkb.Marshal(pt, ewkb.NDR)
		if err != nil {
			return 0, eris.Wrapf(err, "layer: encode node %s", n.ID)
		}
		rows = append(rows, []any{n.ID, n.Longitude, n.Latitude, wkb})
	}

	count, err := db.CopyFrom(ctx, s.pool, s.table, []string{"id", "longitude", "latitude", "geom"}, rows)
	if err != nil {
		return 0, err
	}
	zap.L().Info("layer: saved to postgres",
		zap.String("table", s.table),
		zap.Int64("nodes", count),
	)
	return count, nil
}

// Load reads nodes from the table, optionally restricted to a bounding
// box. Order by id keeps iteration deterministic.
func (s *PGStore) Load(ctx context.Context, bbox *BBox) (*Layer, error) {
	sql := fmt.Sprintf("SELECT id, longitude, latitude FROM %s", s.table)
	var args []any
	if bbox != nil {
		sql += " WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)"
		args = []any{bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat}
	}
	sql += " ORDER BY id"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "layer: query nodes")
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Longitude, &n.Latitude); err != nil {
			return nil, eris.Wrap(err, "layer: scan node row")
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "layer: iterate node rows")
	}

	return FromNodes(nodes)
}

// identSuffix derives an index-name suffix from a possibly schema-
// qualified table name.
func identSuffix(table string) string {
	out := make([]byte, len(table))
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = table[i]
		}
	}
	return string(out)
}
