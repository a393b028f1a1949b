package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ctsilva/UrbanMapper/internal/aggregate"
	"github.com/ctsilva/UrbanMapper/pkg/geocode"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	job_name   TEXT NOT NULL,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_stages (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	records     INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS buckets (
	run_id  TEXT NOT NULL REFERENCES runs(id),
	node_id TEXT NOT NULL,
	count   INTEGER NOT NULL,
	value   REAL NOT NULL,
	PRIMARY KEY (run_id, node_id)
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash TEXT PRIMARY KEY,
	latitude     REAL NOT NULL,
	longitude    REAL NOT NULL,
	source       TEXT NOT NULL,
	quality      TEXT NOT NULL,
	matched      INTEGER NOT NULL,
	cached_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_stages_run ON run_stages(run_id);
`

// Migrate creates the schema if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new queued run.
func (s *SQLiteStore) CreateRun(ctx context.Context, jobName, source string) (*Run, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_name, source, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, jobName, source, string(RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}
	return &Run{
		ID:        id,
		JobName:   jobName,
		Source:    source,
		Status:    RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateRunStatus sets a run's status.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update run status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

// CompleteRun records the terminal status and summary.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status RunStatus, summary *Summary) error {
	var summaryJSON any
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal summary")
		}
		summaryJSON = string(data)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_name, source, status, summary, created_at, updated_at
		 FROM runs WHERE id = ?`, runID,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	return r, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, job_name, source, status, summary, created_at, updated_at FROM runs`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.JobName != "" {
		conds = append(conds, "job_name = ?")
		args = append(args, filter.JobName)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, eris.Wrap(scanErr, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate runs")
	}
	return runs, nil
}

// CreateStage inserts a running stage record.
func (s *SQLiteStore) CreateStage(ctx context.Context, runID, name string) (*Stage, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stages (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create stage")
	}
	return &Stage{ID: id, RunID: runID, Name: name, Status: StageStatusRunning, StartedAt: now}, nil
}

// CompleteStage records a stage outcome.
func (s *SQLiteStore) CompleteStage(ctx context.Context, stageID string, status StageStatus, records int, durationMS int64, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_stages SET status = ?, records = ?, duration_ms = ?, error = ? WHERE id = ?`,
		string(status), records, durationMS, errVal, stageID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete stage")
	}
	return nil
}

// ListStages returns the stages of a run in start order.
func (s *SQLiteStore) ListStages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, records, duration_ms, error, started_at
		 FROM run_stages WHERE run_id = ? ORDER BY started_at, id`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stages")
	}
	defer rows.Close() //nolint:errcheck

	var stages []Stage
	for rows.Next() {
		var st Stage
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&st.ID, &st.RunID, &st.Name, &status, &st.Records, &st.DurationMS, &errMsg, &st.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		st.Status = StageStatus(status)
		st.Error = errMsg.String
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate stages")
	}
	return stages, nil
}

// SaveBuckets replaces the aggregate buckets for a run.
func (s *SQLiteStore) SaveBuckets(ctx context.Context, runID string, buckets []aggregate.Bucket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin buckets tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE run_id = ?`, runID); err != nil {
		return eris.Wrap(err, "sqlite: clear buckets")
	}
	for _, b := range buckets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO buckets (run_id, node_id, count, value) VALUES (?, ?, ?, ?)`,
			runID, b.NodeID, b.Count, b.Value,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert bucket")
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit buckets")
	}
	return nil
}

// GetBuckets returns a run's buckets sorted by node ID.
func (s *SQLiteStore) GetBuckets(ctx context.Context, runID string) ([]aggregate.Bucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, count, value FROM buckets WHERE run_id = ? ORDER BY node_id`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get buckets")
	}
	defer rows.Close() //nolint:errcheck

	var buckets []aggregate.Bucket
	for rows.Next() {
		var b aggregate.Bucket
		if err := rows.Scan(&b.NodeID, &b.Count, &b.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bucket")
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate buckets")
	}
	return buckets, nil
}

// GetGeocode implements geocode.Cache.
func (s *SQLiteStore) GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude, source, quality, matched FROM geocode_cache WHERE address_hash = ?`, key,
	)
	var r geocode.Result
	var matched int
	err := row.Scan(&r.Latitude, &r.Longitude, &r.Source, &r.Quality, &matched)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get geocode")
	}
	r.Matched = matched != 0
	return &r, true, nil
}

// SetGeocode implements geocode.Cache.
func (s *SQLiteStore) SetGeocode(ctx context.Context, key string, res geocode.Result) error {
	matched := 0
	if res.Matched {
		matched = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address_hash, latitude, longitude, source, quality, matched, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address_hash) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			source = excluded.source,
			quality = excluded.quality,
			matched = excluded.matched,
			cached_at = excluded.cached_at`,
		key, res.Latitude, res.Longitude, res.Source, res.Quality, matched, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set geocode")
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var status string
	var summaryJSON sql.NullString
	if err := row.Scan(&r.ID, &r.JobName, &r.Source, &status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	if summaryJSON.Valid && summaryJSON.String != "" {
		var sm Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &sm); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
		r.Summary = &sm
	}
	return &r, nil
}
