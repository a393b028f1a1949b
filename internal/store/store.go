// Package store persists pipeline runs, stage outcomes, aggregate
// buckets, and cached geocode results.
package store

import (
	"context"
	"time"

	"github.com/ctsilva/UrbanMapper/internal/aggregate"
	"github.com/ctsilva/UrbanMapper/pkg/geocode"
)

// RunStatus tracks a pipeline run through its lifecycle.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// StageStatus is the outcome of a single pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// Run is one execution of a pipeline job.
type Run struct {
	ID        string    `json:"id"`
	JobName   string    `json:"job_name"`
	Source    string    `json:"source"`
	Status    RunStatus `json:"status"`
	Summary   *Summary  `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary captures the run's headline numbers.
type Summary struct {
	RecordsLoaded   int    `json:"records_loaded"`
	RecordsImputed  int    `json:"records_imputed"`
	RecordsFiltered int    `json:"records_filtered"`
	RecordsMatched  int    `json:"records_matched"`
	Unmatched       int    `json:"unmatched"`
	Buckets         int    `json:"buckets"`
	Reduction       string `json:"reduction"`
	Error           string `json:"error,omitempty"`
}

// Stage is one pipeline stage within a run.
type Stage struct {
	ID         string      `json:"id"`
	RunID      string      `json:"run_id"`
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	Records    int         `json:"records"`
	DurationMS int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
}

// RunFilter selects runs for listing.
type RunFilter struct {
	Status  RunStatus `json:"status,omitempty"`
	JobName string    `json:"job_name,omitempty"`
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

// Store is the persistence interface for the pipeline. It doubles as the
// geocode cache.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, jobName, source string) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error
	CompleteRun(ctx context.Context, runID string, status RunStatus, summary *Summary) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Stages
	CreateStage(ctx context.Context, runID, name string) (*Stage, error)
	CompleteStage(ctx context.Context, stageID string, status StageStatus, records int, durationMS int64, errMsg string) error
	ListStages(ctx context.Context, runID string) ([]Stage, error)

	// Aggregate results
	SaveBuckets(ctx context.Context, runID string, buckets []aggregate.Bucket) error
	GetBuckets(ctx context.Context, runID string) ([]aggregate.Bucket, error)

	// Geocode cache
	GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error)
	SetGeocode(ctx context.Context, key string, res geocode.Result) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
