// Package pipeline runs a mapping job end to end: load records, impute
// missing coordinates, filter to the study area, join to the nearest
// layer node, and aggregate per node.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctsilva/UrbanMapper/internal/aggregate"
	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/fetch"
	"github.com/ctsilva/UrbanMapper/internal/filter"
	"github.com/ctsilva/UrbanMapper/internal/impute"
	"github.com/ctsilva/UrbanMapper/internal/join"
	"github.com/ctsilva/UrbanMapper/internal/layer"
	"github.com/ctsilva/UrbanMapper/internal/store"
	"github.com/ctsilva/UrbanMapper/pkg/geocode"
)

// LayerLoader loads the reference layer from PostGIS. *layer.PGStore
// satisfies it; jobs with file-based layers never touch it.
type LayerLoader interface {
	Load(ctx context.Context, bbox *layer.BBox) (*layer.Layer, error)
}

// Pipeline executes jobs and records their progress in the store.
type Pipeline struct {
	store    store.Store
	geocoder geocode.Client
	pgLayer  LayerLoader
	httpF    *fetch.HTTPFetcher
	ftpF     *fetch.FTPFetcher
	tempDir  string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGeocoder supplies the geocoding client used by the address
// imputation strategy.
func WithGeocoder(c geocode.Client) Option {
	return func(p *Pipeline) { p.geocoder = c }
}

// WithPGLayer supplies the PostGIS layer backend.
func WithPGLayer(l LayerLoader) Option {
	return func(p *Pipeline) { p.pgLayer = l }
}

// WithFetchers supplies download support for remote dataset URLs.
func WithFetchers(httpF *fetch.HTTPFetcher, ftpF *fetch.FTPFetcher, tempDir string) Option {
	return func(p *Pipeline) {
		p.httpF = httpF
		p.ftpF = ftpF
		p.tempDir = tempDir
	}
}

// New creates a Pipeline backed by the given store.
func New(st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{store: st, tempDir: "/tmp/urbanmapper"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunResult is what a completed run produced.
type RunResult struct {
	RunID     string
	Dataset   *dataset.Dataset
	Layer     *layer.Layer
	JoinRes   *join.Result
	Buckets   []aggregate.Bucket
	Reduction aggregate.Reduction
	Summary   store.Summary
}

// Run executes the job and persists the run record, the per-stage
// outcomes, and the final buckets.
func (p *Pipeline) Run(ctx context.Context, job *Job) (*RunResult, error) {
	log := zap.L().With(zap.String("job", job.Name))
	log.Info("pipeline: starting run")

	source := job.Dataset.Path
	if source == "" {
		source = job.Dataset.URL
	}
	run, err := p.store.CreateRun(ctx, job.Name, source)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	if err := p.store.UpdateRunStatus(ctx, run.ID, store.RunStatusRunning); err != nil {
		log.Warn("pipeline: failed to update status", zap.Error(err))
	}

	trackStage := func(name string, fn func() (int, error)) (int, error) {
		stage, stageErr := p.store.CreateStage(ctx, run.ID, name)
		if stageErr != nil {
			log.Warn("pipeline: failed to create stage", zap.String("stage", name), zap.Error(stageErr))
		}

		start := time.Now()
		records, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		status := store.StageStatusComplete
		errMsg := ""
		if fnErr != nil {
			status = store.StageStatusFailed
			errMsg = fnErr.Error()
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int("records", records),
				zap.Int64("duration_ms", duration),
			)
		}

		if stage != nil {
			_ = p.store.CompleteStage(ctx, stage.ID, status, records, duration, errMsg)
		}
		return records, fnErr
	}

	skipStage := func(name string) {
		stage, stageErr := p.store.CreateStage(ctx, run.ID, name)
		if stageErr != nil || stage == nil {
			return
		}
		_ = p.store.CompleteStage(ctx, stage.ID, store.StageStatusSkipped, 0, 0, "")
	}

	res := &RunResult{RunID: run.ID}
	summary := store.Summary{}
	fail := func(err error) (*RunResult, error) {
		summary.Error = err.Error()
		if cErr := p.store.CompleteRun(ctx, run.ID, store.RunStatusFailed, &summary); cErr != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(cErr))
		}
		return nil, err
	}

	// Stage 1: load dataset and layer.
	var ds *dataset.Dataset
	var lyr *layer.Layer
	loaded, err := trackStage("load", func() (int, error) {
		var loadErr error
		ds, loadErr = p.loadDataset(ctx, job)
		if loadErr != nil {
			return 0, loadErr
		}
		lyr, loadErr = p.loadLayer(ctx, job)
		if loadErr != nil {
			return 0, loadErr
		}
		return ds.Len(), nil
	})
	if err != nil {
		return fail(err)
	}
	summary.RecordsLoaded = loaded

	// Stage 2: impute missing coordinates.
	imputer, err := p.imputer(job)
	if err != nil {
		return fail(err)
	}
	if imputer != nil {
		missing := ds.MissingCoordinates()
		_, err = trackStage("impute", func() (int, error) {
			var impErr error
			ds, impErr = imputer.Impute(ctx, ds, lyr)
			if impErr != nil {
				return 0, impErr
			}
			return missing, nil
		})
		if err != nil {
			return fail(err)
		}
		summary.RecordsImputed = missing
	} else {
		skipStage("impute")
	}

	// Stage 3: filter to the study area.
	box, err := job.FilterBox(lyr)
	if err != nil {
		return fail(err)
	}
	if box != nil {
		before := ds.Len()
		filtered, err := trackStage("filter", func() (int, error) {
			ds = filter.BBox(ds, *box)
			return ds.Len(), nil
		})
		if err != nil {
			return fail(err)
		}
		summary.RecordsFiltered = before - filtered
	} else {
		skipStage("filter")
	}

	// Stage 4: nearest-node join.
	var joinRes *join.Result
	matched, err := trackStage("join", func() (int, error) {
		opts, optErr := p.joinOptions(job)
		if optErr != nil {
			return 0, optErr
		}
		var joinErr error
		joinRes, joinErr = join.Join(ctx, ds, lyr, opts...)
		if joinErr != nil {
			return 0, joinErr
		}
		return len(joinRes.Matches()), nil
	})
	if err != nil {
		return fail(err)
	}
	summary.RecordsMatched = matched
	summary.Unmatched = len(joinRes.Unmatched())

	// Stage 5: aggregate per node.
	red, err := job.Reduction()
	if err != nil {
		return fail(err)
	}
	var buckets []aggregate.Bucket
	_, err = trackStage("aggregate", func() (int, error) {
		var aggOpts []aggregate.Option
		if job.Reduce.ZeroFill {
			aggOpts = append(aggOpts, aggregate.WithZeroFill(lyr))
		}
		var aggErr error
		buckets, aggErr = aggregate.Aggregate(joinRes, ds, red, aggOpts...)
		if aggErr != nil {
			return 0, aggErr
		}
		return len(buckets), nil
	})
	if err != nil {
		return fail(err)
	}
	summary.Buckets = len(buckets)
	summary.Reduction = red.String()

	if err := p.store.SaveBuckets(ctx, run.ID, buckets); err != nil {
		return fail(eris.Wrap(err, "pipeline: save buckets"))
	}

	// Stage 6: output artifacts.
	if len(job.Outputs) > 0 {
		_, err = trackStage("output", func() (int, error) {
			for _, out := range job.Outputs {
				if wErr := writeOutput(out, buckets, lyr, red); wErr != nil {
					return 0, wErr
				}
			}
			return len(job.Outputs), nil
		})
		if err != nil {
			return fail(err)
		}
	}

	if err := p.store.CompleteRun(ctx, run.ID, store.RunStatusComplete, &summary); err != nil {
		log.Warn("pipeline: failed to complete run", zap.Error(err))
	}

	log.Info("pipeline: run complete",
		zap.String("run_id", run.ID),
		zap.Int("records", summary.RecordsLoaded),
		zap.Int("matched", summary.RecordsMatched),
		zap.Int("buckets", summary.Buckets),
	)

	res.Dataset = ds
	res.Layer = lyr
	res.JoinRes = joinRes
	res.Buckets = buckets
	res.Reduction = red
	res.Summary = summary
	return res, nil
}

func (p *Pipeline) loadDataset(ctx context.Context, job *Job) (*dataset.Dataset, error) {
	path := job.Dataset.Path
	if path == "" {
		if p.httpF == nil {
			return nil, eris.New("pipeline: dataset url given but fetching is not configured")
		}
		downloaded, err := fetch.Download(ctx, p.httpF, p.ftpF, job.Dataset.URL, p.tempDir)
		if err != nil {
			return nil, err
		}
		path = downloaded
	}

	opts := job.DatasetOptions()
	switch strings.ToLower(job.Dataset.Format) {
	case "csv":
		return dataset.LoadCSV(path, dataset.CSVOptions{Options: opts})
	case "xlsx":
		return dataset.LoadXLSX(path, dataset.XLSXOptions{Options: opts, SheetName: job.Dataset.Sheet})
	case "geojson":
		return dataset.LoadGeoJSON(path)
	case "shapefile":
		return dataset.LoadShapefilePoints(path, opts)
	default:
		return nil, eris.Errorf("pipeline: unsupported dataset format %q", job.Dataset.Format)
	}
}

func (p *Pipeline) loadLayer(ctx context.Context, job *Job) (*layer.Layer, error) {
	switch strings.ToLower(job.Layer.Format) {
	case "shapefile":
		return layer.FromShapefile(job.Layer.Path)
	case "geojson":
		return layer.FromGeoJSON(job.Layer.Path)
	case "postgres":
		if p.pgLayer == nil {
			return nil, eris.New("pipeline: postgres layer requested but no database is configured")
		}
		return p.pgLayer.Load(ctx, nil)
	default:
		return nil, eris.Errorf("pipeline: unsupported layer format %q", job.Layer.Format)
	}
}

func (p *Pipeline) imputer(job *Job) (impute.Imputer, error) {
	switch strings.ToLower(job.Impute.Strategy) {
	case "", "none":
		return nil, nil
	case "centroid":
		return impute.NewCentroidImputer(), nil
	case "drop":
		return impute.NewDropImputer(), nil
	case "address":
		if p.geocoder == nil {
			return nil, eris.New("pipeline: address imputation requested but no geocoder is configured")
		}
		return impute.NewAddressImputer(p.geocoder, job.Impute.AttrName), nil
	default:
		return nil, eris.Errorf("pipeline: unsupported impute strategy %q", job.Impute.Strategy)
	}
}

func (p *Pipeline) joinOptions(job *Job) ([]join.Option, error) {
	metric, err := join.ParseMetric(job.Join.Metric)
	if err != nil {
		return nil, err
	}
	opts := []join.Option{join.WithMetric(metric)}
	if job.Join.MaxDistance > 0 {
		opts = append(opts, join.WithMaxDistance(job.Join.MaxDistance))
	}
	if job.Join.OutputAttr != "" {
		opts = append(opts, join.WithOutputAttr(job.Join.OutputAttr))
	}
	return opts, nil
}
