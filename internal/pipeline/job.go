package pipeline

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/ctsilva/UrbanMapper/internal/aggregate"
	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/join"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

// Job describes a full mapping run loaded from a YAML file.
type Job struct {
	Name    string        `yaml:"name"`
	Dataset DatasetSpec   `yaml:"dataset"`
	Layer   LayerSpec     `yaml:"layer"`
	Impute  ImputeSpec    `yaml:"impute"`
	Filter  FilterSpec    `yaml:"filter"`
	Join    JoinSpec      `yaml:"join"`
	Reduce  ReduceSpec    `yaml:"reduce"`
	Outputs []OutputSpec  `yaml:"outputs"`
}

// DatasetSpec identifies the record source.
type DatasetSpec struct {
	Path        string   `yaml:"path"`
	URL         string   `yaml:"url"`
	Format      string   `yaml:"format"` // csv, xlsx, geojson, shapefile
	IDColumn    string   `yaml:"id_column"`
	LatColumn   string   `yaml:"lat_column"`
	LngColumn   string   `yaml:"lng_column"`
	AttrColumns []string `yaml:"attr_columns"`
	Sheet       string   `yaml:"sheet"`
}

// LayerSpec identifies the reference node source.
type LayerSpec struct {
	Path    string `yaml:"path"`
	Format  string `yaml:"format"` // shapefile, geojson, postgres
	PGTable string `yaml:"pg_table"`
}

// ImputeSpec selects the missing-coordinate strategy.
type ImputeSpec struct {
	Strategy string `yaml:"strategy"` // centroid, address, drop, none
	AttrName string `yaml:"attr_name"`
}

// FilterSpec bounds the dataset before joining.
type FilterSpec struct {
	Enabled bool     `yaml:"enabled"`
	BBox    *BoxSpec `yaml:"bbox"`
	Pad     float64  `yaml:"pad"`
}

// BoxSpec is an explicit bounding box in the job file.
type BoxSpec struct {
	MinLng float64 `yaml:"min_lng"`
	MinLat float64 `yaml:"min_lat"`
	MaxLng float64 `yaml:"max_lng"`
	MaxLat float64 `yaml:"max_lat"`
}

// JoinSpec configures the nearest-node join.
type JoinSpec struct {
	Metric      string  `yaml:"metric"`
	MaxDistance float64 `yaml:"max_distance"`
	OutputAttr  string  `yaml:"output_attr"`
}

// ReduceSpec configures the per-node aggregation.
type ReduceSpec struct {
	Kind     string `yaml:"kind"` // count, sum, mean
	Attr     string `yaml:"attr"`
	ZeroFill bool   `yaml:"zero_fill"`
}

// OutputSpec names one artifact to write after the run.
type OutputSpec struct {
	Format string `yaml:"format"` // csv, geojson
	Path   string `yaml:"path"`
}

// LoadJob reads and validates a job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read job %s", path)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse job %s", path)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks the job for structural problems before any work
// starts.
func (j *Job) Validate() error {
	if j.Name == "" {
		return eris.New("pipeline: job name is required")
	}
	if j.Dataset.Path == "" && j.Dataset.URL == "" {
		return eris.New("pipeline: dataset path or url is required")
	}
	switch strings.ToLower(j.Dataset.Format) {
	case "csv", "xlsx", "geojson", "shapefile":
	case "":
		return eris.New("pipeline: dataset format is required")
	default:
		return eris.Errorf("pipeline: unsupported dataset format %q", j.Dataset.Format)
	}
	switch strings.ToLower(j.Layer.Format) {
	case "shapefile", "geojson":
		if j.Layer.Path == "" {
			return eris.New("pipeline: layer path is required")
		}
	case "postgres":
		if j.Layer.PGTable == "" {
			return eris.New("pipeline: layer pg_table is required")
		}
	case "":
		return eris.New("pipeline: layer format is required")
	default:
		return eris.Errorf("pipeline: unsupported layer format %q", j.Layer.Format)
	}
	switch strings.ToLower(j.Impute.Strategy) {
	case "", "none", "centroid", "address", "drop":
	default:
		return eris.Errorf("pipeline: unsupported impute strategy %q", j.Impute.Strategy)
	}
	if _, err := join.ParseMetric(j.Join.Metric); err != nil {
		return err
	}
	if _, err := j.Reduction(); err != nil {
		return err
	}
	for _, out := range j.Outputs {
		switch strings.ToLower(out.Format) {
		case "csv", "geojson":
		default:
			return eris.Errorf("pipeline: unsupported output format %q", out.Format)
		}
		if out.Path == "" {
			return eris.New("pipeline: output path is required")
		}
	}
	return nil
}

// Reduction converts the reduce spec into an aggregate.Reduction.
func (j *Job) Reduction() (aggregate.Reduction, error) {
	switch strings.ToLower(j.Reduce.Kind) {
	case "", "count":
		return aggregate.Count(), nil
	case "sum":
		if j.Reduce.Attr == "" {
			return aggregate.Reduction{}, eris.New("pipeline: sum reduction requires attr")
		}
		return aggregate.Sum(j.Reduce.Attr), nil
	case "mean":
		if j.Reduce.Attr == "" {
			return aggregate.Reduction{}, eris.New("pipeline: mean reduction requires attr")
		}
		return aggregate.Mean(j.Reduce.Attr), nil
	default:
		return aggregate.Reduction{}, eris.Errorf("pipeline: unsupported reduction %q", j.Reduce.Kind)
	}
}

// DatasetOptions converts the dataset spec into loader options.
func (j *Job) DatasetOptions() dataset.Options {
	return dataset.Options{
		IDColumn:    j.Dataset.IDColumn,
		LatColumn:   j.Dataset.LatColumn,
		LngColumn:   j.Dataset.LngColumn,
		AttrColumns: j.Dataset.AttrColumns,
	}
}

// FilterBox resolves the filter spec against a loaded layer. Returns
// nil when filtering is disabled.
func (j *Job) FilterBox(l *layer.Layer) (*layer.BBox, error) {
	if !j.Filter.Enabled {
		return nil, nil
	}
	if j.Filter.BBox != nil {
		box := layer.BBox{
			MinLng: j.Filter.BBox.MinLng,
			MinLat: j.Filter.BBox.MinLat,
			MaxLng: j.Filter.BBox.MaxLng,
			MaxLat: j.Filter.BBox.MaxLat,
		}
		if box.MinLng > box.MaxLng || box.MinLat > box.MaxLat {
			return nil, eris.New("pipeline: filter bbox min exceeds max")
		}
		return &box, nil
	}
	box, err := l.BBox()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: layer extent for filter")
	}
	box = box.Expand(j.Filter.Pad)
	return &box, nil
}
