// Package impute fills missing record coordinates before spatial joining.
// Imputers are pure: they return a new dataset and never touch the input.
package impute

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

// ErrImputation is returned when a record misses both coordinates and
// the strategy's fallback input.
var ErrImputation = eris.New("impute: record cannot be imputed")

// Imputer fills missing coordinates in a dataset using a reference layer.
// Records that already have both coordinates pass through unchanged.
type Imputer interface {
	Name() string
	Impute(ctx context.Context, ds *dataset.Dataset, l *layer.Layer) (*dataset.Dataset, error)
}

// mapComplete applies fill to each record missing a coordinate and
// returns the new snapshot. fill returns the replacement record or an
// error; returning keep=false drops the record.
func mapComplete(ds *dataset.Dataset, fill func(dataset.Record) (out dataset.Record, keep bool, err error)) (*dataset.Dataset, error) {
	in := ds.Records()
	out := make([]dataset.Record, 0, len(in))
	for _, r := range in {
		if r.HasCoordinates() {
			out = append(out, r)
			continue
		}
		filled, keep, err := fill(r)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, filled)
		}
	}
	return dataset.New(out, ds.Source()), nil
}
