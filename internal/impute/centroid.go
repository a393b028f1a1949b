package impute

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/layer"
)

// CentroidImputer replaces missing coordinates with the reference
// layer's centroid. Both coordinates are overwritten when either is
// missing, so a half-filled record never keeps a stale value.
type CentroidImputer struct{}

// NewCentroidImputer creates a CentroidImputer.
func NewCentroidImputer() *CentroidImputer { return &CentroidImputer{} }

// Name implements Imputer.
func (i *CentroidImputer) Name() string { return "centroid" }

// Impute implements Imputer.
func (i *CentroidImputer) Impute(_ context.Context, ds *dataset.Dataset, l *layer.Layer) (*dataset.Dataset, error) {
	missing := ds.MissingCoordinates()
	if missing == 0 {
		return ds, nil
	}

	lng, lat, err := l.Centroid()
	if err != nil {
		return nil, eris.Wrap(ErrImputation, "centroid: reference layer is empty")
	}

	out, err := mapComplete(ds, func(r dataset.Record) (dataset.Record, bool, error) {
		fLng, fLat := lng, lat
		r.Longitude = &fLng
		r.Latitude = &fLat
		return r, true, nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("impute: filled with layer centroid",
		zap.Int("filled", missing),
		zap.Float64("lng", lng),
		zap.Float64("lat", lat),
	)
	return out, nil
}

// DropImputer removes records missing either coordinate instead of
// filling them. The dropped count is logged.
type DropImputer struct{}

// NewDropImputer creates a DropImputer.
func NewDropImputer() *DropImputer { return &DropImputer{} }

// Name implements Imputer.
func (i *DropImputer) Name() string { return "drop" }

// Impute implements Imputer.
func (i *DropImputer) Impute(_ context.Context, ds *dataset.Dataset, _ *layer.Layer) (*dataset.Dataset, error) {
	before := ds.Len()
	out, err := mapComplete(ds, func(r dataset.Record) (dataset.Record, bool, error) {
		return r, false, nil
	})
	if err != nil {
		return nil, err
	}
	if dropped := before - out.Len(); dropped > 0 {
		zap.L().Info("impute: dropped records without coordinates", zap.Int("dropped", dropped))
	}
	return out, nil
}
