package impute

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctsilva/UrbanMapper/internal/dataset"
	"github.com/ctsilva/UrbanMapper/internal/layer"
	"github.com/ctsilva/UrbanMapper/pkg/geocode"
)

// AddressImputer geocodes records missing coordinates from a textual
// address attribute.
type AddressImputer struct {
	client   geocode.Client
	attrName string
}

// NewAddressImputer creates an AddressImputer reading addresses from the
// given attribute.
func NewAddressImputer(client geocode.Client, attrName string) *AddressImputer {
	if attrName == "" {
		attrName = "address"
	}
	return &AddressImputer{client: client, attrName: attrName}
}

// Name implements Imputer.
func (i *AddressImputer) Name() string { return "address" }

// Impute implements Imputer. Records missing coordinates are geocoded in
// one batch. A record with neither coordinates nor an address attribute,
// or whose address fails to geocode, is an imputation failure.
func (i *AddressImputer) Impute(ctx context.Context, ds *dataset.Dataset, _ *layer.Layer) (*dataset.Dataset, error) {
	// Collect the addresses to geocode.
	var inputs []geocode.AddressInput
	for _, r := range ds.Records() {
		if r.HasCoordinates() {
			continue
		}
		addr := strings.TrimSpace(r.Attr(i.attrName))
		if addr == "" {
			return nil, eris.Wrapf(ErrImputation, "address: record %s has no %q attribute", r.ID, i.attrName)
		}
		inputs = append(inputs, geocode.AddressInput{ID: r.ID, OneLine: addr})
	}
	if len(inputs) == 0 {
		return ds, nil
	}

	results, err := i.client.BatchGeocode(ctx, inputs)
	if err != nil {
		return nil, eris.Wrap(err, "address: batch geocode")
	}

	coords := make(map[string]geocode.Result, len(results))
	for n, res := range results {
		coords[inputs[n].ID] = res
	}

	out, err := mapComplete(ds, func(r dataset.Record) (dataset.Record, bool, error) {
		res, ok := coords[r.ID]
		if !ok || !res.Matched {
			return r, false, eris.Wrapf(ErrImputation, "address: record %s did not geocode", r.ID)
		}
		lng, lat := res.Longitude, res.Latitude
		r.Longitude = &lng
		r.Latitude = &lat
		return r, true, nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("impute: geocoded missing coordinates",
		zap.Int("geocoded", len(inputs)),
		zap.String("attribute", i.attrName),
	)
	return out, nil
}
