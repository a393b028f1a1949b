package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ctsilva/UrbanMapper/internal/db"
	"github.com/ctsilva/UrbanMapper/internal/fetch"
	"github.com/ctsilva/UrbanMapper/internal/layer"
	"github.com/ctsilva/UrbanMapper/internal/pipeline"
	"github.com/ctsilva/UrbanMapper/internal/store"
	"github.com/ctsilva/UrbanMapper/pkg/geocode"
)

// initStore opens the run-tracking store from config.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver != "sqlite" {
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// initGeocoder builds the geocoding client, wiring the store in as the
// result cache when enabled.
func initGeocoder(st store.Store) geocode.Client {
	hc := &http.Client{Timeout: 30 * time.Second}

	var providers []geocode.Provider
	for _, name := range cfg.Geocode.Providers {
		switch name {
		case "census":
			p := geocode.NewCensusProvider(hc)
			if cfg.Geocode.CensusBaseURL != "" {
				p = p.WithBaseURL(cfg.Geocode.CensusBaseURL)
			}
			providers = append(providers, p)
		case "nominatim":
			providers = append(providers, geocode.NewNominatimProvider(hc, cfg.Geocode.NominatimBaseURL))
		}
	}

	opts := []geocode.Option{
		geocode.WithHTTPClient(hc),
		geocode.WithBatchConcurrency(cfg.Geocode.Concurrency),
	}
	if len(providers) > 0 {
		opts = append(opts, geocode.WithProviders(providers...))
	}
	if cfg.Geocode.CacheEnabled && st != nil {
		opts = append(opts, geocode.WithCache(st))
	}
	return geocode.NewClient(opts...)
}

// initPGLayer connects to PostGIS and returns the table-backed layer
// store. Returns nil without error when no database is configured.
func initPGLayer(ctx context.Context, table string) (*layer.PGStore, func(), error) {
	if cfg.Layer.DatabaseURL == "" {
		return nil, func() {}, nil
	}
	if table == "" {
		table = cfg.Layer.Table
	}
	pool, err := db.Connect(ctx, cfg.Layer.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg, err := layer.NewPGStore(pool, table)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}

// newPipeline assembles a Pipeline from config.
func newPipeline(ctx context.Context, st store.Store) (*pipeline.Pipeline, func(), error) {
	pg, closePG, err := initPGLayer(ctx, "")
	if err != nil {
		return nil, nil, err
	}

	httpF := fetch.NewHTTPFetcher(fetch.HTTPOptions{
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
		RPS:        cfg.Fetch.RPS,
	})
	ftpF := fetch.NewFTPFetcher(time.Duration(cfg.Fetch.TimeoutSecs) * time.Second)

	opts := []pipeline.Option{
		pipeline.WithGeocoder(initGeocoder(st)),
		pipeline.WithFetchers(httpF, ftpF, cfg.Fetch.TempDir),
	}
	if pg != nil {
		opts = append(opts, pipeline.WithPGLayer(pg))
	}
	return pipeline.New(st, opts...), closePG, nil
}
