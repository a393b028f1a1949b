// Package geocode resolves street addresses to WGS84 coordinates via the
// Census Geocoder (primary) and a Nominatim-compatible endpoint
// (fallback), with optional caching.
package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AddressInput is an address to geocode, either structured or free-form.
// OneLine wins when both are set.
type AddressInput struct {
	ID      string // optional identifier for batch correlation
	OneLine string // free-form single-line address
	Street  string
	City    string
	State   string
	ZipCode string
}

// Result holds the geocoding output for an address. An unmatched address
// is not an error: Matched is false and coordinates are zero.
type Result struct {
	Latitude  float64
	Longitude float64
	Source    string // "census" or "nominatim"
	Quality   string // "rooftop", "range", "approximate"
	Matched   bool
}

// Client geocodes addresses.
type Client interface {
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
	BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error)
}

// Provider is a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
	Available() bool
}

// Cache stores geocode results keyed by normalized-address hash.
// Non-matches are cached too, so repeated misses stay cheap.
type Cache interface {
	GetGeocode(ctx context.Context, key string) (*Result, bool, error)
	SetGeocode(ctx context.Context, key string, res Result) error
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client for all providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithCache enables result caching.
func WithCache(cache Cache) Option {
	return func(c *client) { c.cache = cache }
}

// WithProviders replaces the default provider cascade.
func WithProviders(providers ...Provider) Option {
	return func(c *client) { c.providers = providers }
}

// WithBatchConcurrency bounds parallel geocodes in BatchGeocode.
func WithBatchConcurrency(n int) Option {
	return func(c *client) {
		if n > 0 {
			c.batchConcurrency = n
		}
	}
}

type client struct {
	httpClient       *http.Client
	providers        []Provider
	cache            Cache
	batchConcurrency int
}

// NewClient creates a Client that tries providers in order until one
// matches. The default cascade is Census then Nominatim.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		batchConcurrency: 10,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.providers == nil {
		c.providers = []Provider{
			NewCensusProvider(c.httpClient),
			NewNominatimProvider(c.httpClient, ""),
		}
	}
	return c
}

// Geocode implements Client by trying each provider in order.
func (c *client) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	key := cacheKey(addr)
	if c.cache != nil {
		if cached, ok, err := c.cache.GetGeocode(ctx, key); err == nil && ok {
			return cached, nil
		}
	}

	for _, p := range c.providers {
		if !p.Available() {
			continue
		}
		result, err := p.Geocode(ctx, addr)
		if err != nil {
			zap.L().Debug("geocode: provider error, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			continue
		}
		if result != nil && result.Matched {
			c.store(ctx, key, *result)
			return result, nil
		}
	}

	noMatch := &Result{Matched: false, Source: "cascade"}
	c.store(ctx, key, *noMatch)
	return noMatch, nil
}

// BatchGeocode implements Client with bounded parallelism. Individual
// failures become unmatched results rather than failing the batch.
func (c *client) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	results := make([]Result, len(addrs))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.batchConcurrency)

	for i, addr := range addrs {
		eg.Go(func() error {
			r, err := c.Geocode(gCtx, addr)
			if err != nil || r == nil {
				results[i] = Result{Matched: false, Source: "cascade"}
				return nil //nolint:nilerr // one bad address must not fail the batch
			}
			results[i] = *r
			return nil
		})
	}

	_ = eg.Wait()
	return results, nil
}

func (c *client) store(ctx context.Context, key string, res Result) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetGeocode(ctx, key, res); err != nil {
		zap.L().Debug("geocode: cache store failed", zap.Error(err))
	}
}

// cacheKey returns SHA-256 hex of the normalized address.
func cacheKey(addr AddressInput) string {
	normalized := strings.ToLower(strings.TrimSpace(formatOneLine(addr)))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// formatOneLine renders the address as a single line, preferring the
// free-form field.
func formatOneLine(addr AddressInput) string {
	if strings.TrimSpace(addr.OneLine) != "" {
		return strings.TrimSpace(addr.OneLine)
	}
	parts := []string{addr.Street, addr.City, addr.State, addr.ZipCode}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
