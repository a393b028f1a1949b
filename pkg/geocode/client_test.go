package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider returns a canned result and records calls.
type stubProvider struct {
	name      string
	result    *Result
	err       error
	available bool

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return s.available }

func (s *stubProvider) Geocode(_ context.Context, _ AddressInput) (*Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.result, s.err
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// mapCache is an in-memory Cache.
type mapCache struct {
	mu   sync.Mutex
	data map[string]Result
}

func newMapCache() *mapCache { return &mapCache{data: map[string]Result{}} }

func (c *mapCache) GetGeocode(_ context.Context, key string) (*Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *mapCache) SetGeocode(_ context.Context, key string, res Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = res
	return nil
}

func TestClient_FirstProviderWins(t *testing.T) {
	first := &stubProvider{name: "first", available: true, result: &Result{Matched: true, Latitude: 1, Source: "first"}}
	second := &stubProvider{name: "second", available: true, result: &Result{Matched: true, Latitude: 2, Source: "second"}}

	c := NewClient(WithProviders(first, second))
	res, err := c.Geocode(context.Background(), AddressInput{OneLine: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Source)
	assert.Equal(t, 0, second.callCount())
}

func TestClient_CascadesOnNoMatch(t *testing.T) {
	first := &stubProvider{name: "first", available: true, result: &Result{Matched: false}}
	second := &stubProvider{name: "second", available: true, result: &Result{Matched: true, Source: "second"}}

	c := NewClient(WithProviders(first, second))
	res, err := c.Geocode(context.Background(), AddressInput{OneLine: "1 Main St"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "second", res.Source)
}

func TestClient_CascadesOnError(t *testing.T) {
	first := &stubProvider{name: "first", available: true, err: assert.AnError}
	second := &stubProvider{name: "second", available: true, result: &Result{Matched: true, Source: "second"}}

	c := NewClient(WithProviders(first, second))
	res, err := c.Geocode(context.Background(), AddressInput{OneLine: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Source)
}

func TestClient_SkipsUnavailableProviders(t *testing.T) {
	down := &stubProvider{name: "down", available: false, result: &Result{Matched: true, Source: "down"}}
	up := &stubProvider{name: "up", available: true, result: &Result{Matched: true, Source: "up"}}

	c := NewClient(WithProviders(down, up))
	res, err := c.Geocode(context.Background(), AddressInput{OneLine: "x"})
	require.NoError(t, err)
	assert.Equal(t, "up", res.Source)
	assert.Equal(t, 0, down.callCount())
}

func TestClient_AllMissReturnsUnmatched(t *testing.T) {
	miss := &stubProvider{name: "miss", available: true, result: &Result{Matched: false}}

	c := NewClient(WithProviders(miss))
	res, err := c.Geocode(context.Background(), AddressInput{OneLine: "nowhere"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestClient_CacheHitSkipsProviders(t *testing.T) {
	p := &stubProvider{name: "p", available: true, result: &Result{Matched: true, Source: "p"}}
	cache := newMapCache()

	c := NewClient(WithProviders(p), WithCache(cache))
	addr := AddressInput{OneLine: "1 Main St"}

	_, err := c.Geocode(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount())

	_, err = c.Geocode(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount(), "second lookup should hit the cache")
}

func TestClient_NonMatchesAreCachedToo(t *testing.T) {
	miss := &stubProvider{name: "miss", available: true, result: &Result{Matched: false}}
	cache := newMapCache()

	c := NewClient(WithProviders(miss), WithCache(cache))
	addr := AddressInput{OneLine: "nowhere"}

	_, err := c.Geocode(context.Background(), addr)
	require.NoError(t, err)
	_, err = c.Geocode(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1, miss.callCount())
}

func TestBatchGeocode_PreservesOrder(t *testing.T) {
	p := &stubProvider{name: "p", available: true, result: &Result{Matched: true, Source: "p"}}
	c := NewClient(WithProviders(p), WithBatchConcurrency(3))

	addrs := []AddressInput{
		{ID: "a", OneLine: "1 First St"},
		{ID: "b", OneLine: "2 Second St"},
		{ID: "c", OneLine: "3 Third St"},
	}
	results, err := c.BatchGeocode(context.Background(), addrs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Matched)
	}
}

func TestBatchGeocode_Empty(t *testing.T) {
	c := NewClient(WithProviders(&stubProvider{available: true, result: &Result{}}))
	results, err := c.BatchGeocode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestCacheKey_NormalizesCase(t *testing.T) {
	a := cacheKey(AddressInput{OneLine: "1 Main St"})
	b := cacheKey(AddressInput{OneLine: "  1 MAIN st "})
	assert.Equal(t, a, b)

	c := cacheKey(AddressInput{OneLine: "2 Main St"})
	assert.NotEqual(t, a, c)
}

func TestFormatOneLine_StructuredFallback(t *testing.T) {
	s := formatOneLine(AddressInput{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701"})
	assert.Equal(t, "1 Main St, Springfield, IL, 62701", s)

	s = formatOneLine(AddressInput{OneLine: "override", Street: "ignored"})
	assert.Equal(t, "override", s)
}

func TestCensusProvider_ParsesMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Public_AR_Current", r.URL.Query().Get("benchmark"))
		assert.NotEmpty(t, r.URL.Query().Get("address"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"addressMatches":[{"coordinates":{"x":-74.0,"y":40.7},"matchedAddress":"1 MAIN ST"}]}}`))
	}))
	defer srv.Close()

	p := NewCensusProvider(srv.Client()).WithBaseURL(srv.URL)
	res, err := p.Geocode(context.Background(), AddressInput{OneLine: "1 Main St"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.InDelta(t, 40.7, res.Latitude, 1e-9)
	assert.InDelta(t, -74.0, res.Longitude, 1e-9)
	assert.Equal(t, "census", res.Source)
	assert.Equal(t, "rooftop", res.Quality)
}

func TestCensusProvider_NoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"addressMatches":[]}}`))
	}))
	defer srv.Close()

	p := NewCensusProvider(srv.Client()).WithBaseURL(srv.URL)
	res, err := p.Geocode(context.Background(), AddressInput{OneLine: "nowhere"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestCensusProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewCensusProvider(srv.Client()).WithBaseURL(srv.URL)
	_, err := p.Geocode(context.Background(), AddressInput{OneLine: "x"})
	assert.Error(t, err)
}

func TestNominatimProvider_ParsesMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UrbanMapper/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`[{"lat":"51.5074","lon":"-0.1278","display_name":"London"}]`))
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.Client(), srv.URL)
	res, err := p.Geocode(context.Background(), AddressInput{OneLine: "London"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.InDelta(t, 51.5074, res.Latitude, 1e-9)
	assert.Equal(t, "nominatim", res.Source)
	assert.Equal(t, "approximate", res.Quality)
}

func TestNominatimProvider_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.Client(), srv.URL)
	res, err := p.Geocode(context.Background(), AddressInput{OneLine: "nowhere"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}
