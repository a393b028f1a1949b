package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "urbanmapper.db", cfg.Store.Path)
	assert.Equal(t, "layer_nodes", cfg.Layer.Table)
	assert.Equal(t, []string{"census", "nominatim"}, cfg.Geocode.Providers)
	assert.Equal(t, 4, cfg.Geocode.Concurrency)
	assert.True(t, cfg.Geocode.CacheEnabled)
	assert.Equal(t, 60, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, "/tmp/urbanmapper", cfg.Fetch.TempDir)
	assert.Equal(t, "haversine", cfg.Join.Metric)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  path: custom.db
layer:
  database_url: postgres://localhost/gis
  table: intersections
join:
  metric: euclidean
  max_distance: 500
log:
  level: debug
  format: console
server:
  port: 9090
`
	cwd, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "custom.db", cfg.Store.Path)
	assert.Equal(t, "postgres://localhost/gis", cfg.Layer.DatabaseURL)
	assert.Equal(t, "intersections", cfg.Layer.Table)
	assert.Equal(t, "euclidean", cfg.Join.Metric)
	assert.InDelta(t, 500.0, cfg.Join.MaxDistance, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Defaults still apply for unset keys.
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadBadYAML(t *testing.T) {
	chTempDir(t)

	cwd, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "config.yaml"), []byte("store: [not a map"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	assert.Error(t, InitLogger(LogConfig{Level: "verbose", Format: "json"}))
}
