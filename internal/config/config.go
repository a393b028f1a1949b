package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Layer   LayerConfig   `yaml:"layer" mapstructure:"layer"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Join    JoinConfig    `yaml:"join" mapstructure:"join"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-tracking database.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// LayerConfig configures the PostGIS node layer backend.
type LayerConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// GeocodeConfig configures the geocoding providers.
type GeocodeConfig struct {
	Providers        []string `yaml:"providers" mapstructure:"providers"`
	CensusBaseURL    string   `yaml:"census_base_url" mapstructure:"census_base_url"`
	NominatimBaseURL string   `yaml:"nominatim_base_url" mapstructure:"nominatim_base_url"`
	Concurrency      int      `yaml:"concurrency" mapstructure:"concurrency"`
	CacheEnabled     bool     `yaml:"cache_enabled" mapstructure:"cache_enabled"`
}

// FetchConfig configures remote dataset downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	TempDir     string  `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// JoinConfig holds default spatial join settings.
type JoinConfig struct {
	Metric      string  `yaml:"metric" mapstructure:"metric"`
	MaxDistance float64 `yaml:"max_distance" mapstructure:"max_distance"`
}

// ServerConfig configures the read-only results API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("URBANMAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "urbanmapper.db")
	v.SetDefault("layer.table", "layer_nodes")
	v.SetDefault("geocode.providers", []string{"census", "nominatim"})
	v.SetDefault("geocode.concurrency", 4)
	v.SetDefault("geocode.cache_enabled", true)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rps", 0)
	v.SetDefault("fetch.temp_dir", "/tmp/urbanmapper")
	v.SetDefault("join.metric", "haversine")
	v.SetDefault("join.max_distance", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
