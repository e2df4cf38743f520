package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/racefetch/internal/indexing/fetcher"
	"github.com/vietddude/racefetch/internal/infra/storage/ledger"
)

// EnvPrefix namespaces environment overrides, e.g. RACEFETCH_API_BASE_URL.
const EnvPrefix = "RACEFETCH_"

// Load reads configuration from a YAML file, applies RACEFETCH_*
// environment overrides and fills defaults. An empty path skips the file.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOptional loads path when it exists and falls back to defaults
// (plus environment overrides) when it doesn't.
func LoadOptional(path string) (*AppConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Load("")
	}
	return Load(path)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.openf1.org/v1"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.API.RequestsPerSecond == 0 {
		cfg.API.RequestsPerSecond = 3
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 1
	}
	if cfg.API.BreakerFailures == 0 {
		cfg.API.BreakerFailures = 5
	}
	if cfg.API.BreakerTimeout == 0 {
		cfg.API.BreakerTimeout = 30 * time.Second
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = "racefetch"
	}

	r := &cfg.API.Retry
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = time.Second
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = 2
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 60 * time.Second
	}
	if r.Jitter == nil {
		jitter := true
		r.Jitter = &jitter
	}

	def := fetcher.DefaultConfig()
	f := &cfg.Fetcher
	if f.InitialWindow == 0 {
		f.InitialWindow = def.InitialWindow
	}
	if f.MinWindow == 0 {
		f.MinWindow = def.MinWindow
	}
	if f.MaxRetriesPerWindow == 0 {
		f.MaxRetriesPerWindow = def.MaxRetriesPerWindow
	}
	if f.DelayBetweenRequests == 0 {
		f.DelayBetweenRequests = def.DelayBetweenRequests
	}
	if f.MaxFloorRejections == 0 {
		f.MaxFloorRejections = def.MaxFloorRejections
	}

	if cfg.Fetch.DriverDelay == 0 {
		cfg.Fetch.DriverDelay = time.Second
	}
	if cfg.Fetch.SampleEvery <= 0 {
		cfg.Fetch.SampleEvery = 1
	}
	if cfg.Fetch.LockTTL == 0 {
		cfg.Fetch.LockTTL = 30 * time.Minute
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "f1_data"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = ".f1_cache"
	}

	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = ledger.DriverSQLite
	}
	if cfg.Ledger.Driver == ledger.DriverSQLite && cfg.Ledger.DSN == "" {
		cfg.Ledger.DSN = filepath.Join(cfg.Storage.CacheDir, "runs.db")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
