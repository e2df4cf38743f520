package config

import (
	"time"

	"github.com/vietddude/racefetch/internal/indexing/fetcher"
	redisclient "github.com/vietddude/racefetch/internal/infra/redis"
	"github.com/vietddude/racefetch/internal/infra/storage/ledger"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	API     APIConfig      `yaml:"api"     envPrefix:"API_"`
	Fetcher fetcher.Config `yaml:"fetcher" envPrefix:"FETCHER_"`
	Fetch   FetchConfig    `yaml:"fetch"   envPrefix:"FETCH_"`
	Storage StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Ledger  ledger.Config  `yaml:"ledger"  envPrefix:"LEDGER_"`
	Server  ServerConfig   `yaml:"server"  envPrefix:"SERVER_"`
	Logging LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// APIConfig holds settings for the telemetry API and its transport.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"            env:"BASE_URL"`
	Timeout           time.Duration `yaml:"timeout"             env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"` // 0 = unthrottled
	Burst             int           `yaml:"burst"               env:"BURST"`
	BreakerFailures   uint32        `yaml:"breaker_failures"    env:"BREAKER_FAILURES"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"     env:"BREAKER_TIMEOUT"`
	UserAgent         string        `yaml:"user_agent"          env:"USER_AGENT"`
	Retry             RetryConfig   `yaml:"retry"               envPrefix:"RETRY_"`
}

// RetryConfig holds the client-level retry policy.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"    env:"MAX_RETRIES"`
	BaseDelay     time.Duration `yaml:"base_delay"     env:"BASE_DELAY"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
	MaxDelay      time.Duration `yaml:"max_delay"      env:"MAX_DELAY"`
	Jitter        *bool         `yaml:"jitter"         env:"JITTER"`
}

// FetchConfig holds batch fetch settings.
type FetchConfig struct {
	DriverDelay  time.Duration `yaml:"driver_delay"  env:"DRIVER_DELAY"`  // pause between drivers
	SampleEvery  int           `yaml:"sample_every"  env:"SAMPLE_EVERY"`  // keep every Nth position sample
	CarData      bool          `yaml:"car_data"      env:"CAR_DATA"`      // fetch car-state alongside position
	ProbeSession bool          `yaml:"probe_session" env:"PROBE_SESSION"` // try one session-wide request first
	LockTTL      time.Duration `yaml:"lock_ttl"      env:"LOCK_TTL"`      // redis session lock TTL
}

// StorageConfig holds output and metadata cache locations.
type StorageConfig struct {
	DataDir  string             `yaml:"data_dir"  env:"DATA_DIR"`
	CacheDir string             `yaml:"cache_dir" env:"CACHE_DIR"`
	Redis    redisclient.Config `yaml:"redis"     envPrefix:"REDIS_"`
}

// ServerConfig holds progress/metrics server settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"` // debug, info, warn, error
}
