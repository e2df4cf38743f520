// Package control drives batch telemetry fetches: it resolves sessions
// and rosters, runs the adaptive fetcher per driver, saves datasets and
// keeps the metadata cache and run ledger up to date.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/indexing/fetcher"
	"github.com/vietddude/racefetch/internal/infra/rpc/provider"
)

// ErrSessionLocked is returned when another process holds the fetch lock
// of a session.
var ErrSessionLocked = errors.New("session fetch already in progress")

// RaceAPI is the part of the remote client the service uses.
type RaceAPI interface {
	fetcher.Source

	// Session returns the session for a key
	Session(ctx context.Context, sessionKey int) (*domain.SessionInfo, error)

	// Sessions returns the race sessions of a year
	Sessions(ctx context.Context, year int) ([]domain.SessionInfo, error)

	// Drivers returns the roster of a session
	Drivers(ctx context.Context, sessionKey int) ([]domain.DriverInfo, error)

	// SessionLocation returns all position samples of a session at once
	SessionLocation(ctx context.Context, sessionKey int) ([]domain.Sample, error)

	// Health returns transport health
	Health() provider.HealthStatus
}

// Locker guards a session against concurrent fetches.
type Locker interface {
	AcquireLock(ctx context.Context, sessionKey int, owner string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, sessionKey int, ttl time.Duration) error
	ReleaseLock(ctx context.Context, sessionKey int, owner string) error
}

// FetchOptions tune one batch fetch.
type FetchOptions struct {
	UseCache     bool // serve the roster from the metadata cache
	CarData      bool // fetch car-state samples next to position
	ProbeSession bool // try one session-wide position request first
	SampleEvery  int  // keep every Nth position sample (<= 1 keeps all)
}

// FetchSummary counts per-driver outcomes of a batch fetch.
type FetchSummary struct {
	Loaded int
	Failed int
	Probed bool // served by the session-wide request
}

// CacheEntry describes one metadata cache entry.
type CacheEntry struct {
	Key     string
	Size    int64
	ModTime time.Time
}
