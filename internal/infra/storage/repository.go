package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/racefetch/internal/core/domain"
)

var (
	// ErrNotFound is returned when a stored entry doesn't exist
	ErrNotFound = errors.New("entry not found")
)

// EntryInfo describes one stored entry.
type EntryInfo struct {
	Key     string
	Path    string // file path, or backend address for remote stores
	Size    int64
	ModTime time.Time
}

// MetaStore is a key/value store of JSON documents. Reads never fail:
// a missing or unreadable entry is a miss. Writes replace the entry
// atomically, the last writer wins.
type MetaStore interface {
	// Read decodes the entry into dst and reports whether it was found
	Read(key string, dst any) bool

	// Write stores v under key and returns where it was written
	Write(key string, v any) (string, error)

	// List returns the keys of all entries
	List() ([]string, error)

	// Stat returns size and modification time of an entry
	Stat(key string) (EntryInfo, error)

	// Clear deletes all entries and returns how many were removed
	Clear() int
}

// RunRepository records per-driver fetch runs
type RunRepository interface {
	// Record saves a finished run
	Record(ctx context.Context, run *domain.Run) error

	// Recent returns the latest runs, newest first
	Recent(ctx context.Context, limit int) ([]*domain.Run, error)

	// ForSession returns all runs of a session, newest first
	ForSession(ctx context.Context, sessionKey int) ([]*domain.Run, error)

	// DeleteOlderThan removes runs started before t and returns the count
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)

	// Close releases the repository
	Close() error
}
