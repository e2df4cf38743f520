// Package memory provides in-process storage backends, used when no
// ledger database is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/infra/storage"
)

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

// RunRepo implements storage.RunRepository in memory.
type RunRepo struct {
	mu   sync.RWMutex
	runs []*domain.Run
}

func NewRunRepo() *RunRepo {
	return &RunRepo{}
}

func (r *RunRepo) Record(ctx context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	cp := *run
	r.runs = append(r.runs, &cp)
	return nil
}

func (r *RunRepo) Recent(ctx context.Context, limit int) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := newestFirst(r.runs, func(*domain.Run) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RunRepo) ForSession(ctx context.Context, sessionKey int) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newestFirst(r.runs, func(run *domain.Run) bool { return run.SessionKey == sessionKey }), nil
}

func (r *RunRepo) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.runs)
	r.runs = slices.DeleteFunc(r.runs, func(run *domain.Run) bool { return run.StartedAt.Before(t) })
	return int64(before - len(r.runs)), nil
}

func (r *RunRepo) Close() error { return nil }

func newestFirst(runs []*domain.Run, keep func(*domain.Run) bool) []*domain.Run {
	out := make([]*domain.Run, 0, len(runs))
	for _, run := range runs {
		if keep(run) {
			cp := *run
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out
}

// -----------------------------------------------------------------------------
// Meta Store
// -----------------------------------------------------------------------------

type metaEntry struct {
	data    []byte
	modTime time.Time
}

// MetaStore implements storage.MetaStore in memory. Values are stored
// encoded so reads return copies.
type MetaStore struct {
	mu      sync.RWMutex
	entries map[string]metaEntry
}

func NewMetaStore() *MetaStore {
	return &MetaStore{entries: make(map[string]metaEntry)}
}

func (m *MetaStore) Read(key string, dst any) bool {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return json.Unmarshal(e.data, dst) == nil
}

func (m *MetaStore) Write(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = metaEntry{data: data, modTime: time.Now()}
	return "memory://" + key, nil
}

func (m *MetaStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MetaStore) Stat(key string) (storage.EntryInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return storage.EntryInfo{}, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return storage.EntryInfo{
		Key:     key,
		Path:    "memory://" + key,
		Size:    int64(len(e.data)),
		ModTime: e.modTime,
	}, nil
}

func (m *MetaStore) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]metaEntry)
	return n
}
