package redis

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/racefetch/internal/infra/storage"
)

const (
	fieldData  = "data"
	fieldMtime = "mtime"
)

// MetaStore implements storage.MetaStore with one Redis hash per key.
type MetaStore struct {
	client *Client
	logger *slog.Logger
}

// NewMetaStore creates a metadata store on client.
func NewMetaStore(client *Client) *MetaStore {
	return &MetaStore{
		client: client,
		logger: slog.Default().With("component", "redis-meta"),
	}
}

// Read decodes the entry into dst. Errors are reported as a miss.
func (m *MetaStore) Read(key string, dst any) bool {
	ctx, cancel := m.client.opContext()
	defer cancel()

	data, err := m.client.rdb.HGet(ctx, metaKey(m.client.prefix, key), fieldData).Bytes()
	if err != nil {
		if err != redis.Nil {
			m.logger.Debug("Meta read failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// Write stores v under key. HSET replaces both fields in one command.
func (m *MetaStore) Write(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}

	ctx, cancel := m.client.opContext()
	defer cancel()

	rkey := metaKey(m.client.prefix, key)
	if err := m.client.rdb.HSet(ctx, rkey,
		fieldData, data,
		fieldMtime, time.Now().UnixMilli(),
	).Err(); err != nil {
		return "", fmt.Errorf("hset failed: %w", err)
	}
	return "redis://" + rkey, nil
}

// List returns the keys of all entries.
func (m *MetaStore) List() ([]string, error) {
	ctx, cancel := m.client.opContext()
	defer cancel()

	prefix := metaKey(m.client.prefix, "")
	var keys []string
	iter := m.client.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return keys, nil
}

// Stat returns the stored size and write time of an entry.
func (m *MetaStore) Stat(key string) (storage.EntryInfo, error) {
	ctx, cancel := m.client.opContext()
	defer cancel()

	rkey := metaKey(m.client.prefix, key)
	vals, err := m.client.rdb.HMGet(ctx, rkey, fieldData, fieldMtime).Result()
	if err != nil {
		return storage.EntryInfo{}, fmt.Errorf("hmget failed: %w", err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return storage.EntryInfo{}, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}

	info := storage.EntryInfo{Key: key, Path: "redis://" + rkey, Size: int64(len(data))}
	if s, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			info.ModTime = time.UnixMilli(ms)
		}
	}
	return info, nil
}

// Clear deletes all entries and returns how many were removed.
func (m *MetaStore) Clear() int {
	keys, err := m.List()
	if err != nil {
		m.logger.Warn("Failed to list meta entries", "error", err)
		return 0
	}

	removed := 0
	for _, k := range keys {
		ctx, cancel := m.client.opContext()
		n, err := m.client.rdb.Del(ctx, metaKey(m.client.prefix, k)).Result()
		cancel()
		if err != nil {
			m.logger.Warn("Failed to delete meta entry", "key", k, "error", err)
			continue
		}
		removed += int(n)
	}
	return removed
}
