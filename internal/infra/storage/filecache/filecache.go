// Package filecache stores JSON documents as one file per key.
//
// Keys are sanitized into file names by replacing every character
// outside [a-zA-Z0-9_.-] with '_'. The mapping is lossy: "a/b" and
// "a:b" name the same file, and the last write wins.
package filecache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vietddude/racefetch/internal/infra/storage"
)

const ext = ".json"

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_\-.]`)

// SanitizeKey maps a key to its file name stem.
func SanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}

// Cache is a directory of pretty-printed JSON files.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// New creates a cache rooted at dir. The directory is created on first write.
func New(dir string) *Cache {
	return &Cache{
		dir:    dir,
		logger: slog.Default().With("component", "filecache", "dir", dir),
	}
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file path for key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, SanitizeKey(key)+ext)
}

// Write stores v under key. The file is written to a temporary name in
// the same directory and renamed into place, so readers never observe a
// partial document.
func (c *Cache) Write(key string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	path := c.Path(key)
	tmp, err := os.CreateTemp(c.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", key, err)
	}

	c.logger.Debug("Cache entry written", "key", key, "bytes", len(data))
	return path, nil
}

// Read decodes the entry for key into dst. Missing, unreadable and
// malformed entries are all reported as a miss.
func (c *Cache) Read(key string, dst any) bool {
	if err := ReadFile(c.Path(key), dst); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("Cache entry unreadable", "key", key, "error", err)
		}
		return false
	}
	return true
}

// ReadFile decodes the JSON document at path into dst.
func ReadFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// List returns the keys (sanitized stems) of all entries. A missing
// directory is an empty cache.
func (c *Cache) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if name, ok := entryKey(e); ok {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// Stat returns size and modification time of the entry for key.
func (c *Cache) Stat(key string) (storage.EntryInfo, error) {
	path := c.Path(key)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.EntryInfo{}, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return storage.EntryInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return storage.EntryInfo{
		Key:     SanitizeKey(key),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Clear deletes every entry and returns the number removed. Failures on
// individual files are skipped.
func (c *Cache) Clear() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if _, ok := entryKey(e); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			c.logger.Warn("Failed to remove cache entry", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed
}

func entryKey(e fs.DirEntry) (string, bool) {
	name := e.Name()
	if e.IsDir() || !strings.HasSuffix(name, ext) {
		return "", false
	}
	return strings.TrimSuffix(name, ext), true
}
