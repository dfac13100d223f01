// Package freshness tracks when each cache partition was last fetched from
// the network, backed by a small JSON file. Staleness tracking is a
// performance optimization, not a correctness requirement: a missing,
// unreadable or malformed index behaves as an empty one, and persistence
// failures never propagate to callers.
package freshness

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// SchemaVersion is the on-disk format version.
	SchemaVersion = 1

	// DefaultListTTL is the staleness window for repository listings.
	DefaultListTTL = 30 * time.Minute

	// DefaultSearchTTL is the staleness window for search results. Search
	// reflects near-real-time state users are actively hunting for, so it
	// goes stale much faster.
	DefaultSearchTTL = 90 * time.Second
)

// fileFormat is the serialized index.
type fileFormat struct {
	Version int               `json:"version"`
	Fetched map[string]string `json:"fetched"`
}

// Index maps partition keys to the time of the last successful network fetch.
type Index struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	fetched map[string]string
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		i.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(i *Index) {
		i.now = now
	}
}

// Open loads the index at path. Any read or parse failure yields an empty
// index; Open never returns an error.
func Open(path string, opts ...Option) *Index {
	idx := &Index{
		path:    path,
		logger:  slog.Default(),
		now:     time.Now,
		fetched: make(map[string]string),
	}
	for _, opt := range opts {
		opt(idx)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			idx.logger.Debug("freshness index unreadable, starting empty", "path", path, "error", err)
		}
		return idx
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		idx.logger.Debug("freshness index malformed, starting empty", "path", path, "error", err)
		return idx
	}
	if ff.Fetched != nil {
		idx.fetched = ff.Fetched
	}
	return idx
}

// IsFresh reports whether key was fetched within ttl. A never-fetched key, an
// unparseable stored timestamp, or an elapsed window all report false.
func (i *Index) IsFresh(key string, ttl time.Duration) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	raw, ok := i.fetched[key]
	if !ok {
		return false
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return i.now().Sub(fetchedAt) < ttl
}

// MarkFetched upserts the record for key to the current time and persists the
// index. Persistence failures are logged and swallowed; a write failure must
// never abort the calling fetch.
func (i *Index) MarkFetched(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.fetched[key] = i.now().Format(time.RFC3339Nano)
	if err := i.persistLocked(); err != nil {
		i.logger.Debug("failed to persist freshness index", "path", i.path, "error", err)
	}
}

// Purge clears all records and removes the on-disk file.
func (i *Index) Purge() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.fetched = make(map[string]string)
	if err := os.Remove(i.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing freshness index: %w", err)
	}
	return nil
}

// Len returns the number of tracked partitions.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.fetched)
}

// persistLocked writes the whole index atomically via temp file and rename.
func (i *Index) persistLocked() error {
	data, err := json.Marshal(fileFormat{Version: SchemaVersion, Fetched: i.fetched})
	if err != nil {
		return fmt.Errorf("encoding freshness index: %w", err)
	}

	dir := filepath.Dir(i.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".freshness-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing freshness index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, i.path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
