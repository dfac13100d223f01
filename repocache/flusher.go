package repocache

import (
	"log/slog"
	"sync"
	"time"

	"repoctl"
)

// Flusher coalesces store mutations and writes them to the database after a
// quiet period. It is a performance optimization, not a correctness boundary:
// in-memory state may briefly run ahead of disk, and a failed flush is logged
// and dropped.
type Flusher struct {
	db     *DB
	delay  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	entities map[string]*repoctl.Repository
	pages    map[string]*PageIndex
	closed   bool
}

// NewFlusher creates a flusher writing to db after delay.
func NewFlusher(db *DB, delay time.Duration, logger *slog.Logger) *Flusher {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		db:       db,
		delay:    delay,
		logger:   logger,
		entities: make(map[string]*repoctl.Repository),
		pages:    make(map[string]*PageIndex),
	}
}

// EnqueueEntity schedules an entity write; a nil repository deletes it.
func (f *Flusher) EnqueueEntity(id string, r *repoctl.Repository) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.entities[id] = r
	f.scheduleLocked()
}

// EnqueuePage schedules a page write; a nil index deletes it.
func (f *Flusher) EnqueuePage(digest string, p *PageIndex) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.pages[digest] = p
	f.scheduleLocked()
}

func (f *Flusher) scheduleLocked() {
	if f.timer != nil {
		return
	}
	f.timer = time.AfterFunc(f.delay, f.Flush)
}

// Flush writes all pending changes immediately.
func (f *Flusher) Flush() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	entities := f.entities
	pages := f.pages
	f.entities = make(map[string]*repoctl.Repository)
	f.pages = make(map[string]*PageIndex)
	f.mu.Unlock()

	if len(entities) == 0 && len(pages) == 0 {
		return
	}
	if err := f.db.Apply(entities, pages); err != nil {
		f.logger.Debug("cache flush failed", "error", err)
	}
}

// PurgeAll drops pending changes and clears the database.
func (f *Flusher) PurgeAll() error {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.entities = make(map[string]*repoctl.Repository)
	f.pages = make(map[string]*PageIndex)
	f.mu.Unlock()

	return f.db.PurgeAll()
}

// Close flushes pending changes and closes the database.
func (f *Flusher) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.Flush()
	f.db.Close()
	return nil
}
