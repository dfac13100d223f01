// Package repocache is a normalized, disk-backed object cache for
// repositories. Entities are addressed by their node id; page skeletons
// (ordered id lists plus pagination state) are addressed by a digest of the
// partition key and cursor. The in-memory store is the source of truth;
// persistence is a debounced, best-effort side channel and its failure only
// degrades the cache to memory-only.
package repocache

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"repoctl"
)

// entityKind prefixes persisted entity keys; the cache has one entity type.
const entityKind = "Repository"

// PageIndex is the persisted skeleton of a page: the member ids in order plus
// the pagination state needed to reconstruct a Page.
type PageIndex struct {
	IDs         []string `json:"ids"`
	EndCursor   string   `json:"end_cursor"`
	HasNextPage bool     `json:"has_next_page"`
	TotalCount  int      `json:"total_count"`
}

// Store is the normalized in-memory cache with optional persistence.
type Store struct {
	mu       sync.Mutex
	entities map[string]*repoctl.Repository
	pages    map[string]*PageIndex

	flusher *Flusher
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPersistence attaches a database and starts a debounced flusher for it.
// The store warms itself from the database; a load failure yields a cold
// cache, not an error.
func WithPersistence(db *DB, flushDelay time.Duration) Option {
	return func(s *Store) {
		entities, pages, err := db.LoadAll()
		if err != nil {
			s.logger.Debug("cache warm-up failed, starting cold", "error", err)
		} else {
			s.entities = entities
			s.pages = pages
		}
		s.flusher = NewFlusher(db, flushDelay, s.logger)
	}
}

// New creates a Store.
func New(opts ...Option) *Store {
	s := &Store{
		entities: make(map[string]*repoctl.Repository),
		pages:    make(map[string]*PageIndex),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.entities == nil {
		s.entities = make(map[string]*repoctl.Repository)
	}
	if s.pages == nil {
		s.pages = make(map[string]*PageIndex)
	}
	return s
}

// PageDigest computes the storage key for a page skeleton from its partition
// key and cursor. An empty cursor addresses the first page.
func PageDigest(partitionKey, cursor string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(partitionKey))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(cursor))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// ReadFragment returns a copy of the cached entity, or false on a miss. It
// never fails; a miss lets callers show nothing now and refresh later.
func (s *Store) ReadFragment(id string) (*repoctl.Repository, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	return cloneRepository(r), true
}

// FindByName returns a copy of the cached entity matching nameWithOwner, or
// false when no cached repository carries that name.
func (s *Store) FindByName(nameWithOwner string) (*repoctl.Repository, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.entities {
		if r.NameWithOwner == nameWithOwner {
			return cloneRepository(r), true
		}
	}
	return nil, false
}

// WriteFragment upserts fields onto the entity with apply, creating the
// entity if absent.
func (s *Store) WriteFragment(id string, apply func(*repoctl.Repository)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.entities[id]
	if !ok {
		r = &repoctl.Repository{ID: id}
		s.entities[id] = r
	}
	apply(r)
	s.enqueueEntityLocked(id)
}

// Modify applies apply to an existing entity. It is a no-op on a missing
// entity and reports whether the entity was present.
func (s *Store) Modify(id string, apply func(*repoctl.Repository)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.entities[id]
	if !ok {
		return false
	}
	apply(r)
	s.enqueueEntityLocked(id)
	return true
}

// Evict removes the entity and strips its id from every page skeleton,
// decrementing each affected page's total count. Evicting an absent id is a
// no-op, so repeated application leaves counts unchanged.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; ok {
		delete(s.entities, id)
		if s.flusher != nil {
			s.flusher.EnqueueEntity(id, nil)
		}
	}

	for digest, page := range s.pages {
		if removed := removeID(page, id); removed {
			s.enqueuePageLocked(digest)
		}
	}
}

// GC removes entities unreachable from any page skeleton and returns how many
// were reclaimed.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reachable := make(map[string]struct{})
	for _, page := range s.pages {
		for _, id := range page.IDs {
			reachable[id] = struct{}{}
		}
	}

	reclaimed := 0
	for id := range s.entities {
		if _, ok := reachable[id]; !ok {
			delete(s.entities, id)
			if s.flusher != nil {
				s.flusher.EnqueueEntity(id, nil)
			}
			reclaimed++
		}
	}
	return reclaimed
}

// StorePage normalizes a fetched page: every repository is upserted as an
// entity and the page skeleton is stored under the partition key and cursor.
func (s *Store) StorePage(partitionKey, cursor string, page *repoctl.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := &PageIndex{
		IDs:         make([]string, 0, len(page.Repositories)),
		EndCursor:   page.EndCursor,
		HasNextPage: page.HasNextPage,
		TotalCount:  page.TotalCount,
	}
	for i := range page.Repositories {
		r := &page.Repositories[i]
		s.entities[r.ID] = cloneRepository(r)
		idx.IDs = append(idx.IDs, r.ID)
		s.enqueueEntityLocked(r.ID)
	}

	digest := PageDigest(partitionKey, cursor)
	s.pages[digest] = idx
	s.enqueuePageLocked(digest)
}

// Page materializes the cached page for the partition key and cursor. Any
// missing member entity makes the whole page a miss so callers fall back to
// the network rather than render holes.
func (s *Store) Page(partitionKey, cursor string) (*repoctl.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.pages[PageDigest(partitionKey, cursor)]
	if !ok {
		return nil, false
	}

	page := &repoctl.Page{
		Repositories: make([]repoctl.Repository, 0, len(idx.IDs)),
		EndCursor:    idx.EndCursor,
		HasNextPage:  idx.HasNextPage,
		TotalCount:   idx.TotalCount,
	}
	for _, id := range idx.IDs {
		r, ok := s.entities[id]
		if !ok {
			return nil, false
		}
		page.Repositories = append(page.Repositories, *cloneRepository(r))
	}
	return page, true
}

// Stats reports current cache occupancy.
type Stats struct {
	Entities int
	Pages    int
}

// GetStats returns current cache statistics.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Entities: len(s.entities), Pages: len(s.pages)}
}

// Purge clears all in-memory state and the persisted database.
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make(map[string]*repoctl.Repository)
	s.pages = make(map[string]*PageIndex)
	if s.flusher != nil {
		return s.flusher.PurgeAll()
	}
	return nil
}

// Flush forces any pending writes to disk.
func (s *Store) Flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	if s.flusher != nil {
		return s.flusher.Close()
	}
	return nil
}

func (s *Store) enqueueEntityLocked(id string) {
	if s.flusher == nil {
		return
	}
	s.flusher.EnqueueEntity(id, cloneRepository(s.entities[id]))
}

func (s *Store) enqueuePageLocked(digest string) {
	if s.flusher == nil {
		return
	}
	page := s.pages[digest]
	cp := *page
	cp.IDs = append([]string(nil), page.IDs...)
	s.flusher.EnqueuePage(digest, &cp)
}

func removeID(page *PageIndex, id string) bool {
	for i, candidate := range page.IDs {
		if candidate == id {
			page.IDs = append(page.IDs[:i], page.IDs[i+1:]...)
			if page.TotalCount > 0 {
				page.TotalCount--
			}
			return true
		}
	}
	return false
}

func cloneRepository(r *repoctl.Repository) *repoctl.Repository {
	cp := *r
	if r.PrimaryLanguage != nil {
		lang := *r.PrimaryLanguage
		cp.PrimaryLanguage = &lang
	}
	if r.Parent != nil {
		parent := *r.Parent
		cp.Parent = &parent
	}
	return &cp
}
