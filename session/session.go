// Package session holds the in-memory view state of one browsing session:
// the loaded repository list, pagination bookkeeping, the client-side
// visibility filter and the selection cursor.
package session

import (
	"sync"

	"repoctl"
)

// Filter restricts the visible list by repository visibility. Filtering is a
// presentation concern: it never changes what was fetched or cached.
type Filter int

const (
	FilterAll Filter = iota
	FilterPublic
	FilterPrivate
	FilterInternal
)

// Matches reports whether a repository passes the filter.
func (f Filter) Matches(r *repoctl.Repository) bool {
	switch f {
	case FilterPublic:
		return r.Visibility == repoctl.VisibilityPublic
	case FilterPrivate:
		return r.Visibility == repoctl.VisibilityPrivate
	case FilterInternal:
		return r.Visibility == repoctl.VisibilityInternal
	default:
		return true
	}
}

// Session is the mutable view state. A reset fetch replaces the list, a
// continuation appends; results from a superseded fetch are dropped by
// generation check.
type Session struct {
	mu sync.Mutex

	gen         uint64
	repos       []repoctl.Repository
	filter      Filter
	selected    int
	totalCount  int
	endCursor   string
	hasNextPage bool

	rate     *repoctl.RateLimit
	prevRate *repoctl.RateLimit
}

// New creates an empty Session.
func New() *Session {
	return &Session{}
}

// Begin starts a new fetch generation and returns its token. Any page applied
// with an older token is ignored, so a slow reset fetch can never clobber the
// results of the one that superseded it.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// ApplyPage merges a fetched page into the session. continuation appends to
// the current list; otherwise the list is replaced. Returns false when gen is
// stale and the page was dropped.
func (s *Session) ApplyPage(gen uint64, page *repoctl.Page, continuation bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return false
	}

	if continuation {
		s.repos = append(s.repos, page.Repositories...)
	} else {
		s.repos = append([]repoctl.Repository(nil), page.Repositories...)
		s.selected = 0
	}
	s.totalCount = page.TotalCount
	s.endCursor = page.EndCursor
	s.hasNextPage = page.HasNextPage

	if page.RateLimit != nil {
		s.prevRate = s.rate
		s.rate = page.RateLimit
	}

	s.clampSelectionLocked()
	return true
}

// SetFilter changes the visibility filter and clamps the selection into the
// new visible range.
func (s *Session) SetFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
	s.clampSelectionLocked()
}

// Visible returns the filtered repository list. The slice is a copy.
func (s *Session) Visible() []repoctl.Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

func (s *Session) visibleLocked() []repoctl.Repository {
	out := make([]repoctl.Repository, 0, len(s.repos))
	for i := range s.repos {
		if s.filter.Matches(&s.repos[i]) {
			out = append(out, s.repos[i])
		}
	}
	return out
}

// Select moves the selection cursor, clamped into the visible range.
func (s *Session) Select(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = i
	s.clampSelectionLocked()
}

// Selected returns the repository under the cursor.
func (s *Session) Selected() (repoctl.Repository, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := s.visibleLocked()
	if len(visible) == 0 {
		return repoctl.Repository{}, false
	}
	return visible[s.selected], true
}

// Remove drops a repository from the session after a successful delete. The
// reported total shrinks with it and the selection stays in range.
func (s *Session) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.repos {
		if s.repos[i].ID == id {
			s.repos = append(s.repos[:i], s.repos[i+1:]...)
			if s.totalCount > 0 {
				s.totalCount--
			}
			break
		}
	}
	s.clampSelectionLocked()
}

// Update patches a repository in place, mirroring a cache patch into the
// visible list. No-op when the id is not loaded.
func (s *Session) Update(id string, apply func(*repoctl.Repository)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.repos {
		if s.repos[i].ID == id {
			apply(&s.repos[i])
			return
		}
	}
}

// EndCursor returns the cursor for fetching the next page.
func (s *Session) EndCursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endCursor
}

// HasNextPage reports whether a continuation fetch would yield more.
func (s *Session) HasNextPage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasNextPage
}

// TotalCount returns the server-reported total, adjusted for local removals.
func (s *Session) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCount
}

// Loaded returns how many repositories are loaded, before filtering.
func (s *Session) Loaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.repos)
}

// RateLimit returns the latest rate-limit snapshot and the points spent since
// the previous one.
func (s *Session) RateLimit() (*repoctl.RateLimit, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rate == nil {
		return nil, 0
	}
	delta := 0
	if s.prevRate != nil {
		delta = s.rate.Delta(*s.prevRate)
	}
	return s.rate, delta
}

func (s *Session) clampSelectionLocked() {
	visible := len(s.visibleLocked())
	if s.selected >= visible {
		s.selected = visible - 1
	}
	if s.selected < 0 {
		s.selected = 0
	}
}
