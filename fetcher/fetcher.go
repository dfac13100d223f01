// Package fetcher decides, per call, whether a page of repositories is served
// from the persisted cache or from the network, and keeps the freshness index
// and cache consistent with what it fetched.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"repoctl"
	"repoctl/cachekey"
	"repoctl/freshness"
	"repoctl/github"
	"repoctl/repocache"
	"repoctl/telemetry"
)

// MinSearchQueryLen is the minimum number of runes in a search query. Shorter
// queries burn search-API quota on results too broad to be useful.
const MinSearchQueryLen = 3

// ErrQueryTooShort is returned by Search for queries under MinSearchQueryLen.
var ErrQueryTooShort = errors.New("search query too short")

// Policy selects how a fetch resolves against the cache.
type Policy int

const (
	// PolicyAuto serves from cache when the partition is fresh, otherwise
	// from the network.
	PolicyAuto Policy = iota
	// PolicyCacheFirst serves from cache whenever the page is present,
	// regardless of freshness.
	PolicyCacheFirst
	// PolicyNetworkOnly always fetches, used for explicit refresh.
	PolicyNetworkOnly
)

// Lister is the remote surface the orchestrator fetches through. Satisfied by
// *github.Client.
type Lister interface {
	ListRepositories(ctx context.Context, req github.ListRequest) (*repoctl.Page, error)
	SearchRepositories(ctx context.Context, req github.SearchRequest) (*repoctl.Page, error)
}

// Config configures a Fetcher.
type Config struct {
	// Viewer is the authenticated login used for cache key derivation.
	Viewer string

	// Primary is the first endpoint tried for every network fetch.
	Primary Lister

	// Secondary is retried once when the primary fails with anything other
	// than an auth error. May be nil, disabling fallback.
	Secondary Lister

	Cache     *repocache.Store
	Freshness *freshness.Index

	// ListTTL and SearchTTL default to the freshness package defaults.
	ListTTL   time.Duration
	SearchTTL time.Duration

	Logger *slog.Logger

	// Now is the clock, defaulting to time.Now.
	Now func() time.Time
}

// Fetcher orchestrates cache-first page fetching with endpoint fallback.
type Fetcher struct {
	viewer    string
	primary   Lister
	secondary Lister
	cache     *repocache.Store
	fresh     *freshness.Index
	listTTL   time.Duration
	searchTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Fetcher from cfg, applying defaults for unset fields.
func New(cfg Config) *Fetcher {
	if cfg.ListTTL == 0 {
		cfg.ListTTL = freshness.DefaultListTTL
	}
	if cfg.SearchTTL == 0 {
		cfg.SearchTTL = freshness.DefaultSearchTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Fetcher{
		viewer:    cfg.Viewer,
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		cache:     cfg.Cache,
		fresh:     cfg.Freshness,
		listTTL:   cfg.ListTTL,
		searchTTL: cfg.SearchTTL,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// PageRequest describes one listing page fetch.
type PageRequest struct {
	Context      repoctl.OwnerContext
	Affiliations []repoctl.Affiliation
	Sort         repoctl.SortSpec
	PageSize     int
	// Cursor is empty for a reset fetch and carries the previous page's end
	// cursor for a continuation.
	Cursor     string
	TrackForks bool
	Policy     Policy
}

func (r PageRequest) keyParams(viewer string) cachekey.Params {
	return cachekey.Params{
		Viewer:       viewer,
		Context:      r.Context,
		Affiliations: r.Affiliations,
		Sort:         r.Sort,
		PageSize:     r.PageSize,
		TrackForks:   r.TrackForks,
	}
}

// ListKey returns the cache partition key a request resolves to.
func (f *Fetcher) ListKey(req PageRequest) string {
	return cachekey.ListKey(req.keyParams(f.viewer))
}

// FetchPage returns one page of the listing identified by req. Cache hits are
// returned as-is; network results are written through to the cache, and a
// successful first page marks the partition fresh.
func (f *Fetcher) FetchPage(ctx context.Context, req PageRequest) (*repoctl.Page, error) {
	key := f.ListKey(req)

	if f.serveFromCache(req.Policy, key, f.listTTL) {
		if page, ok := f.cache.Page(key, req.Cursor); ok {
			telemetry.RecordCacheLookup(ctx, "list", "hit")
			f.logger.Debug("cache hit", "key", key, "cursor", req.Cursor)
			return page, nil
		}
		telemetry.RecordCacheLookup(ctx, "list", "miss")
	}

	page, err := f.listWithFallback(ctx, github.ListRequest{
		Context:      req.Context,
		Affiliations: req.Affiliations,
		Sort:         req.Sort,
		PageSize:     req.PageSize,
		Cursor:       req.Cursor,
		TrackForks:   req.TrackForks,
	})
	if err != nil {
		return nil, err
	}

	f.finishFetch(ctx, "list", key, req.Cursor, page)
	return page, nil
}

// SearchRequest describes one search page fetch.
type SearchRequest struct {
	Query      string
	PageSize   int
	Cursor     string
	TrackForks bool
	Policy     Policy
}

// SearchKey returns the cache partition key a search resolves to.
func (f *Fetcher) SearchKey(req SearchRequest) string {
	return cachekey.SearchKey(cachekey.Params{
		Viewer:     f.viewer,
		PageSize:   req.PageSize,
		TrackForks: req.TrackForks,
		Query:      req.Query,
	})
}

// Search returns one page of search results. Search partitions expire on the
// short TTL since the provider-side index moves under us.
func (f *Fetcher) Search(ctx context.Context, req SearchRequest) (*repoctl.Page, error) {
	if utf8.RuneCountInString(strings.TrimSpace(req.Query)) < MinSearchQueryLen {
		return nil, ErrQueryTooShort
	}

	key := f.SearchKey(req)

	if f.serveFromCache(req.Policy, key, f.searchTTL) {
		if page, ok := f.cache.Page(key, req.Cursor); ok {
			telemetry.RecordCacheLookup(ctx, "search", "hit")
			f.logger.Debug("cache hit", "key", key, "cursor", req.Cursor)
			return page, nil
		}
		telemetry.RecordCacheLookup(ctx, "search", "miss")
	}

	page, err := f.searchWithFallback(ctx, github.SearchRequest{
		Query:      req.Query,
		PageSize:   req.PageSize,
		Cursor:     req.Cursor,
		TrackForks: req.TrackForks,
	})
	if err != nil {
		return nil, err
	}

	f.finishFetch(ctx, "search", key, req.Cursor, page)
	return page, nil
}

// serveFromCache reports whether the cache read path applies for this call.
func (f *Fetcher) serveFromCache(policy Policy, key string, ttl time.Duration) bool {
	switch policy {
	case PolicyNetworkOnly:
		return false
	case PolicyCacheFirst:
		return true
	default:
		return f.fresh.IsFresh(key, ttl)
	}
}

// finishFetch writes a network result through to the cache. Only a first page
// marks freshness; a continuation page arriving late must not extend the
// partition's lifetime.
func (f *Fetcher) finishFetch(ctx context.Context, op, key, cursor string, page *repoctl.Page) {
	f.cache.StorePage(key, cursor, page)
	if cursor == "" {
		f.fresh.MarkFetched(key)
	}
	if page.RateLimit != nil {
		telemetry.RecordRateLimit(ctx, page.RateLimit.Remaining)
	}
	f.logger.Debug("fetched page", "op", op, "key", key, "cursor", cursor,
		"count", len(page.Repositories), "has_next", page.HasNextPage)
}

func (f *Fetcher) listWithFallback(ctx context.Context, req github.ListRequest) (*repoctl.Page, error) {
	return f.withFallback(ctx, "list", func(l Lister) (*repoctl.Page, error) {
		return l.ListRepositories(ctx, req)
	})
}

func (f *Fetcher) searchWithFallback(ctx context.Context, req github.SearchRequest) (*repoctl.Page, error) {
	return f.withFallback(ctx, "search", func(l Lister) (*repoctl.Page, error) {
		return l.SearchRepositories(ctx, req)
	})
}

// withFallback runs fetch against the primary endpoint and retries once on
// the secondary. Auth failures are never retried: a rejected token will be
// rejected again.
func (f *Fetcher) withFallback(ctx context.Context, op string, fetch func(Lister) (*repoctl.Page, error)) (*repoctl.Page, error) {
	start := f.now()
	page, err := fetch(f.primary)
	if err == nil {
		telemetry.RecordAPIFetch(ctx, "primary", op, f.now().Sub(start), "success")
		return page, nil
	}
	telemetry.RecordAPIFetch(ctx, "primary", op, f.now().Sub(start), "error")

	if f.secondary == nil || github.CategoryOf(err) == github.CategoryAuth {
		return nil, err
	}

	f.logger.Warn("primary fetch failed, retrying on secondary", "op", op, "error", err)
	telemetry.RecordFallback(ctx, op)

	start = f.now()
	page, err = fetch(f.secondary)
	if err != nil {
		telemetry.RecordAPIFetch(ctx, "secondary", op, f.now().Sub(start), "error")
		return nil, err
	}
	telemetry.RecordAPIFetch(ctx, "secondary", op, f.now().Sub(start), "success")
	return page, nil
}
