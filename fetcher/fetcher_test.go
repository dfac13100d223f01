package fetcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"repoctl"
	"repoctl/freshness"
	"repoctl/github"
	"repoctl/repocache"
)

type fakeLister struct {
	page        *repoctl.Page
	listErr     error
	searchErr   error
	listCalls   int
	searchCalls int
}

func (f *fakeLister) ListRepositories(_ context.Context, _ github.ListRequest) (*repoctl.Page, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.page, nil
}

func (f *fakeLister) SearchRepositories(_ context.Context, _ github.SearchRequest) (*repoctl.Page, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.page, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func testPage(ids ...string) *repoctl.Page {
	page := &repoctl.Page{
		EndCursor:   "cursor-1",
		HasNextPage: false,
		TotalCount:  len(ids),
		RateLimit:   &repoctl.RateLimit{Remaining: 4999, Limit: 5000},
	}
	for _, id := range ids {
		page.Repositories = append(page.Repositories, repoctl.Repository{
			ID:            id,
			Name:          id,
			NameWithOwner: "alice/" + id,
		})
	}
	return page
}

type fixture struct {
	fetcher   *Fetcher
	primary   *fakeLister
	secondary *fakeLister
	fresh     *freshness.Index
	clock     *fakeClock
}

func setupFetcher(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	fresh := freshness.Open(
		filepath.Join(t.TempDir(), "freshness.json"),
		freshness.WithNow(func() time.Time { return clock.now }),
	)

	primary := &fakeLister{page: testPage("R1", "R2")}
	secondary := &fakeLister{page: testPage("R1", "R2")}

	f := New(Config{
		Viewer:    "alice",
		Primary:   primary,
		Secondary: secondary,
		Cache:     repocache.New(),
		Freshness: fresh,
		Now:       func() time.Time { return clock.now },
	})

	return &fixture{fetcher: f, primary: primary, secondary: secondary, fresh: fresh, clock: clock}
}

func listRequest() PageRequest {
	return PageRequest{
		Affiliations: []repoctl.Affiliation{repoctl.AffiliationOwner},
		Sort:         repoctl.DefaultSort,
		PageSize:     15,
	}
}

func TestFetchPage_ColdCacheGoesToNetwork(t *testing.T) {
	fx := setupFetcher(t)

	page, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)
	require.Len(t, page.Repositories, 2)
	require.Equal(t, 1, fx.primary.listCalls)
}

func TestFetchPage_FreshPartitionServedFromCache(t *testing.T) {
	fx := setupFetcher(t)

	_, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)

	page, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)
	require.Len(t, page.Repositories, 2)
	require.Equal(t, 1, fx.primary.listCalls, "second fetch must not hit the network")
}

func TestFetchPage_StalePartitionRefetches(t *testing.T) {
	fx := setupFetcher(t)

	_, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)

	fx.clock.advance(freshness.DefaultListTTL + time.Minute)

	_, err = fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)
	require.Equal(t, 2, fx.primary.listCalls)
}

func TestFetchPage_NetworkOnlyBypassesFreshCache(t *testing.T) {
	fx := setupFetcher(t)

	_, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)

	req := listRequest()
	req.Policy = PolicyNetworkOnly
	_, err = fx.fetcher.FetchPage(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, fx.primary.listCalls)
}

func TestFetchPage_ContinuationDoesNotMarkFresh(t *testing.T) {
	fx := setupFetcher(t)

	req := listRequest()
	req.Cursor = "cursor-1"
	_, err := fx.fetcher.FetchPage(context.Background(), req)
	require.NoError(t, err)

	key := fx.fetcher.ListKey(req)
	require.False(t, fx.fresh.IsFresh(key, freshness.DefaultListTTL))
}

func TestFetchPage_FirstPageMarksFresh(t *testing.T) {
	fx := setupFetcher(t)

	req := listRequest()
	_, err := fx.fetcher.FetchPage(context.Background(), req)
	require.NoError(t, err)

	require.True(t, fx.fresh.IsFresh(fx.fetcher.ListKey(req), freshness.DefaultListTTL))
}

func TestFetchPage_FallbackOnTransientError(t *testing.T) {
	fx := setupFetcher(t)
	fx.primary.listErr = errors.New("connection reset")

	page, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)
	require.Len(t, page.Repositories, 2)
	require.Equal(t, 1, fx.primary.listCalls)
	require.Equal(t, 1, fx.secondary.listCalls)
}

func TestFetchPage_NoFallbackOnAuthError(t *testing.T) {
	fx := setupFetcher(t)
	fx.primary.listErr = &github.APIError{Category: github.CategoryAuth, Op: "listing repositories", Message: "bad credentials"}

	_, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.Error(t, err)
	require.Equal(t, github.CategoryAuth, github.CategoryOf(err))
	require.Zero(t, fx.secondary.listCalls, "auth failures must not be retried")
}

func TestFetchPage_BothEndpointsFailing(t *testing.T) {
	fx := setupFetcher(t)
	fx.primary.listErr = errors.New("primary down")
	fx.secondary.listErr = errors.New("secondary down")

	_, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.Error(t, err)
	require.ErrorContains(t, err, "secondary down")
}

func TestFetchPage_ForkTrackingIsASeparatePartition(t *testing.T) {
	fx := setupFetcher(t)

	_, err := fx.fetcher.FetchPage(context.Background(), listRequest())
	require.NoError(t, err)

	// Enabling fork tracking must not serve the partition fetched without it.
	req := listRequest()
	req.TrackForks = true
	_, err = fx.fetcher.FetchPage(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, fx.primary.listCalls)
}

func TestSearch_RejectsShortQuery(t *testing.T) {
	fx := setupFetcher(t)

	_, err := fx.fetcher.Search(context.Background(), SearchRequest{Query: "ab", PageSize: 15})
	require.ErrorIs(t, err, ErrQueryTooShort)

	_, err = fx.fetcher.Search(context.Background(), SearchRequest{Query: "  a  ", PageSize: 15})
	require.ErrorIs(t, err, ErrQueryTooShort)
	require.Zero(t, fx.primary.searchCalls)
}

func TestSearch_ShortTTLExpires(t *testing.T) {
	fx := setupFetcher(t)

	req := SearchRequest{Query: "widget", PageSize: 15}
	_, err := fx.fetcher.Search(context.Background(), req)
	require.NoError(t, err)

	// Still fresh inside the window.
	fx.clock.advance(30 * time.Second)
	_, err = fx.fetcher.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, fx.primary.searchCalls)

	// Expired after it.
	fx.clock.advance(freshness.DefaultSearchTTL)
	_, err = fx.fetcher.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, fx.primary.searchCalls)
}
