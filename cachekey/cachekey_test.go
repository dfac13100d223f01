package cachekey

import (
	"testing"

	"github.com/stretchr/testify/require"

	"repoctl"
)

func baseParams() Params {
	return Params{
		Viewer:       "alice",
		Context:      repoctl.OwnerContext{},
		Affiliations: []repoctl.Affiliation{repoctl.AffiliationOwner},
		Sort:         repoctl.SortSpec{Field: repoctl.SortUpdated, Direction: repoctl.SortDesc},
		PageSize:     15,
		TrackForks:   true,
	}
}

func TestListKey_Deterministic(t *testing.T) {
	p := baseParams()
	require.Equal(t, ListKey(p), ListKey(p))
	require.Equal(t,
		"op:list|viewer:alice|ctx:personal|aff:OWNER|sort:updated:desc|first:15|forks:true",
		ListKey(p))
}

func TestListKey_SensitiveToEveryParameter(t *testing.T) {
	base := ListKey(baseParams())

	p := baseParams()
	p.PageSize = 20
	require.NotEqual(t, base, ListKey(p))

	p = baseParams()
	p.Sort.Direction = repoctl.SortAsc
	require.NotEqual(t, base, ListKey(p))

	p = baseParams()
	p.Sort.Field = repoctl.SortName
	require.NotEqual(t, base, ListKey(p))

	p = baseParams()
	p.Context = repoctl.OwnerContext{Org: "acme"}
	require.NotEqual(t, base, ListKey(p))

	p = baseParams()
	p.TrackForks = false
	require.NotEqual(t, base, ListKey(p))

	p = baseParams()
	p.Affiliations = append(p.Affiliations, repoctl.AffiliationCollaborator)
	require.NotEqual(t, base, ListKey(p))

	p = baseParams()
	p.Viewer = "bob"
	require.NotEqual(t, base, ListKey(p))
}

func TestListKey_ViewerFallback(t *testing.T) {
	p := baseParams()
	p.Viewer = ""
	require.Contains(t, ListKey(p), "viewer:unknown")
}

func TestSearchKey_NormalizesQuery(t *testing.T) {
	p := baseParams()
	p.Query = "  My-Project  "

	q := baseParams()
	q.Query = "my-project"

	require.Equal(t, SearchKey(q), SearchKey(p))
	require.Contains(t, SearchKey(p), "q:my-project")
}

func TestSearchKey_DistinctFromListKey(t *testing.T) {
	p := baseParams()
	require.NotEqual(t, ListKey(p), SearchKey(p))
}
