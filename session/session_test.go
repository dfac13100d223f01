package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"repoctl"
)

func repoFixture(id string, vis repoctl.Visibility) repoctl.Repository {
	return repoctl.Repository{
		ID:            id,
		Name:          id,
		NameWithOwner: "alice/" + id,
		Visibility:    vis,
	}
}

func pageFixture(repos ...repoctl.Repository) *repoctl.Page {
	return &repoctl.Page{
		Repositories: repos,
		EndCursor:    "cursor-1",
		HasNextPage:  true,
		TotalCount:   len(repos) + 10,
	}
}

func TestApplyPage_ReplaceThenAppend(t *testing.T) {
	s := New()
	gen := s.Begin()

	require.True(t, s.ApplyPage(gen, pageFixture(repoFixture("R1", repoctl.VisibilityPublic)), false))
	require.Equal(t, 1, s.Loaded())

	require.True(t, s.ApplyPage(gen, pageFixture(repoFixture("R2", repoctl.VisibilityPublic)), true))
	require.Equal(t, 2, s.Loaded())

	// A reset replaces everything loaded so far.
	require.True(t, s.ApplyPage(gen, pageFixture(repoFixture("R3", repoctl.VisibilityPublic)), false))
	require.Equal(t, 1, s.Loaded())
	visible := s.Visible()
	require.Equal(t, "R3", visible[0].ID)
}

func TestApplyPage_StaleGenerationDropped(t *testing.T) {
	s := New()
	oldGen := s.Begin()
	newGen := s.Begin()

	require.False(t, s.ApplyPage(oldGen, pageFixture(repoFixture("stale", repoctl.VisibilityPublic)), false))
	require.Zero(t, s.Loaded())

	require.True(t, s.ApplyPage(newGen, pageFixture(repoFixture("current", repoctl.VisibilityPublic)), false))
	require.Equal(t, 1, s.Loaded())
}

func TestVisible_FilterByVisibility(t *testing.T) {
	s := New()
	gen := s.Begin()
	s.ApplyPage(gen, pageFixture(
		repoFixture("pub", repoctl.VisibilityPublic),
		repoFixture("priv", repoctl.VisibilityPrivate),
		repoFixture("int", repoctl.VisibilityInternal),
	), false)

	require.Len(t, s.Visible(), 3)

	s.SetFilter(FilterPrivate)
	visible := s.Visible()
	require.Len(t, visible, 1)
	require.Equal(t, "priv", visible[0].ID)

	// INTERNAL is non-public but not private; it must not leak into either.
	s.SetFilter(FilterPublic)
	visible = s.Visible()
	require.Len(t, visible, 1)
	require.Equal(t, "pub", visible[0].ID)

	s.SetFilter(FilterInternal)
	visible = s.Visible()
	require.Len(t, visible, 1)
	require.Equal(t, "int", visible[0].ID)
}

func TestSelection_ClampedByFilterChange(t *testing.T) {
	s := New()
	gen := s.Begin()
	s.ApplyPage(gen, pageFixture(
		repoFixture("pub1", repoctl.VisibilityPublic),
		repoFixture("pub2", repoctl.VisibilityPublic),
		repoFixture("priv", repoctl.VisibilityPrivate),
	), false)

	s.Select(2)
	got, ok := s.Selected()
	require.True(t, ok)
	require.Equal(t, "priv", got.ID)

	s.SetFilter(FilterPrivate)
	got, ok = s.Selected()
	require.True(t, ok)
	require.Equal(t, "priv", got.ID)

	s.SetFilter(FilterPublic)
	got, ok = s.Selected()
	require.True(t, ok)
	require.Equal(t, "pub2", got.ID, "selection clamps to the last visible entry")
}

func TestSelected_EmptyList(t *testing.T) {
	s := New()
	_, ok := s.Selected()
	require.False(t, ok)
}

func TestRemove_ShrinksTotalAndClampsSelection(t *testing.T) {
	s := New()
	gen := s.Begin()
	s.ApplyPage(gen, pageFixture(
		repoFixture("R1", repoctl.VisibilityPublic),
		repoFixture("R2", repoctl.VisibilityPublic),
	), false)
	total := s.TotalCount()
	s.Select(1)

	s.Remove("R2")

	require.Equal(t, 1, s.Loaded())
	require.Equal(t, total-1, s.TotalCount())
	got, ok := s.Selected()
	require.True(t, ok)
	require.Equal(t, "R1", got.ID)

	// Removing an id that is not loaded changes nothing.
	s.Remove("ghost")
	require.Equal(t, 1, s.Loaded())
	require.Equal(t, total-1, s.TotalCount())
}

func TestUpdate_PatchesInPlace(t *testing.T) {
	s := New()
	gen := s.Begin()
	s.ApplyPage(gen, pageFixture(repoFixture("R1", repoctl.VisibilityPublic)), false)

	s.Update("R1", func(r *repoctl.Repository) {
		r.IsArchived = true
	})

	visible := s.Visible()
	require.True(t, visible[0].IsArchived)
}

func TestRateLimit_DeltaAcrossPages(t *testing.T) {
	s := New()
	gen := s.Begin()

	page1 := pageFixture(repoFixture("R1", repoctl.VisibilityPublic))
	page1.RateLimit = &repoctl.RateLimit{Remaining: 4998, Limit: 5000}
	s.ApplyPage(gen, page1, false)

	rate, delta := s.RateLimit()
	require.NotNil(t, rate)
	require.Zero(t, delta, "no delta until a second snapshot arrives")

	page2 := pageFixture(repoFixture("R2", repoctl.VisibilityPublic))
	page2.RateLimit = &repoctl.RateLimit{Remaining: 4995, Limit: 5000}
	s.ApplyPage(gen, page2, true)

	rate, delta = s.RateLimit()
	require.Equal(t, 4995, rate.Remaining)
	require.Equal(t, 3, delta)
}
