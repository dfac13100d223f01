package repocache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"repoctl"
)

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db, path
}

func TestApplyAndLoadAll_Roundtrip(t *testing.T) {
	db, _ := setupTestDB(t)

	repo := repoFixture("R1", "one")
	idx := &PageIndex{IDs: []string{"R1"}, EndCursor: "c", HasNextPage: true, TotalCount: 9}

	require.NoError(t, db.Apply(
		map[string]*repoctl.Repository{"R1": &repo},
		map[string]*PageIndex{"digest-1": idx},
	))

	entities, pages, err := db.LoadAll()
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "one", entities["R1"].Name)
	require.Len(t, pages, 1)
	require.Equal(t, []string{"R1"}, pages["digest-1"].IDs)
	require.Equal(t, 9, pages["digest-1"].TotalCount)
}

func TestApply_NilValueDeletes(t *testing.T) {
	db, _ := setupTestDB(t)

	repo := repoFixture("R1", "one")
	require.NoError(t, db.Apply(map[string]*repoctl.Repository{"R1": &repo}, nil))
	require.NoError(t, db.Apply(map[string]*repoctl.Repository{"R1": nil}, nil))

	entities, _, err := db.LoadAll()
	require.NoError(t, err)
	require.Empty(t, entities)
}

func TestApply_SkippedOverSizeCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := OpenDB(path, WithMaxBytes(1)) // anything already on disk is over cap
	require.NoError(t, err)
	t.Cleanup(db.Close)

	repo := repoFixture("R1", "one")
	require.NoError(t, db.Apply(map[string]*repoctl.Repository{"R1": &repo}, nil))

	entities, _, err := db.LoadAll()
	require.NoError(t, err)
	require.Empty(t, entities)
}

func TestPurgeAll_EmptiesDatabase(t *testing.T) {
	db, _ := setupTestDB(t)

	repo := repoFixture("R1", "one")
	require.NoError(t, db.Apply(map[string]*repoctl.Repository{"R1": &repo}, nil))
	require.NoError(t, db.PurgeAll())

	entities, pages, err := db.LoadAll()
	require.NoError(t, err)
	require.Empty(t, entities)
	require.Empty(t, pages)
}

func TestStore_PersistenceRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	db, err := OpenDB(path)
	require.NoError(t, err)
	store := New(WithPersistence(db, time.Millisecond))
	store.StorePage("key-a", "", pageFixture(repoFixture("R1", "one")))
	require.NoError(t, store.Close())

	db2, err := OpenDB(path)
	require.NoError(t, err)
	warm := New(WithPersistence(db2, time.Millisecond))
	t.Cleanup(func() { _ = warm.Close() })

	page, ok := warm.Page("key-a", "")
	require.True(t, ok)
	require.Len(t, page.Repositories, 1)
	require.Equal(t, "one", page.Repositories[0].Name)
}

func TestOpenDB_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a bolt database"), 0o600))

	_, err := OpenDB(path)
	require.Error(t, err)
}
