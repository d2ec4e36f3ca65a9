package leveldb_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/docsync/internal/adapters/leveldb"
	"go.trai.ch/docsync/internal/core/domain"
)

func openMem(t *testing.T) *leveldb.Store {
	t.Helper()
	s, err := leveldb.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPending_PutListDelete(t *testing.T) {
	s := openMem(t)
	ctx := t.Context()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	second := domain.PendingMutation{LocalID: "a", Kind: domain.KindLike, Key: "likes/u_p", CreatedAt: base.Add(time.Second), Payload: []byte(`{"userId":"u","postId":"p"}`)}
	first := domain.PendingMutation{LocalID: "b", Kind: domain.KindFollow, Key: "follows/u_v", CreatedAt: base, Payload: []byte(`{}`)}
	require.NoError(t, s.Put(ctx, second))
	require.NoError(t, s.Put(ctx, first))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].LocalID, "records are ordered by creation time")
	assert.Equal(t, "a", list[1].LocalID)
	assert.JSONEq(t, `{"userId":"u","postId":"p"}`, string(list[1].Payload))

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "missing"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPending_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	s, err := leveldb.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(t.Context(), domain.PendingMutation{LocalID: "a", Kind: domain.KindLike}))
	require.NoError(t, s.Close())

	s, err = leveldb.Open(path)
	require.NoError(t, err)
	defer s.Close()
	list, err := s.List(t.Context())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].LocalID)
}

func TestItems(t *testing.T) {
	items := openMem(t).Items()
	ctx := t.Context()

	_, found, err := items.Get(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, items.Put(ctx, domain.Item{ID: "i2", OwnerID: "u1", Name: "two"}))
	require.NoError(t, items.Put(ctx, domain.Item{ID: "i1", OwnerID: "u1", Name: "one"}))
	require.NoError(t, items.Put(ctx, domain.Item{ID: "i3", OwnerID: "u2"}))

	list, err := items.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "i1", list[0].ID)
	assert.Equal(t, "i2", list[1].ID)

	// Moving an item to another owner drops the old index entry.
	require.NoError(t, items.Put(ctx, domain.Item{ID: "i2", OwnerID: "u2"}))
	list, err = items.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, items.Delete(ctx, "i1"))
	require.NoError(t, items.Delete(ctx, "i1"))
	list, err = items.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = items.ListByOwner(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestOpen_InvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	s, err := leveldb.Open(file)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = leveldb.Open(filepath.Join(file, "CURRENT", "nested"))
	require.Error(t, err)
}
