package sqlitedoc_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.trai.ch/docsync/internal/adapters/sqlitedoc"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func open(t *testing.T) *sqlitedoc.Store {
	t.Helper()
	logger := mocks.NewMockLogger(gomock.NewController(t))
	logger.EXPECT().Error(gomock.Any(), gomock.Any()).AnyTimes()
	store, err := sqlitedoc.Open(filepath.Join(t.TempDir(), "remote.db"), 10*time.Millisecond, logger, domain.CollectionFollows)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func write(t *testing.T, store *sqlitedoc.Store, collection, id string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, store.Write(t.Context(), collection, id, data, false))
}

func TestStore_ReadWriteMerge(t *testing.T) {
	store := open(t)
	ctx := t.Context()

	_, ok, err := store.Read(ctx, domain.CollectionProfiles, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	write(t, store, domain.CollectionProfiles, "a", domain.Profile{ID: "a", DisplayName: "Ada", FollowerCount: 3})
	require.NoError(t, store.Write(ctx, domain.CollectionProfiles, "a", json.RawMessage(`{"followerCount":4}`), true))

	doc, ok, err := store.Read(ctx, domain.CollectionProfiles, "a")
	require.NoError(t, err)
	require.True(t, ok)
	var p domain.Profile
	require.NoError(t, doc.Decode(&p))
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, int64(4), p.FollowerCount)

	require.NoError(t, store.Write(ctx, domain.CollectionProfiles, "a", json.RawMessage(`{"id":"a"}`), false))
	doc, _, err = store.Read(ctx, domain.CollectionProfiles, "a")
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(doc.Data, "displayName").Exists(), "replace drops old fields")

	require.Error(t, store.Write(ctx, domain.CollectionProfiles, "a", json.RawMessage(`{`), false))

	require.NoError(t, store.Delete(ctx, domain.CollectionProfiles, "a"))
	require.NoError(t, store.Delete(ctx, domain.CollectionProfiles, "a"))
	_, ok, err = store.Read(ctx, domain.CollectionProfiles, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_QueryOrderAndCursor(t *testing.T) {
	store := open(t)
	ctx := t.Context()
	write(t, store, domain.CollectionPosts, "p1", domain.Post{ID: "p1", AuthorID: "a", CreatedAt: 10})
	write(t, store, domain.CollectionPosts, "p2", domain.Post{ID: "p2", AuthorID: "b", CreatedAt: 30})
	write(t, store, domain.CollectionPosts, "p3", domain.Post{ID: "p3", AuthorID: "a", CreatedAt: 30})
	write(t, store, domain.CollectionPosts, "p4", domain.Post{ID: "p4", AuthorID: "c", CreatedAt: 40})

	q := domain.Query{
		Collection: domain.CollectionPosts,
		Field:      domain.FieldAuthorID,
		In:         []string{"a", "b"},
		OrderBy:    domain.FieldCreatedAt,
		Limit:      2,
	}
	docs, err := store.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "p2", docs[0].ID)
	assert.Equal(t, "p3", docs[1].ID)

	q.After = &domain.Cursor{Timestamp: 30, ID: "p2"}
	docs, err = store.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "p3", docs[0].ID)
	assert.Equal(t, "p1", docs[1].ID)

	q.In = nil
	docs, err = store.Query(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, docs)

	q.In = make([]string, domain.MaxQueryIDs+1)
	_, err = store.Query(ctx, q)
	require.ErrorIs(t, err, domain.ErrTooManyIDs)
}

func TestStore_IncrementClampsAtZero(t *testing.T) {
	store := open(t)
	ctx := t.Context()

	require.NoError(t, store.Increment(ctx, domain.CollectionPosts, "p", "likeCount", 2))
	require.NoError(t, store.Increment(ctx, domain.CollectionPosts, "p", "likeCount", -5))
	require.NoError(t, store.Increment(ctx, domain.CollectionPosts, "p", "likeCount", 1))
	require.NoError(t, store.Increment(ctx, domain.CollectionPosts, "q", "likeCount", -1))

	doc, ok, err := store.Read(ctx, domain.CollectionPosts, "p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), gjson.GetBytes(doc.Data, "likeCount").Int())

	doc, ok, err = store.Read(ctx, domain.CollectionPosts, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), gjson.GetBytes(doc.Data, "likeCount").Int())
}

func TestStore_CountAndList(t *testing.T) {
	store := open(t)
	ctx := t.Context()
	for _, e := range []domain.Edge{
		{ID: "a_b", SourceID: "a", TargetID: "b"},
		{ID: "c_b", SourceID: "c", TargetID: "b"},
		{ID: "b_a", SourceID: "b", TargetID: "a"},
	} {
		write(t, store, domain.CollectionFollows, e.ID, e)
	}

	n, err := store.Count(ctx, domain.CollectionFollows, domain.FieldTargetID, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	docs, err := store.List(ctx, domain.CollectionFollows, "", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a_b", docs[0].ID)
	assert.Equal(t, "b_a", docs[1].ID)

	docs, err = store.List(ctx, domain.CollectionFollows, "b_a", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c_b", docs[0].ID)
}

func TestStore_SubscribeDeliversEdgeChanges(t *testing.T) {
	store := open(t)
	ctx := t.Context()

	write(t, store, domain.CollectionFollows, "old", domain.Edge{ID: "old", SourceID: "x", TargetID: "y"})

	events, err := store.Subscribe(ctx)
	require.NoError(t, err)

	write(t, store, domain.CollectionFollows, "a_b", domain.Edge{ID: "a_b", SourceID: "a", TargetID: "b"})
	write(t, store, domain.CollectionFollows, "a_b", domain.Edge{ID: "a_b", SourceID: "a", TargetID: "b"})
	write(t, store, domain.CollectionProfiles, "a", domain.Profile{ID: "a"})
	require.NoError(t, store.Delete(ctx, domain.CollectionFollows, "a_b"))

	var got []domain.EdgeEvent
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	assert.Equal(t, domain.EdgeCreated, got[0].Op)
	assert.Equal(t, domain.EdgeDeleted, got[1].Op)
	for _, ev := range got {
		assert.Equal(t, domain.CollectionFollows, ev.Collection)
		assert.Equal(t, "a_b", ev.EdgeID)
		assert.Equal(t, "a", ev.SourceID)
		assert.Equal(t, "b", ev.TargetID)
	}
	assert.NotEqual(t, got[0].EventID, got[1].EventID)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	removed, err := store.PruneChanges(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestStore_PruneKeepsUndeliveredChanges(t *testing.T) {
	store := open(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	events, err := store.Subscribe(ctx)
	require.NoError(t, err)

	for _, id := range []string{"a_b", "a_c", "a_d"} {
		write(t, store, domain.CollectionFollows, id, domain.Edge{ID: id, SourceID: "a", TargetID: id[2:]})
	}

	removed, err := store.PruneChanges(t.Context(), 0)
	require.NoError(t, err)
	assert.Zero(t, removed, "nothing was handed to the subscriber yet")

	for range 3 {
		select {
		case <-events:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for change")
		}
	}

	var total int64
	require.Eventually(t, func() bool {
		n, err := store.PruneChanges(t.Context(), 0)
		if err != nil {
			return false
		}
		total += n
		return total == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	for range events {
	}
	write(t, store, domain.CollectionFollows, "b_a", domain.Edge{ID: "b_a", SourceID: "b", TargetID: "a"})
	removed, err = store.PruneChanges(t.Context(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "a closed subscription no longer holds entries back")
}

// errorLog records the errors logged through it.
type errorLog struct {
	errs chan error
}

func (l *errorLog) Info(string, ...any) {}
func (l *errorLog) Warn(string, ...any) {}

func (l *errorLog) Error(err error, _ ...any) {
	select {
	case l.errs <- err:
	default:
	}
}

func TestStore_PollErrorIsLogged(t *testing.T) {
	logger := &errorLog{errs: make(chan error, 1)}
	store, err := sqlitedoc.Open(filepath.Join(t.TempDir(), "remote.db"), 10*time.Millisecond, logger, domain.CollectionFollows)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	events, err := store.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	select {
	case err := <-logger.errs:
		assert.ErrorContains(t, err, domain.ErrRemoteReadFailed.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("poll failure was not logged")
	}
	cancel()
	for range events {
	}
}
