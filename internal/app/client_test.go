package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/docsync/internal/adapters/leveldb"
	"go.trai.ch/docsync/internal/adapters/memdoc"
	"go.trai.ch/docsync/internal/adapters/telemetry"
	"go.trai.ch/docsync/internal/app"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/docsync/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

// gatedStore blocks or fails remote writes on demand.
type gatedStore struct {
	ports.DocumentStore

	mu         sync.Mutex
	gate       chan struct{}
	fail       error
	failDelete error
	writes     int
}

func (s *gatedStore) Write(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error {
	s.mu.Lock()
	s.writes++
	gate, fail := s.gate, s.fail
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail
	}
	return s.DocumentStore.Write(ctx, collection, id, data, merge)
}

func (s *gatedStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	fail := s.failDelete
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.DocumentStore.Delete(ctx, collection, id)
}

func (s *gatedStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type fixture struct {
	client *app.Client
	remote *memdoc.Store
	gated  *gatedStore
	local  *leveldb.Store
}

func quietLogger(t *testing.T) *mocks.MockLogger {
	t.Helper()
	logger := mocks.NewMockLogger(gomock.NewController(t))
	logger.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Error(gomock.Any(), gomock.Any()).AnyTimes()
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remote := memdoc.New(domain.CollectionFollows, domain.CollectionLikes, domain.CollectionComments)
	gated := &gatedStore{DocumentStore: remote}
	local, err := leveldb.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	cfg := domain.DefaultConfig()
	cfg.Mutations.RemoteTimeout = 5 * time.Second
	client, err := app.NewClient(cfg, app.Stores{Remote: gated, Pending: local, Items: local.Items()},
		quietLogger(t), telemetry.NewNoOpTracer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{client: client, remote: remote, gated: gated, local: local}
}

func (f *fixture) put(t *testing.T, collection, id string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, f.remote.Write(t.Context(), collection, id, data, false))
}

// mutate submits mut and waits for its remote outcome.
func (f *fixture) mutate(t *testing.T, mut domain.Mutation) error {
	t.Helper()
	done := make(chan error, 1)
	require.NoError(t, f.client.Mutate(t.Context(), mut, func(err error) { done <- err }))
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("mutation did not complete")
		return nil
	}
}

func TestClient_GetCachesAndReportsAbsence(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionProfiles, "ada", domain.Profile{ID: "ada", DisplayName: "Ada", FollowerCount: 2})

	p, ok, err := f.client.Profile(t.Context(), "ada")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, int64(2), p.FollowerCount)

	reads := f.remote.Reads()
	_, _, err = f.client.Profile(t.Context(), "ada")
	require.NoError(t, err)
	assert.Equal(t, reads, f.remote.Reads(), "second read is served from the cache")

	_, ok, err = f.client.Profile(t.Context(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = f.client.Get(t.Context(), domain.EntityType("planet"), "x")
	require.ErrorContains(t, err, domain.ErrUnknownEntityType.Error())

	_, _, err = f.client.Get(t.Context(), domain.EntityProfile, "a/b")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestClient_ConcurrentReadsShareOneFetch(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionPosts, "p1", domain.Post{ID: "p1", AuthorID: "ada", CreatedAt: 1})

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_, ok, err := f.client.Post(t.Context(), "p1")
			assert.NoError(t, err)
			assert.True(t, ok)
		})
	}
	wg.Wait()
	assert.Equal(t, int64(1), f.remote.Reads())
}

func TestClient_GetBatch(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionProfiles, "a", domain.Profile{ID: "a"})
	f.put(t, domain.CollectionProfiles, "b", domain.Profile{ID: "b"})

	got, err := f.client.GetBatch(t.Context(), domain.EntityProfile, []string{"a", "b", "a", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
	assert.Equal(t, int64(3), f.remote.Reads(), "duplicates are read once, absent ids are still billed")

	_, err = f.client.GetBatch(t.Context(), domain.EntityProfile, []string{"a", ""})
	require.ErrorContains(t, err, domain.ErrValidation.Error())
}

func TestClient_LikeIsOptimistic(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionPosts, "p1", domain.Post{ID: "p1", AuthorID: "ada", CreatedAt: 1})

	gate := make(chan struct{})
	f.gated.mu.Lock()
	f.gated.gate = gate
	f.gated.mu.Unlock()

	done := make(chan error, 1)
	require.NoError(t, f.client.Mutate(t.Context(), domain.Like{UserID: "bea", PostID: "p1"}, func(err error) { done <- err }))

	post, _, err := f.client.Post(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), post.LikeCount, "the like is visible before the remote confirms it")
	liked, err := f.client.HasEdge(t.Context(), domain.CollectionLikes, "bea", "p1")
	require.NoError(t, err)
	assert.True(t, liked)

	pending, err := f.local.List(t.Context())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.KindLike, pending[0].Kind)

	close(gate)
	require.NoError(t, <-done)

	_, ok, err := f.remote.Read(t.Context(), domain.CollectionLikes, domain.EdgeID("bea", "p1"))
	require.NoError(t, err)
	assert.True(t, ok)
	pending, err = f.local.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClient_RejectedLikeRollsBack(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionPosts, "p1", domain.Post{ID: "p1", AuthorID: "ada", CreatedAt: 1, LikeCount: 3})

	f.gated.mu.Lock()
	f.gated.fail = errors.New("permission denied")
	f.gated.mu.Unlock()

	err := f.mutate(t, domain.Like{UserID: "bea", PostID: "p1"})
	require.ErrorContains(t, err, "permission denied")

	post, _, err := f.client.Post(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), post.LikeCount)
	liked, err := f.client.HasEdge(t.Context(), domain.CollectionLikes, "bea", "p1")
	require.NoError(t, err)
	assert.False(t, liked)

	pending, err := f.local.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClient_RejectedUnlikeAfterConfirmedLikeFollowsRemote(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionPosts, "p1", domain.Post{ID: "p1", AuthorID: "ada", CreatedAt: 1})

	gate := make(chan struct{})
	f.gated.mu.Lock()
	f.gated.gate = gate
	f.gated.failDelete = errors.New("permission denied")
	f.gated.mu.Unlock()

	liked := make(chan error, 1)
	require.NoError(t, f.client.Mutate(t.Context(), domain.Like{UserID: "bea", PostID: "p1"}, func(err error) { liked <- err }))
	require.Eventually(t, func() bool { return f.gated.writeCount() == 1 }, 5*time.Second, time.Millisecond)

	unliked := make(chan error, 1)
	require.NoError(t, f.client.Mutate(t.Context(), domain.Unlike{UserID: "bea", PostID: "p1"}, func(err error) { unliked <- err }))

	close(gate)
	require.NoError(t, <-liked)
	require.ErrorContains(t, <-unliked, "permission denied")

	on, err := f.client.HasEdge(t.Context(), domain.CollectionLikes, "bea", "p1")
	require.NoError(t, err)
	assert.True(t, on, "the confirmed like stands")

	f.gated.mu.Lock()
	f.gated.failDelete = nil
	f.gated.mu.Unlock()
	require.NoError(t, f.remote.Delete(t.Context(), domain.CollectionLikes, domain.EdgeID("bea", "p1")))
	f.client.InvalidateAll()

	on, err = f.client.HasEdge(t.Context(), domain.CollectionLikes, "bea", "p1")
	require.NoError(t, err)
	assert.False(t, on, "no local overlay outlives its mutations")

	require.NoError(t, f.mutate(t, domain.Like{UserID: "bea", PostID: "p1"}))
	assert.Equal(t, 2, f.gated.writeCount())
	_, ok, err := f.remote.Read(t.Context(), domain.CollectionLikes, domain.EdgeID("bea", "p1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_RedundantToggleIsNotSent(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionLikes, domain.EdgeID("bea", "p1"), domain.Edge{ID: domain.EdgeID("bea", "p1"), SourceID: "bea", TargetID: "p1"})

	require.NoError(t, f.mutate(t, domain.Like{UserID: "bea", PostID: "p1"}))
	require.NoError(t, f.mutate(t, domain.Unfollow{FollowerID: "bea", FolloweeID: "ada"}))
	assert.Zero(t, f.gated.writeCount())
}

func TestClient_MutateValidatesFirst(t *testing.T) {
	f := newFixture(t)

	err := f.client.Mutate(t.Context(), domain.Follow{FollowerID: "ada", FolloweeID: "ada"}, nil)
	require.ErrorIs(t, err, domain.ErrValidation)
	err = f.client.Mutate(t.Context(), domain.Like{UserID: "", PostID: "p1"}, nil)
	require.ErrorIs(t, err, domain.ErrValidation)

	pending, err := f.local.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClient_FollowingAndHomeFeed(t *testing.T) {
	f := newFixture(t)
	for i, id := range []string{"b", "c", "d"} {
		f.put(t, domain.CollectionPosts, "post-"+id, domain.Post{ID: "post-" + id, AuthorID: id, CreatedAt: int64(10 + i)})
	}
	f.put(t, domain.CollectionPosts, "post-a", domain.Post{ID: "post-a", AuthorID: "a", CreatedAt: 5})
	f.put(t, domain.CollectionPosts, "hidden", domain.Post{ID: "hidden", AuthorID: "b", CreatedAt: 20, Hidden: true})
	require.NoError(t, f.mutate(t, domain.Follow{FollowerID: "a", FolloweeID: "b"}))
	require.NoError(t, f.mutate(t, domain.Follow{FollowerID: "a", FolloweeID: "c"}))

	following, err := f.client.Following(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, following)

	posts, next, err := f.client.HomeFeed(t.Context(), "a", "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"post-c", "post-b", "post-a"}, ids)

	// A pending follow shows up before the remote confirms it.
	gate := make(chan struct{})
	f.gated.mu.Lock()
	f.gated.gate = gate
	f.gated.mu.Unlock()
	require.NoError(t, f.client.Mutate(t.Context(), domain.Follow{FollowerID: "a", FolloweeID: "d"}, nil))

	following, err = f.client.Following(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, following)
	close(gate)
}

func TestClient_ItemFallsBackToLocalCopy(t *testing.T) {
	f := newFixture(t)
	item := domain.Item{ID: "i1", OwnerID: "ada", Name: "shell", CollectedAt: 7}
	require.NoError(t, f.local.Items().Put(t.Context(), item))

	got, ok, err := f.client.Item(t.Context(), "i1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, item, got)

	n, err := f.client.RecoverLocal(t.Context(), "ada")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = f.remote.Read(t.Context(), domain.CollectionItems, "i1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_CommentUsesGeneratedID(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionPosts, "p1", domain.Post{ID: "p1", AuthorID: "ada", CreatedAt: 1})

	comment := f.client.NewComment("bea", "p1", "nice")
	assert.Len(t, comment.ID, 26)
	require.NoError(t, f.mutate(t, comment))

	doc, ok, err := f.remote.Read(t.Context(), domain.CollectionComments, comment.ID)
	require.NoError(t, err)
	require.True(t, ok)
	var stored domain.Comment
	require.NoError(t, doc.Decode(&stored))
	assert.Equal(t, "bea", stored.SourceID)
	assert.Equal(t, "p1", stored.TargetID)
	assert.Equal(t, "nice", stored.Body)
}

func TestClient_RunCountersAppliesEdgeEvents(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionPosts, "p1", domain.Post{ID: "p1", AuthorID: "ada", CreatedAt: 1})
	edgeID := domain.EdgeID("bea", "p1")
	f.put(t, domain.CollectionLikes, edgeID, domain.Edge{ID: edgeID, SourceID: "bea", TargetID: "p1", CreatedAt: 2})

	events := make(chan domain.EdgeEvent, 2)
	source := mocks.NewMockEdgeEventSource(gomock.NewController(t))
	source.EXPECT().Subscribe(gomock.Any()).Return((<-chan domain.EdgeEvent)(events), nil)

	ctx, cancel := context.WithCancel(t.Context())
	stopped := make(chan error, 1)
	go func() { stopped <- f.client.RunCounters(ctx, source) }()

	ev := domain.EdgeEvent{
		EventID:    "e1",
		Collection: domain.CollectionLikes,
		EdgeID:     edgeID,
		SourceID:   "bea",
		TargetID:   "p1",
		Op:         domain.EdgeCreated,
	}
	events <- ev
	events <- ev

	likeCount := func() int64 {
		doc, _, err := f.remote.Read(context.Background(), domain.CollectionPosts, "p1")
		if err != nil {
			return -1
		}
		var p domain.Post
		if err := doc.Decode(&p); err != nil {
			return -1
		}
		return p.LikeCount
	}
	assert.Eventually(t, func() bool { return likeCount() == 1 && len(events) == 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-stopped)
	assert.Equal(t, int64(1), likeCount(), "a redelivered event is applied once")
}

func TestClient_ReconcileRepairsCachedCounters(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.CollectionProfiles, "a", domain.Profile{ID: "a", FollowerCount: 9})
	f.put(t, domain.CollectionProfiles, "b", domain.Profile{ID: "b"})
	f.put(t, domain.CollectionFollows, "b_a", domain.Edge{ID: "b_a", SourceID: "b", TargetID: "a"})

	p, _, err := f.client.Profile(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.FollowerCount)

	reports, err := f.client.Reconcile(t.Context())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	p, _, err = f.client.Profile(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.FollowerCount)

	reports, err = f.client.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestClient_ResumePendingReplaysLeftovers(t *testing.T) {
	f := newFixture(t)
	payload, err := domain.EncodeMutation(domain.Follow{FollowerID: "a", FolloweeID: "b"})
	require.NoError(t, err)
	require.NoError(t, f.local.Put(t.Context(), domain.PendingMutation{
		LocalID:   "left-over",
		Kind:      domain.KindFollow,
		Key:       domain.Follow{FollowerID: "a", FolloweeID: "b"}.Key(),
		Payload:   payload,
		CreatedAt: time.Now(),
	}))

	res, err := f.client.ResumePending(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)

	_, ok, err := f.remote.Read(t.Context(), domain.CollectionFollows, "a_b")
	require.NoError(t, err)
	assert.True(t, ok)
	pending, err := f.local.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClient_ClosedClientRejectsCalls(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Close())
	require.NoError(t, f.client.Close())

	_, _, err := f.client.Profile(t.Context(), "a")
	require.ErrorIs(t, err, domain.ErrClientClosed)
	err = f.client.Mutate(t.Context(), domain.Like{UserID: "a", PostID: "p"}, nil)
	require.ErrorIs(t, err, domain.ErrClientClosed)
}
