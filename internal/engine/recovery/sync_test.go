package recovery_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/docsync/internal/adapters/filestore"
	"go.trai.ch/docsync/internal/adapters/memdoc"
	"go.trai.ch/docsync/internal/adapters/telemetry"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/docsync/internal/core/ports/mocks"
	"go.trai.ch/docsync/internal/engine/recovery"
	"go.uber.org/mock/gomock"
)

// failingStore fails writes for chosen items, either a fixed number of times with a
// transient error or always with a permanent one.
type failingStore struct {
	ports.DocumentStore

	mu        sync.Mutex
	transient map[string]int
	permanent map[string]bool
	writes    map[string]int
}

func newFailingStore(inner ports.DocumentStore) *failingStore {
	return &failingStore{
		DocumentStore: inner,
		transient:     make(map[string]int),
		permanent:     make(map[string]bool),
		writes:        make(map[string]int),
	}
}

func (s *failingStore) Write(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error {
	s.mu.Lock()
	s.writes[id]++
	if s.permanent[id] {
		s.mu.Unlock()
		return errors.New("permission denied")
	}
	if s.transient[id] > 0 {
		s.transient[id]--
		s.mu.Unlock()
		return domain.ErrTransient
	}
	s.mu.Unlock()
	return s.DocumentStore.Write(ctx, collection, id, data, merge)
}

func (s *failingStore) writeCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[id]
}

func quietLogger(t *testing.T) *mocks.MockLogger {
	t.Helper()
	logger := mocks.NewMockLogger(gomock.NewController(t))
	logger.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()
	logger.EXPECT().Error(gomock.Any(), gomock.Any()).AnyTimes()
	return logger
}

func localItems(t *testing.T, items ...domain.Item) ports.LocalItemStore {
	t.Helper()
	store, err := filestore.NewStore(filepath.Join(t.TempDir(), "local.json"))
	require.NoError(t, err)
	local := store.Items()
	for _, item := range items {
		require.NoError(t, local.Put(t.Context(), item))
	}
	return local
}

func putRemote(t *testing.T, store ports.DocumentStore, item domain.Item) {
	t.Helper()
	data, err := json.Marshal(item)
	require.NoError(t, err)
	require.NoError(t, store.Write(t.Context(), domain.CollectionItems, item.ID, data, false))
}

func TestReconcileLocalState_UploadsLocalOnlyItems(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		remote := memdoc.New()
		putRemote(t, remote, domain.Item{ID: "b", OwnerID: "u1", CollectedAt: 2})

		local := localItems(t,
			domain.Item{ID: "a", OwnerID: "u1", CollectedAt: 1},
			domain.Item{ID: "b", OwnerID: "u1", CollectedAt: 2},
			domain.Item{ID: "c", OwnerID: "u1", CollectedAt: 3},
			domain.Item{ID: "x", OwnerID: "u2", CollectedAt: 4},
		)

		rs := recovery.New(remote, local, quietLogger(t), telemetry.NewNoOpTracer(), recovery.Options{})
		n, err := rs.ReconcileLocalState(t.Context(), "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, id := range []string{"a", "b", "c"} {
			doc, ok, err := remote.Read(t.Context(), domain.CollectionItems, id)
			require.NoError(t, err)
			require.True(t, ok, id)
			var item domain.Item
			require.NoError(t, doc.Decode(&item))
			assert.Equal(t, "u1", item.OwnerID)
		}
		_, ok, err := remote.Read(t.Context(), domain.CollectionItems, "x")
		require.NoError(t, err)
		assert.False(t, ok, "other users' items stay local")

		n, err = rs.ReconcileLocalState(t.Context(), "u1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestReconcileLocalState_PagesRemoteItems(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		remote := newFailingStore(memdoc.New())
		var items []domain.Item
		for i, id := range []string{"a", "b", "c", "d", "e"} {
			item := domain.Item{ID: id, OwnerID: "u1", CollectedAt: int64(i % 2)}
			putRemote(t, remote.DocumentStore, item)
			items = append(items, item)
		}
		local := localItems(t, items...)

		rs := recovery.New(remote, local, quietLogger(t), telemetry.NewNoOpTracer(), recovery.Options{PageSize: 2})
		n, err := rs.ReconcileLocalState(t.Context(), "u1")
		require.NoError(t, err)
		assert.Zero(t, n)
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			assert.Zero(t, remote.writeCount(id), id)
		}
	})
}

func TestReconcileLocalState_RetriesTransientFailures(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		remote := newFailingStore(memdoc.New())
		remote.transient["a"] = 2
		local := localItems(t, domain.Item{ID: "a", OwnerID: "u1"})

		rs := recovery.New(remote, local, quietLogger(t), telemetry.NewNoOpTracer(), recovery.Options{MaxAttempts: 5})
		n, err := rs.ReconcileLocalState(t.Context(), "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 3, remote.writeCount("a"))
	})
}

func TestReconcileLocalState_ReportsPermanentFailures(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		remote := newFailingStore(memdoc.New())
		remote.permanent["bad"] = true
		local := localItems(t,
			domain.Item{ID: "bad", OwnerID: "u1"},
			domain.Item{ID: "good", OwnerID: "u1"},
		)

		rs := recovery.New(remote, local, quietLogger(t), telemetry.NewNoOpTracer(), recovery.Options{})
		n, err := rs.ReconcileLocalState(t.Context(), "u1")
		require.Error(t, err)
		assert.ErrorContains(t, err, domain.ErrRemoteWriteFailed.Error())
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, remote.writeCount("bad"), "permanent failures are not retried")

		_, ok, err := remote.Read(t.Context(), domain.CollectionItems, "good")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestReconcileLocalState_RejectsInvalidUser(t *testing.T) {
	rs := recovery.New(memdoc.New(), localItems(t), quietLogger(t), telemetry.NewNoOpTracer(), recovery.Options{})

	_, err := rs.ReconcileLocalState(t.Context(), "")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = rs.ReconcileLocalState(t.Context(), "a/b")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestReconcileLocalState_HonorsCancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		remote := newFailingStore(memdoc.New())
		remote.transient["a"] = 100
		local := localItems(t, domain.Item{ID: "a", OwnerID: "u1"})

		ctx, cancel := context.WithCancel(t.Context())
		rs := recovery.New(remote, local, quietLogger(t), telemetry.NewNoOpTracer(), recovery.Options{MaxAttempts: 100})

		var err error
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err = rs.ReconcileLocalState(ctx, "u1")
		}()

		synctest.Wait()
		cancel()
		<-done
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestStart_ClosesWhenFinished(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		remote := memdoc.New()
		local := localItems(t, domain.Item{ID: "a", OwnerID: "u1"})

		logger := mocks.NewMockLogger(gomock.NewController(t))
		logger.EXPECT().Info("recovered local items", "user_id", "u1", "synced", 1)

		rs := recovery.New(remote, local, logger, telemetry.NewNoOpTracer(), recovery.Options{})
		<-rs.Start(t.Context(), "u1")

		_, ok, err := remote.Read(t.Context(), domain.CollectionItems, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
