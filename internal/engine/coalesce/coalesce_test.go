package coalesce_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/docsync/internal/adapters/telemetry"
	"go.trai.ch/docsync/internal/engine/cache"
	"go.trai.ch/docsync/internal/engine/coalesce"
)

func newCoalescer(opts ...coalesce.Option[string]) *coalesce.Coalescer[string] {
	return coalesce.New(cache.New[string](time.Minute), telemetry.NewNoOpTracer(), "test", opts...)
}

func TestFetchOrJoin_ConcurrentCallersShareOneFetch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCoalescer()
		release := make(chan struct{})
		var calls atomic.Int32

		fetch := func(context.Context) (string, error) {
			calls.Add(1)
			<-release
			return "alice", nil
		}

		var wg sync.WaitGroup
		results := make([]string, 10)
		for i := range results {
			wg.Go(func() {
				v, err := c.FetchOrJoin(t.Context(), "profiles/a", fetch)
				assert.NoError(t, err)
				results[i] = v
			})
		}

		synctest.Wait()
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, v := range results {
			assert.Equal(t, "alice", v)
		}

		v, err := c.FetchOrJoin(t.Context(), "profiles/a", fetch)
		require.NoError(t, err)
		assert.Equal(t, "alice", v)
		assert.Equal(t, int32(1), calls.Load(), "second read is served from cache")
	})
}

func TestFetchOrJoin_ErrorSharedAndNotCached(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCoalescer()
		boom := errors.New("boom")
		release := make(chan struct{})
		var calls atomic.Int32

		failing := func(context.Context) (string, error) {
			calls.Add(1)
			<-release
			return "", boom
		}

		var wg sync.WaitGroup
		for range 3 {
			wg.Go(func() {
				_, err := c.FetchOrJoin(t.Context(), "k", failing)
				assert.ErrorIs(t, err, boom)
			})
		}
		synctest.Wait()
		close(release)
		wg.Wait()
		assert.Equal(t, int32(1), calls.Load())

		v, err := c.FetchOrJoin(t.Context(), "k", func(context.Context) (string, error) {
			calls.Add(1)
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, int32(2), calls.Load(), "failure must not be cached")
	})
}

func TestFetchOrJoin_AbandonedCallerDoesNotCancelFetch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCoalescer()
		release := make(chan struct{})
		fetchErr := make(chan error, 1)

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() {
			_, err := c.FetchOrJoin(ctx, "k", func(fctx context.Context) (string, error) {
				<-release
				fetchErr <- fctx.Err()
				return "late", nil
			})
			done <- err
		}()

		synctest.Wait()
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)

		close(release)
		require.NoError(t, <-fetchErr)
		synctest.Wait()

		v, ok := c.Cache().Get("k")
		require.True(t, ok, "detached fetch still populates the cache")
		assert.Equal(t, "late", v)
	})
}

func TestFetchOrJoin_FetchTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCoalescer(coalesce.WithFetchTimeout[string](time.Second))

		_, err := c.FetchOrJoin(t.Context(), "k", func(fctx context.Context) (string, error) {
			<-fctx.Done()
			return "", fctx.Err()
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestFetchOrJoin_NotCacheable(t *testing.T) {
	c := newCoalescer(coalesce.WithCacheable(func(v string) bool { return v != "" }))
	var calls int

	for range 2 {
		v, err := c.FetchOrJoin(t.Context(), "missing", func(context.Context) (string, error) {
			calls++
			return "", nil
		})
		require.NoError(t, err)
		assert.Empty(t, v)
	}
	assert.Equal(t, 2, calls)
}

func TestInvalidate(t *testing.T) {
	c := newCoalescer()
	n := 0
	fetch := func(context.Context) (string, error) {
		n++
		return "v", nil
	}

	_, _ = c.FetchOrJoin(t.Context(), "k", fetch)
	c.Invalidate("k")
	c.Forget("k")
	_, _ = c.FetchOrJoin(t.Context(), "k", fetch)

	assert.Equal(t, 2, n)
	assert.Len(t, c.Metrics(), 9)
}

func TestInvalidate_DuringFetchKeepsResultOutOfCache(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newCoalescer()
		release := make(chan struct{})

		done := make(chan string, 1)
		go func() {
			v, err := c.FetchOrJoin(t.Context(), "likes/u_p", func(context.Context) (string, error) {
				<-release
				return "before write", nil
			})
			assert.NoError(t, err)
			done <- v
		}()

		synctest.Wait()
		c.Invalidate("likes/u_p")
		close(release)
		assert.Equal(t, "before write", <-done, "the waiter still gets its result")

		_, ok := c.Cache().Get("likes/u_p")
		assert.False(t, ok)

		v, err := c.FetchOrJoin(t.Context(), "likes/u_p", func(context.Context) (string, error) {
			return "after write", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "after write", v)
		cached, ok := c.Cache().Get("likes/u_p")
		require.True(t, ok)
		assert.Equal(t, "after write", cached)
	})
}
