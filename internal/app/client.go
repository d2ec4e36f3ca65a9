// Package app implements the application layer for docsync: the Client facade that UI code
// reads and writes through, and the App the CLI builds from configuration.
package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/docsync/internal/engine/cache"
	"go.trai.ch/docsync/internal/engine/coalesce"
	"go.trai.ch/docsync/internal/engine/counters"
	"go.trai.ch/docsync/internal/engine/feed"
	"go.trai.ch/docsync/internal/engine/mutator"
	"go.trai.ch/docsync/internal/engine/reconcile"
	"go.trai.ch/docsync/internal/engine/recovery"
	"go.trai.ch/docsync/internal/localstate"
	m "go.trai.ch/docsync/internal/metrics"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Stores are the adapters a Client runs on.
type Stores struct {
	Remote  ports.DocumentStore
	Pending ports.PendingStore
	Items   ports.LocalItemStore
	// Reports receives reconciliation reports. Nil appends them to the remote store.
	Reports ports.ReportSink
}

// Client is the consistency layer between the UI and the remote document store. Reads are
// cached and coalesced and show pending local writes; writes are optimistic.
type Client struct {
	cfg    domain.Config
	remote ports.DocumentStore
	logger ports.Logger
	tracer ports.Tracer
	now    func() time.Time

	local     *localstate.State
	docs      *coalesce.Coalescer[domain.Document]
	lists     *coalesce.Coalescer[[]string]
	mutations *mutator.Mutator
	feed      *feed.Assembler
	reconcile *reconcile.Job
	recovery  *recovery.Sync
	counters  *counters.Syncer

	closed atomic.Bool
}

// NewClient creates a Client from cfg over stores.
func NewClient(cfg domain.Config, stores Stores, logger ports.Logger, tracer ports.Tracer) (*Client, error) {
	if stores.Remote == nil || stores.Pending == nil || stores.Items == nil {
		return nil, zerr.With(domain.ErrInvalidConfig, "reason", "remote, pending and item stores are required")
	}
	specs := domain.DefaultCounterSpecs()

	reports := stores.Reports
	if reports == nil {
		reports = reconcile.NewStoreSink(stores.Remote, logger)
	}

	syncer, err := counters.New(stores.Remote, logger, tracer, specs, cfg.Counters.DedupeSize)
	if err != nil {
		return nil, err
	}

	docCache := cache.New[domain.Document](cfg.Cache.TTL, cache.WithShards(cfg.Cache.Shards), cache.WithName("documents"))
	listCache := cache.New[[]string](cfg.Cache.TTL, cache.WithShards(cfg.Cache.Shards), cache.WithName("relationships"))

	return &Client{
		cfg:    cfg,
		remote: stores.Remote,
		logger: logger,
		tracer: tracer,
		now:    time.Now,
		local:  localstate.New(stores.Items, logger, specs),
		docs: coalesce.New(docCache, tracer, "documents",
			coalesce.WithFetchTimeout[domain.Document](cfg.Cache.FetchTimeout)),
		lists: coalesce.New(listCache, tracer, "relationships",
			coalesce.WithFetchTimeout[[]string](cfg.Cache.FetchTimeout)),
		mutations: mutator.New(stores.Pending, logger, tracer, cfg.Mutations.RemoteTimeout),
		feed: feed.New(stores.Remote, tracer, feed.Options{
			BatchSize: cfg.Feed.BatchSize,
			Overfetch: cfg.Feed.Overfetch,
			MaxLimit:  cfg.Feed.MaxLimit,
			Filter:    feed.VisibleOnly,
		}),
		reconcile: reconcile.New(stores.Remote, reports, logger, tracer, specs, reconcile.Options{
			PageSize:    cfg.Reconcile.PageSize,
			Concurrency: cfg.Reconcile.Concurrency,
			MaxAttempts: uint(max(cfg.Reconcile.MaxAttempts, 1)),
		}),
		recovery: recovery.New(stores.Remote, stores.Items, logger, tracer, recovery.Options{
			RatePerSecond: cfg.Recovery.RatePerSecond,
			Burst:         cfg.Recovery.Burst,
			MaxAttempts:   uint(max(cfg.Recovery.MaxAttempts, 1)),
			PageSize:      cfg.Reconcile.PageSize,
		}),
		counters: syncer,
	}, nil
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return domain.ErrClientClosed
	}
	return nil
}

// fetch reads one document through the cache. A missing document is reported as
// domain.ErrNotFound and, like every error, is not cached.
func (c *Client) fetch(ctx context.Context, collection, id string) (domain.Document, error) {
	return c.docs.FetchOrJoin(ctx, docKey(collection, id), func(ctx context.Context) (domain.Document, error) {
		doc, ok, err := c.remote.Read(ctx, collection, id)
		if err != nil {
			return domain.Document{}, zerr.With(err, "key", docKey(collection, id))
		}
		if !ok {
			return domain.Document{}, domain.ErrNotFound
		}
		return doc, nil
	})
}

// Get returns the entity of type t with the given id, with pending local writes applied.
// A missing entity is reported as found=false.
func (c *Client) Get(ctx context.Context, t domain.EntityType, id string) (domain.Entity, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	collection, ok := t.Collection()
	if !ok {
		return nil, false, zerr.With(domain.ErrUnknownEntityType, "type", string(t))
	}
	if err := domain.ValidateID("id", id); err != nil {
		return nil, false, err
	}

	doc, err := c.fetch(ctx, collection, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if t == domain.EntityItem {
			return c.localItem(ctx, id)
		}
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}

	e, err := c.decode(t, doc)
	if err != nil {
		return nil, false, zerr.With(err, "key", docKey(collection, id))
	}
	return e, true, nil
}

// localItem serves an item collected on this device that has not reached the remote store.
func (c *Client) localItem(ctx context.Context, id string) (domain.Entity, bool, error) {
	item, ok, err := c.local.Item(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *Client) decode(t domain.EntityType, doc domain.Document) (domain.Entity, error) {
	switch t {
	case domain.EntityProfile:
		var p domain.Profile
		if err := doc.Decode(&p); err != nil {
			return nil, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
		}
		p.ID = doc.ID
		p.FollowerCount = c.local.OverlayCount(domain.CollectionProfiles, p.ID, "followerCount", p.FollowerCount)
		p.FollowingCount = c.local.OverlayCount(domain.CollectionProfiles, p.ID, "followingCount", p.FollowingCount)
		return &p, nil
	case domain.EntityPost:
		var p domain.Post
		if err := doc.Decode(&p); err != nil {
			return nil, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
		}
		p.ID = doc.ID
		p.LikeCount = c.local.OverlayCount(domain.CollectionPosts, p.ID, "likeCount", p.LikeCount)
		p.CommentCount = c.local.OverlayCount(domain.CollectionPosts, p.ID, "commentCount", p.CommentCount)
		return &p, nil
	default:
		var i domain.Item
		if err := doc.Decode(&i); err != nil {
			return nil, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
		}
		i.ID = doc.ID
		return &i, nil
	}
}

func getAs[T any, PT interface {
	*T
	domain.Entity
}](ctx context.Context, c *Client, t domain.EntityType, id string) (T, bool, error) {
	var zero T
	e, ok, err := c.Get(ctx, t, id)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, _ := e.(PT)
	return *v, true, nil
}

// Profile returns a profile.
func (c *Client) Profile(ctx context.Context, id string) (domain.Profile, bool, error) {
	return getAs[domain.Profile](ctx, c, domain.EntityProfile, id)
}

// Post returns a post.
func (c *Client) Post(ctx context.Context, id string) (domain.Post, bool, error) {
	return getAs[domain.Post](ctx, c, domain.EntityPost, id)
}

// Item returns a collected item, falling back to the local copy when the remote store does
// not have it yet.
func (c *Client) Item(ctx context.Context, id string) (domain.Item, bool, error) {
	return getAs[domain.Item](ctx, c, domain.EntityItem, id)
}

// GetBatch reads many entities of one type in parallel. Duplicate IDs are read once and
// missing entities are absent from the result. The first failure fails the batch.
func (c *Client) GetBatch(ctx context.Context, t domain.EntityType, ids []string) (map[string]domain.Entity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	var mu sync.Mutex
	out := make(map[string]domain.Entity, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.cfg.Cache.BatchWorkers, 1))
	for _, id := range unique {
		g.Go(func() error {
			e, ok, err := c.Get(gctx, t, id)
			if err != nil {
				return zerr.With(err, "id", id)
			}
			if ok {
				mu.Lock()
				out[id] = e
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops the cached entity so the next read fetches it again.
func (c *Client) Invalidate(t domain.EntityType, id string) {
	if collection, ok := t.Collection(); ok {
		c.docs.Invalidate(docKey(collection, id))
	}
}

// InvalidateAll drops every cached entity and relationship list.
func (c *Client) InvalidateAll() {
	c.docs.Cache().InvalidateAll()
	c.lists.Cache().InvalidateAll()
}

// Metrics implements metrics.Collector.
func (c *Client) Metrics() []prometheus.Collector {
	var out []prometheus.Collector
	for _, component := range []m.Collector{c.docs, c.lists, c.mutations, c.feed, c.reconcile, c.recovery, c.counters} {
		out = append(out, component.Metrics()...)
	}
	return out
}

// Close waits for queued mutations to finish. A closed client rejects new calls.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mutations.Wait()
	return nil
}
