// Package feed assembles a chronological feed from posts spread over many authors, given a
// store that can only query a bounded id-set at a time.
package feed

import (
	"context"
	"errors"
	"slices"

	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Filter reports whether a post may be shown.
type Filter func(domain.Post) bool

// Options tunes an Assembler.
type Options struct {
	// BatchSize is the number of authors per query, at most domain.MaxQueryIDs.
	BatchSize int
	// Overfetch multiplies the page limit for each batch query.
	Overfetch int
	// MaxLimit caps the page size.
	MaxLimit int
	// Filter drops posts after they are fetched. Nil keeps every post.
	Filter Filter
}

// Assembler builds feed pages.
type Assembler struct {
	store  ports.DocumentStore
	tracer ports.Tracer
	opts   Options

	metrics metrics
}

// VisibleOnly is a Filter that drops hidden posts.
func VisibleOnly(p domain.Post) bool {
	return !p.Hidden
}

// New creates an Assembler over store.
func New(store ports.DocumentStore, tracer ports.Tracer, opts Options) *Assembler {
	if opts.BatchSize <= 0 || opts.BatchSize > domain.MaxQueryIDs {
		opts.BatchSize = domain.MaxQueryIDs
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = 1
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	return &Assembler{store: store, tracer: tracer, opts: opts, metrics: newMetrics()}
}

type batchResult struct {
	posts []domain.Post
	// last is the oldest post the query returned, before filtering.
	last      domain.Post
	saturated bool
}

// Page returns up to limit posts by actorIDs, newest first with ties broken by ascending
// ID, starting after cursor. The returned cursor resumes the feed; it is empty once the feed
// is exhausted. A failing batch fails the whole page.
func (a *Assembler) Page(ctx context.Context, actorIDs []string, cursor string, limit int) ([]domain.Post, string, error) {
	if limit <= 0 {
		return nil, "", zerr.With(domain.ErrValidation, "limit", limit)
	}
	limit = min(limit, a.opts.MaxLimit)

	after, err := domain.DecodeCursor(cursor)
	if err != nil {
		return nil, "", errors.Join(domain.ErrValidation, err)
	}

	ids := make([]string, 0, len(actorIDs))
	seen := make(map[string]bool, len(actorIDs))
	for _, id := range actorIDs {
		if err := domain.ValidateID("actorId", id); err != nil {
			return nil, "", err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, "", nil
	}

	ctx, span := a.tracer.Start(ctx, "feed.page",
		ports.WithAttribute("actors", len(ids)),
		ports.WithAttribute("limit", limit),
	)
	defer span.End()

	batches := slices.Collect(slices.Chunk(ids, a.opts.BatchSize))
	results := make([]batchResult, len(batches))
	fetchLimit := limit * a.opts.Overfetch

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			res, err := a.queryBatch(gctx, batch, after, fetchLimit)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		a.metrics.Failures.Inc()
		return nil, "", err
	}

	posts, next := merge(results, limit)
	a.metrics.Pages.Inc()
	a.metrics.Posts.Add(float64(len(posts)))
	return posts, next, nil
}

func (a *Assembler) queryBatch(ctx context.Context, batch []string, after *domain.Cursor, fetchLimit int) (batchResult, error) {
	a.metrics.Queries.Inc()
	docs, err := a.store.Query(ctx, domain.Query{
		Collection: domain.CollectionPosts,
		Field:      domain.FieldAuthorID,
		In:         batch,
		OrderBy:    domain.FieldCreatedAt,
		Limit:      fetchLimit,
		After:      after,
	})
	if err != nil {
		return batchResult{}, errors.Join(domain.ErrRemoteQueryFailed, err)
	}

	res := batchResult{saturated: len(docs) >= fetchLimit}
	for _, d := range docs {
		var p domain.Post
		if err := d.Decode(&p); err != nil {
			return batchResult{}, zerr.With(zerr.Wrap(err, domain.ErrUnmarshalFailed.Error()), "post_id", d.ID)
		}
		if p.ID == "" {
			p.ID = d.ID
		}
		res.last = p
		if a.opts.Filter == nil || a.opts.Filter(p) {
			res.posts = append(res.posts, p)
		}
	}
	return res, nil
}

// merge orders the batch results and cuts them so that no post is returned past a point
// where a saturated batch may still hold unseen, newer posts.
func merge(results []batchResult, limit int) ([]domain.Post, string) {
	var floor *domain.Post
	for i := range results {
		r := &results[i]
		if !r.saturated {
			continue
		}
		if floor == nil || domain.Precedes(r.last.CreatedAt, r.last.ID, floor.CreatedAt, floor.ID) {
			floor = &r.last
		}
	}

	var posts []domain.Post
	for _, r := range results {
		for _, p := range r.posts {
			if floor != nil && domain.Precedes(floor.CreatedAt, floor.ID, p.CreatedAt, p.ID) {
				continue
			}
			posts = append(posts, p)
		}
	}
	slices.SortFunc(posts, func(x, y domain.Post) int {
		switch {
		case domain.Precedes(x.CreatedAt, x.ID, y.CreatedAt, y.ID):
			return -1
		case domain.Precedes(y.CreatedAt, y.ID, x.CreatedAt, x.ID):
			return 1
		default:
			return 0
		}
	})

	if len(posts) >= limit {
		posts = posts[:limit]
		last := posts[len(posts)-1]
		return posts, domain.Cursor{Timestamp: last.CreatedAt, ID: last.ID}.Encode()
	}
	if floor != nil {
		// Short page: everything up to the floor was seen, resume right after it.
		return posts, domain.Cursor{Timestamp: floor.CreatedAt, ID: floor.ID}.Encode()
	}
	return posts, ""
}
