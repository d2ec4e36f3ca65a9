// Package recovery re-submits items that exist on this device but never reached the remote
// store, for example because the app was killed between the local and the remote write.
package recovery

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cenkalti/backoff/v5"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/time/rate"
)

// Options tunes a Sync.
type Options struct {
	// RatePerSecond bounds remote writes; Burst is the bucket size.
	RatePerSecond float64
	Burst         int
	MaxAttempts   uint
	PageSize      int
}

// Sync diffs local items against the remote store and uploads the missing ones.
type Sync struct {
	store   ports.DocumentStore
	items   ports.LocalItemStore
	logger  ports.Logger
	tracer  ports.Tracer
	limiter *rate.Limiter
	opts    Options

	metrics metrics
}

// New creates a Sync.
func New(
	store ports.DocumentStore,
	items ports.LocalItemStore,
	logger ports.Logger,
	tracer ports.Tracer,
	opts Options,
) *Sync {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Sync{
		store:   store,
		items:   items,
		logger:  logger,
		tracer:  tracer,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:    opts,
		metrics: newMetrics(),
	}
}

// ReconcileLocalState uploads every local item of userID that the remote store lacks and
// returns how many were synced. Writes are keyed by item ID, so repeating a run is safe.
// Items that still fail after retries are logged and reported in the error; the count
// covers the ones that succeeded.
func (s *Sync) ReconcileLocalState(ctx context.Context, userID string) (int, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return 0, err
	}

	ctx, span := s.tracer.Start(ctx, "recovery.reconcile", ports.WithAttribute("user_id", userID))
	defer span.End()

	local, err := s.items.ListByOwner(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, zerr.With(zerr.Wrap(err, "failed to list local items"), "user_id", userID)
	}
	if len(local) == 0 {
		return 0, nil
	}

	remote, err := s.remoteIDs(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, zerr.With(err, "user_id", userID)
	}

	synced, failed := 0, 0
	for _, item := range local {
		if remote[item.ID] {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return synced, err
		}
		if err := s.upload(ctx, item); err != nil {
			if ctx.Err() != nil {
				return synced, ctx.Err()
			}
			failed++
			s.metrics.Failed.Inc()
			s.logger.Error(zerr.With(err, "item_id", item.ID), "user_id", userID)
			continue
		}
		synced++
		s.metrics.Synced.Inc()
	}

	if failed > 0 {
		return synced, zerr.With(zerr.With(domain.ErrRemoteWriteFailed, "failed", failed), "synced", synced)
	}
	return synced, nil
}

// remoteIDs pages through the user's remote items.
func (s *Sync) remoteIDs(ctx context.Context, userID string) (map[string]bool, error) {
	ids := make(map[string]bool)
	var after *domain.Cursor
	for {
		docs, err := s.store.Query(ctx, domain.Query{
			Collection: domain.CollectionItems,
			Field:      domain.FieldOwnerID,
			In:         []string{userID},
			OrderBy:    domain.FieldCollected,
			Limit:      s.opts.PageSize,
			After:      after,
		})
		if err != nil {
			return nil, errors.Join(domain.ErrRemoteQueryFailed, err)
		}
		for _, d := range docs {
			ids[d.ID] = true
		}
		if len(docs) < s.opts.PageSize {
			return ids, nil
		}

		var last domain.Item
		if err := docs[len(docs)-1].Decode(&last); err != nil {
			return nil, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
		}
		after = &domain.Cursor{Timestamp: last.CollectedAt, ID: docs[len(docs)-1].ID}
	}
}

func (s *Sync) upload(ctx context.Context, item domain.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return zerr.Wrap(err, domain.ErrMarshalFailed.Error())
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := s.store.Write(ctx, domain.CollectionItems, item.ID, data, false)
		if err != nil && !errors.Is(err, domain.ErrTransient) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.opts.MaxAttempts))
	if err != nil {
		return errors.Join(domain.ErrRemoteWriteFailed, err)
	}
	return nil
}

// Start runs ReconcileLocalState in the background. Failures are only logged. The returned
// channel is closed when the run ends.
func (s *Sync) Start(ctx context.Context, userID string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := s.ReconcileLocalState(ctx, userID)
		if err != nil {
			s.logger.Error(zerr.With(err, "user_id", userID), "synced", n)
			return
		}
		if n > 0 {
			s.logger.Info("recovered local items", "user_id", userID, "synced", n)
		}
	}()
	return done
}
