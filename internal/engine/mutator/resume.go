package mutator

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/zerr"
)

// Replay re-sends the remote write of a pending record left over from a previous process.
type Replay func(ctx context.Context, rec domain.PendingMutation) error

// ResumeResult summarizes a Resume run.
type ResumeResult struct {
	// Replayed records were confirmed remotely and deleted.
	Replayed int
	// Dropped records were rejected permanently and deleted.
	Dropped int
	// Kept records still failed transiently and stay for the next run.
	Kept int
}

// Resume replays every persisted record that is not queued in this process. Transient
// failures are retried with exponential backoff up to maxAttempts; records that still fail
// transiently are kept with their attempt count bumped.
func (m *Mutator) Resume(ctx context.Context, replay Replay, maxAttempts uint) (ResumeResult, error) {
	var res ResumeResult

	records, err := m.store.List(ctx)
	if err != nil {
		return res, zerr.Wrap(err, "failed to list pending mutations")
	}
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	for _, rec := range records {
		if m.isInflight(rec.LocalID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			sctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
			defer cancel()
			if err := replay(sctx, rec); err != nil {
				if errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
					return struct{}{}, err
				}
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, nil
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxAttempts))
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		switch {
		case err == nil:
			m.forget(ctx, rec)
			res.Replayed++
		case errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded):
			rec.Attempts++
			if perr := m.store.Put(ctx, rec); perr != nil {
				m.logger.Error(zerr.With(perr, "local_id", rec.LocalID), "op", "update pending mutation")
			}
			m.logger.Warn("pending mutation kept for retry", "local_id", rec.LocalID, "attempts", rec.Attempts)
			res.Kept++
		default:
			m.logger.Error(zerr.With(zerr.With(err, "local_id", rec.LocalID), "kind", string(rec.Kind)),
				"op", "replay pending mutation")
			m.forget(ctx, rec)
			res.Dropped++
		}
	}

	m.metrics.Replayed.Add(float64(res.Replayed))
	return res, nil
}

func (m *Mutator) isInflight(localID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[localID]
	return ok
}
