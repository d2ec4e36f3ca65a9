// Package reconcile recomputes denormalized counters from the edges they summarize and
// repairs the ones that drifted.
package reconcile

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Options tunes a Job.
type Options struct {
	PageSize    int
	Concurrency int
	MaxAttempts uint
}

// Job compares stored counters with the authoritative edge counts.
type Job struct {
	store  ports.DocumentStore
	sink   ports.ReportSink
	logger ports.Logger
	tracer ports.Tracer
	fields map[string][]domain.CounterField
	opts   Options
	now    func() time.Time

	metrics metrics
}

// New creates a Job for the counters declared by specs.
func New(
	store ports.DocumentStore,
	sink ports.ReportSink,
	logger ports.Logger,
	tracer ports.Tracer,
	specs []domain.CounterSpec,
	opts Options,
) *Job {
	fields := make(map[string][]domain.CounterField)
	for _, f := range domain.CounterFields(specs) {
		fields[f.EntityCollection] = append(fields[f.EntityCollection], f)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	return &Job{
		store:   store,
		sink:    sink,
		logger:  logger,
		tracer:  tracer,
		fields:  fields,
		opts:    opts,
		now:     time.Now,
		metrics: newMetrics(),
	}
}

// Collections returns the entity collections that carry counters, sorted.
func (j *Job) Collections() []string {
	out := make([]string, 0, len(j.fields))
	for c := range j.fields {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Reconcile checks every counter of the given entities and corrects the ones that differ
// from the edge count. A failing entity is logged and skipped; the error result is reserved
// for an unknown collection or a cancelled context.
func (j *Job) Reconcile(ctx context.Context, collection string, ids []string) ([]domain.ReconciliationReport, error) {
	fields, ok := j.fields[collection]
	if !ok {
		return nil, zerr.With(domain.ErrValidation, "collection", collection)
	}

	ctx, span := j.tracer.Start(ctx, "reconcile.batch",
		ports.WithAttribute("collection", collection),
		ports.WithAttribute("entities", len(ids)),
	)
	defer span.End()

	var (
		mu      sync.Mutex
		reports []domain.ReconciliationReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			found, err := j.entity(gctx, collection, id, fields)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				j.metrics.Failures.Inc()
				j.logger.Error(zerr.With(zerr.With(err, "collection", collection), "entity_id", id))
				return nil
			}
			mu.Lock()
			reports = append(reports, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return reports, err
	}

	slices.SortFunc(reports, func(a, b domain.ReconciliationReport) int {
		return cmp.Or(cmp.Compare(a.EntityID, b.EntityID), cmp.Compare(a.Field, b.Field))
	})
	return reports, nil
}

// ReconcileAll pages through a whole collection.
func (j *Job) ReconcileAll(ctx context.Context, collection string) ([]domain.ReconciliationReport, error) {
	if _, ok := j.fields[collection]; !ok {
		return nil, zerr.With(domain.ErrValidation, "collection", collection)
	}

	var (
		all     []domain.ReconciliationReport
		afterID string
		checked int
	)
	for {
		page, err := retry(ctx, j.opts.MaxAttempts, func() ([]domain.Document, error) {
			return j.store.List(ctx, collection, afterID, j.opts.PageSize)
		})
		if err != nil {
			return all, zerr.With(zerr.Wrap(err, "failed to list entities"), "collection", collection)
		}
		if len(page) == 0 {
			break
		}

		ids := make([]string, len(page))
		for i, d := range page {
			ids[i] = d.ID
		}
		reports, err := j.Reconcile(ctx, collection, ids)
		all = append(all, reports...)
		if err != nil {
			return all, err
		}

		checked += len(page)
		afterID = page[len(page)-1].ID
		if len(page) < j.opts.PageSize {
			break
		}
	}

	j.logger.Info("reconciliation finished", "collection", collection, "checked", checked, "corrected", len(all))
	return all, nil
}

// ReconcileCounters runs ReconcileAll for every collection that carries counters.
func (j *Job) ReconcileCounters(ctx context.Context) ([]domain.ReconciliationReport, error) {
	var all []domain.ReconciliationReport
	for _, c := range j.Collections() {
		reports, err := j.ReconcileAll(ctx, c)
		all = append(all, reports...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

func (j *Job) entity(
	ctx context.Context,
	collection, id string,
	fields []domain.CounterField,
) ([]domain.ReconciliationReport, error) {
	j.metrics.Checked.Inc()

	doc, err := retry(ctx, j.opts.MaxAttempts, func() (*domain.Document, error) {
		d, ok, err := j.store.Read(ctx, collection, id)
		if err != nil || !ok {
			return nil, err
		}
		return &d, nil
	})
	if err != nil {
		return nil, errors.Join(domain.ErrRemoteReadFailed, err)
	}
	if doc == nil {
		// Deleted since it was listed.
		return nil, nil
	}

	var reports []domain.ReconciliationReport
	for _, f := range fields {
		actual, err := retry(ctx, j.opts.MaxAttempts, func() (int64, error) {
			return j.store.Count(ctx, f.EdgeCollection, f.EdgeField, id)
		})
		if err != nil {
			return reports, errors.Join(domain.ErrRemoteQueryFailed, err)
		}

		stored := gjson.GetBytes(doc.Data, f.Field).Int()
		if stored == actual {
			continue
		}

		patch, err := json.Marshal(map[string]int64{f.Field: actual})
		if err != nil {
			return reports, zerr.Wrap(err, domain.ErrMarshalFailed.Error())
		}
		if _, err := retry(ctx, j.opts.MaxAttempts, func() (struct{}, error) {
			return struct{}{}, j.store.Write(ctx, collection, id, patch, true)
		}); err != nil {
			return reports, errors.Join(domain.ErrRemoteWriteFailed, err)
		}

		report := domain.ReconciliationReport{
			EntityCollection: collection,
			EntityID:         id,
			Field:            f.Field,
			StoredCount:      stored,
			ActualCount:      actual,
			CorrectedAt:      j.now().UTC(),
		}
		j.metrics.Corrected.Inc()
		if err := j.sink.Append(ctx, report); err != nil {
			j.logger.Error(zerr.With(zerr.Wrap(err, "failed to append reconciliation report"), "entity_id", id))
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// retry retries op with exponential backoff while it fails with domain.ErrTransient.
func retry[T any](ctx context.Context, attempts uint, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, domain.ErrTransient) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(attempts))
}
