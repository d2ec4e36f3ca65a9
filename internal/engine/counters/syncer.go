// Package counters keeps denormalized relationship counters in step with edge events.
package counters

import (
	"context"
	"encoding/json"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
)

const defaultDedupeSize = 4096

// mark records that an edge's creation has been applied to its counters.
type mark struct {
	Collection string `json:"collection"`
	EdgeID     string `json:"edgeId"`
	SourceID   string `json:"sourceId"`
	TargetID   string `json:"targetId"`
}

// Syncer applies edge events to the counters declared by the counter specs.
//
// Events may be redelivered and may arrive after the edge changed again. A creation is
// applied only while the edge exists and has no applied mark; a deletion only while the
// edge is gone and the mark is present. Redeliveries therefore never move a counter twice.
type Syncer struct {
	store  ports.DocumentStore
	logger ports.Logger
	tracer ports.Tracer
	specs  map[string]domain.CounterSpec
	seen   *lru.Cache[string, struct{}]
	locks  *keyedMutex

	metrics metrics
}

// New creates a Syncer. dedupeSize bounds the number of recent event IDs remembered.
func New(
	store ports.DocumentStore,
	logger ports.Logger,
	tracer ports.Tracer,
	specs []domain.CounterSpec,
	dedupeSize int,
) (*Syncer, error) {
	if dedupeSize <= 0 {
		dedupeSize = defaultDedupeSize
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create event dedupe cache")
	}

	bySpec := make(map[string]domain.CounterSpec, len(specs))
	for _, s := range specs {
		bySpec[s.EdgeCollection] = s
	}

	return &Syncer{
		store:   store,
		logger:  logger,
		tracer:  tracer,
		specs:   bySpec,
		seen:    seen,
		locks:   newKeyedMutex(),
		metrics: newMetrics(),
	}, nil
}

// classify keeps the store's error checkable against the sentinel.
func classify(sentinel, err error) error {
	return errors.Join(sentinel, err)
}

func markID(collection, edgeID string) string {
	return collection + "." + edgeID
}

// Handle applies one edge event. Events for collections without a counter spec are ignored.
func (s *Syncer) Handle(ctx context.Context, ev domain.EdgeEvent) error {
	spec, ok := s.specs[ev.Collection]
	if !ok {
		s.metrics.Ignored.Inc()
		return nil
	}
	if ev.EventID != "" && s.seen.Contains(ev.EventID) {
		s.metrics.Duplicates.Inc()
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "counters.handle",
		ports.WithAttribute("collection", ev.Collection),
		ports.WithAttribute("edge_id", ev.EdgeID),
		ports.WithAttribute("op", string(ev.Op)),
	)
	defer span.End()

	unlock := s.locks.Lock(markID(ev.Collection, ev.EdgeID))
	defer unlock()

	applied, err := s.apply(ctx, spec, ev)
	if err != nil {
		span.RecordError(err)
		return zerr.With(zerr.With(err, "edge_id", ev.EdgeID), "op", string(ev.Op))
	}

	if ev.EventID != "" {
		s.seen.Add(ev.EventID, struct{}{})
	}
	if applied {
		s.metrics.Applied.Inc()
	} else {
		s.metrics.Skipped.Inc()
	}
	return nil
}

func (s *Syncer) apply(ctx context.Context, spec domain.CounterSpec, ev domain.EdgeEvent) (bool, error) {
	_, exists, err := s.store.Read(ctx, ev.Collection, ev.EdgeID)
	if err != nil {
		return false, classify(domain.ErrRemoteReadFailed, err)
	}
	id := markID(ev.Collection, ev.EdgeID)
	markDoc, marked, err := s.store.Read(ctx, domain.CollectionMarks, id)
	if err != nil {
		return false, classify(domain.ErrRemoteReadFailed, err)
	}

	switch ev.Op {
	case domain.EdgeCreated:
		if !exists || marked {
			return false, nil
		}
		if err := s.bump(ctx, spec, ev.SourceID, ev.TargetID, 1); err != nil {
			return false, err
		}
		data, err := json.Marshal(mark{
			Collection: ev.Collection,
			EdgeID:     ev.EdgeID,
			SourceID:   ev.SourceID,
			TargetID:   ev.TargetID,
		})
		if err != nil {
			return false, zerr.Wrap(err, domain.ErrMarshalFailed.Error())
		}
		if err := s.store.Write(ctx, domain.CollectionMarks, id, data, false); err != nil {
			return false, classify(domain.ErrRemoteWriteFailed, err)
		}
		return true, nil

	case domain.EdgeDeleted:
		if exists || !marked {
			return false, nil
		}
		var m mark
		if err := markDoc.Decode(&m); err != nil {
			return false, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
		}
		// The mark holds the endpoints the creation was counted against.
		if err := s.bump(ctx, spec, m.SourceID, m.TargetID, -1); err != nil {
			return false, err
		}
		if err := s.store.Delete(ctx, domain.CollectionMarks, id); err != nil {
			return false, classify(domain.ErrRemoteWriteFailed, err)
		}
		return true, nil

	default:
		return false, zerr.With(domain.ErrValidation, "op", string(ev.Op))
	}
}

func (s *Syncer) bump(ctx context.Context, spec domain.CounterSpec, sourceID, targetID string, delta int64) error {
	if spec.OutgoingField != "" && sourceID != "" {
		if err := s.store.Increment(ctx, spec.SourceCollection, sourceID, spec.OutgoingField, delta); err != nil {
			return classify(domain.ErrRemoteWriteFailed, err)
		}
	}
	if spec.IncomingField != "" && targetID != "" {
		if err := s.store.Increment(ctx, spec.TargetCollection, targetID, spec.IncomingField, delta); err != nil {
			return classify(domain.ErrRemoteWriteFailed, err)
		}
	}
	return nil
}

// Run consumes events from source until ctx is done or the source closes. Events that fail
// are logged and left to redelivery or reconciliation.
func (s *Syncer) Run(ctx context.Context, source ports.EdgeEventSource) error {
	events, err := source.Subscribe(ctx)
	if err != nil {
		return zerr.Wrap(err, "failed to subscribe to edge events")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := s.Handle(ctx, ev); err != nil {
				s.metrics.Failed.Inc()
				s.logger.Error(err, "event_id", ev.EventID)
			}
		}
	}
}
