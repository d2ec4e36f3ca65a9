// Package mutator applies writes optimistically: the local change is visible at once, the
// remote write follows asynchronously, and a rejected write is rolled back exactly.
package mutator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
)

const defaultRemoteTimeout = 15 * time.Second

// Change applies a local state change and returns the function that reverts exactly it.
// A change that fails must leave the local state untouched.
type Change func() (undo func(), err error)

// Remote performs the remote write of a mutation.
type Remote func(ctx context.Context) error

// Request is one optimistic mutation.
type Request struct {
	// Key serializes requests: requests with equal keys reach the remote one at a time,
	// in submission order.
	Key    string
	Toggle domain.Toggle
	// Record is persisted before the remote write is dispatched.
	Record domain.PendingMutation
	Change Change
	Send   Remote
	// OnSuccess runs after the remote write is confirmed, typically to invalidate cache entries.
	OnSuccess func()
	// Done receives the final outcome. It may be nil.
	Done func(error)
}

// Mutator runs optimistic mutations.
type Mutator struct {
	store         ports.PendingStore
	logger        ports.Logger
	tracer        ports.Tracer
	remoteTimeout time.Duration

	mu       sync.Mutex
	queues   map[string]*queue
	inflight map[string]struct{}
	wg       sync.WaitGroup

	metrics metrics
}

type queue struct {
	// local serializes local changes and rollbacks on one key.
	local sync.Mutex

	// Guarded by Mutator.mu.
	ops     []*op
	running bool
	refs    int
}

type op struct {
	ctx        context.Context
	req        Request
	undo       func()
	dispatched bool
}

// New creates a Mutator persisting pending records in store.
func New(store ports.PendingStore, logger ports.Logger, tracer ports.Tracer, remoteTimeout time.Duration) *Mutator {
	if remoteTimeout <= 0 {
		remoteTimeout = defaultRemoteTimeout
	}
	return &Mutator{
		store:         store,
		logger:        logger,
		tracer:        tracer,
		remoteTimeout: remoteTimeout,
		queues:        make(map[string]*queue),
		inflight:      make(map[string]struct{}),
		metrics:       newMetrics(),
	}
}

// Apply applies the local change, persists the pending record and queues the remote write.
// It returns once the record is durable; the remote outcome is reported through req.Done.
// If the record cannot be persisted the local change is undone and the error returned.
func (m *Mutator) Apply(ctx context.Context, req Request) error {
	if req.Key == "" {
		return zerr.With(domain.ErrValidation, "field", "key")
	}
	if req.Send == nil {
		return zerr.With(domain.ErrValidation, "field", "send")
	}

	q := m.acquire(req.Key)
	collapsed, err := m.enqueue(ctx, q, req)
	m.release(req.Key, q)
	if err != nil {
		return err
	}
	m.metrics.Submitted.Inc()

	if collapsed != nil {
		m.metrics.Collapsed.Add(2)
		m.forget(collapsed.ctx, collapsed.req.Record)
		m.forget(ctx, req.Record)
		finish(collapsed.req, nil)
		finish(req, nil)
	}
	return nil
}

// enqueue runs under the key's local lock. When the request annihilates with the queued
// inverse toggle, both local changes are undone, that toggle is returned and neither is sent.
func (m *Mutator) enqueue(ctx context.Context, q *queue, req Request) (*op, error) {
	q.local.Lock()
	defer q.local.Unlock()

	undo := func() {}
	if req.Change != nil {
		u, err := req.Change()
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to apply local change"), "key", req.Key)
		}
		undo = u
	}

	if err := m.store.Put(ctx, req.Record); err != nil {
		undo()
		return nil, zerr.With(zerr.Wrap(err, "failed to persist pending mutation"), "key", req.Key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(q.ops); n > 0 {
		last := q.ops[n-1]
		if !last.dispatched && req.Toggle.Inverse(last.req.Toggle) {
			q.ops = q.ops[:n-1]
			delete(m.inflight, last.req.Record.LocalID)
			undo()
			last.undo()
			return last, nil
		}
	}

	q.ops = append(q.ops, &op{ctx: context.WithoutCancel(ctx), req: req, undo: undo})
	m.inflight[req.Record.LocalID] = struct{}{}
	if !q.running {
		q.running = true
		q.refs++
		m.wg.Add(1)
		go m.drain(req.Key, q)
	}
	return nil, nil
}

func (m *Mutator) acquire(key string) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[key]
	if !ok {
		q = &queue{}
		m.queues[key] = q
	}
	q.refs++
	return q
}

func (m *Mutator) release(key string, q *queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.refs--
	if q.refs == 0 && len(q.ops) == 0 && !q.running {
		delete(m.queues, key)
	}
}

// drain dispatches the key's queue head by head until it is empty.
func (m *Mutator) drain(key string, q *queue) {
	defer m.wg.Done()
	defer m.release(key, q)

	for {
		m.mu.Lock()
		if len(q.ops) == 0 {
			q.running = false
			m.mu.Unlock()
			return
		}
		head := q.ops[0]
		head.dispatched = true
		m.mu.Unlock()

		err := m.send(head)
		if err == nil {
			m.mu.Lock()
			q.ops = q.ops[1:]
			delete(m.inflight, head.req.Record.LocalID)
			m.mu.Unlock()

			m.forget(head.ctx, head.req.Record)
			m.metrics.Succeeded.Inc()
			if head.req.OnSuccess != nil {
				head.req.OnSuccess()
			}
			finish(head.req, nil)
			continue
		}

		m.rollback(q, head, err)
	}
}

// rollback undoes the failed head and every follower queued behind it, newest first.
func (m *Mutator) rollback(q *queue, head *op, cause error) {
	q.local.Lock()
	m.mu.Lock()
	followers := q.ops[1:]
	q.ops = nil
	delete(m.inflight, head.req.Record.LocalID)
	for _, f := range followers {
		delete(m.inflight, f.req.Record.LocalID)
	}
	m.mu.Unlock()

	for i := len(followers) - 1; i >= 0; i-- {
		followers[i].undo()
	}
	head.undo()
	q.local.Unlock()

	m.logger.Warn("mutation rolled back",
		"key", head.req.Key,
		"kind", string(head.req.Record.Kind),
		"followers", len(followers),
		"error", cause.Error(),
	)

	for _, f := range followers {
		m.forget(f.ctx, f.req.Record)
		m.metrics.Conflicted.Inc()
		finish(f.req, zerr.With(domain.ErrConflict, "key", f.req.Key))
	}
	m.forget(head.ctx, head.req.Record)
	m.metrics.RolledBack.Inc()
	finish(head.req, cause)
}

func (m *Mutator) send(o *op) error {
	ctx, cancel := context.WithTimeout(o.ctx, m.remoteTimeout)
	defer cancel()

	ctx, span := m.tracer.Start(ctx, "mutator.send",
		ports.WithAttribute("key", o.req.Key),
		ports.WithAttribute("kind", string(o.req.Record.Kind)),
	)
	defer span.End()

	start := time.Now()
	result := make(chan error, 1)
	go func() { result <- o.req.Send(ctx) }()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.metrics.SendDuration.Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = errors.Join(domain.ErrRemoteTimeout, err)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// forget deletes a pending record. A record that cannot be deleted is replayed by Resume,
// which is safe because every remote write is idempotent.
func (m *Mutator) forget(ctx context.Context, rec domain.PendingMutation) {
	if err := m.store.Delete(context.WithoutCancel(ctx), rec.LocalID); err != nil {
		m.logger.Error(zerr.With(err, "local_id", rec.LocalID), "op", "delete pending mutation")
	}
}

func finish(req Request, err error) {
	if req.Done != nil {
		req.Done(err)
	}
}

// Wait blocks until every queued mutation has completed.
func (m *Mutator) Wait() {
	m.wg.Wait()
}

// Pending reports the number of queued or in-flight mutations.
func (m *Mutator) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}
