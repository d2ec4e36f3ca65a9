// Package localstate holds the optimistic view the client shows before the remote store
// confirms a write: an overlay of edge states, pending counter deltas and locally collected
// items.
package localstate

import (
	"context"
	"maps"
	"strings"
	"sync"

	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
)

// State is the client's local optimistic state. All changes it hands out come with an exact
// undo; settling a confirmed mutation removes only that mutation's contribution.
type State struct {
	items  ports.LocalItemStore
	logger ports.Logger
	specs  map[string]domain.CounterSpec

	mu sync.RWMutex
	// edges maps collection/edgeID to the optimistic state set by the newest local mutation.
	edges map[string]*edgeMark
	// marks indexes the unsettled edge marks by the mutation that set them.
	marks map[string]*edgeMark
	// deltas maps collection/id/field to the pending contribution of each mutation.
	deltas map[string]map[string]int64
}

type edgeMark struct {
	on       bool
	localID  string
	sourceID string
	targetID string
	// prev is the mark this one replaced.
	prev *edgeMark
	// settled is set once the remote store confirmed the mutation, even while a later
	// mutation overlays the edge. undone is set once the mutation was rolled back.
	settled bool
	undone  bool
}

// New creates an empty State over the durable item store.
func New(items ports.LocalItemStore, logger ports.Logger, specs []domain.CounterSpec) *State {
	bySpec := make(map[string]domain.CounterSpec, len(specs))
	for _, s := range specs {
		bySpec[s.EdgeCollection] = s
	}
	return &State{
		items:  items,
		logger: logger,
		specs:  bySpec,
		edges:  make(map[string]*edgeMark),
		marks:  make(map[string]*edgeMark),
		deltas: make(map[string]map[string]int64),
	}
}

func edgeKey(collection, edgeID string) string {
	return collection + "/" + edgeID
}

func counterKey(collection, id, field string) string {
	return collection + "/" + id + "/" + field
}

// SetEdge records the optimistic state of the edge from sourceID to targetID. Undo restores
// the mark it replaced, or the remote state when that mark's mutation has settled meanwhile.
func (s *State) SetEdge(localID, collection, sourceID, targetID string, on bool) (undo func()) {
	key := edgeKey(collection, domain.EdgeID(sourceID, targetID))
	mark := &edgeMark{on: on, localID: localID, sourceID: sourceID, targetID: targetID}

	s.mu.Lock()
	mark.prev = s.edges[key]
	s.edges[key] = mark
	s.marks[localID] = mark
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.marks, localID)
		mark.undone = true
		if s.edges[key] != mark {
			return
		}
		prev := mark.prev
		for prev != nil && prev.undone {
			prev = prev.prev
		}
		if prev != nil && !prev.settled {
			s.edges[key] = prev
		} else {
			delete(s.edges, key)
		}
	}
}

// SettleEdge drops the overlay of an edge once the remote store holds it, unless a later
// mutation has overlaid the edge since.
func (s *State) SettleEdge(localID, collection, edgeID string) {
	key := edgeKey(collection, edgeID)

	s.mu.Lock()
	defer s.mu.Unlock()
	mark, ok := s.marks[localID]
	if !ok {
		return
	}
	mark.settled = true
	mark.prev = nil
	delete(s.marks, localID)
	if s.edges[key] == mark {
		delete(s.edges, key)
	}
}

// Edge returns the optimistic state of an edge. ok is false when no local mutation
// overlays it and the remote state applies.
func (s *State) Edge(collection, edgeID string) (on, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.edges[edgeKey(collection, edgeID)]
	if !ok {
		return false, false
	}
	return m.on, true
}

// EdgesFrom returns the overlaid edges leaving sourceID, keyed by target.
func (s *State) EdgesFrom(collection, sourceID string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool)
	prefix := collection + "/"
	for k, m := range s.edges {
		if m.sourceID == sourceID && strings.HasPrefix(k, prefix) {
			out[m.targetID] = m.on
		}
	}
	return out
}

// AddDelta records a pending counter change contributed by one mutation.
func (s *State) AddDelta(localID, collection, id, field string, delta int64) (undo func()) {
	key := counterKey(collection, id, field)

	s.mu.Lock()
	byMutation, ok := s.deltas[key]
	if !ok {
		byMutation = make(map[string]int64)
		s.deltas[key] = byMutation
	}
	byMutation[localID] += delta
	s.mu.Unlock()

	return func() { s.removeDelta(key, localID, delta) }
}

// SettleDelta removes a mutation's contribution once the remote store confirmed it.
func (s *State) SettleDelta(localID, collection, id, field string, delta int64) {
	s.removeDelta(counterKey(collection, id, field), localID, delta)
}

func (s *State) removeDelta(key, localID string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMutation, ok := s.deltas[key]
	if !ok {
		return
	}
	byMutation[localID] -= delta
	if byMutation[localID] == 0 {
		delete(byMutation, localID)
	}
	if len(byMutation) == 0 {
		delete(s.deltas, key)
	}
}

// Delta returns the summed pending change of a counter.
func (s *State) Delta(collection, id, field string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, d := range s.deltas[counterKey(collection, id, field)] {
		sum += d
	}
	return sum
}

// OverlayCount adds the pending delta to a remote count, never showing less than zero.
func (s *State) OverlayCount(collection, id, field string, remote int64) int64 {
	return max(remote+s.Delta(collection, id, field), 0)
}

// PutItem stores an item locally.
func (s *State) PutItem(ctx context.Context, item domain.Item) (undo func(), err error) {
	prev, found, err := s.items.Get(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if err := s.items.Put(ctx, item); err != nil {
		return nil, err
	}
	return func() {
		uctx := context.WithoutCancel(ctx)
		if found {
			s.restore(s.items.Put(uctx, prev), item.ID)
			return
		}
		s.restore(s.items.Delete(uctx, item.ID), item.ID)
	}, nil
}

// RemoveItem deletes a local item.
func (s *State) RemoveItem(ctx context.Context, id string) (undo func(), err error) {
	prev, found, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return func() {}, nil
	}
	if err := s.items.Delete(ctx, id); err != nil {
		return nil, err
	}
	return func() {
		s.restore(s.items.Put(context.WithoutCancel(ctx), prev), id)
	}, nil
}

func (s *State) restore(err error, id string) {
	if err != nil {
		s.logger.Error(zerr.With(zerr.Wrap(err, "failed to restore local item"), "item_id", id))
	}
}

// Item returns a locally stored item.
func (s *State) Item(ctx context.Context, id string) (domain.Item, bool, error) {
	return s.items.Get(ctx, id)
}

// Items returns the owner's locally stored items.
func (s *State) Items(ctx context.Context, ownerID string) ([]domain.Item, error) {
	return s.items.ListByOwner(ctx, ownerID)
}

// Snapshot is a copy of the in-memory overlay.
type Snapshot struct {
	Edges  map[string]bool
	Deltas map[string]int64
}

// Snapshot copies the overlay. Two snapshots are equal exactly when the overlays are.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Edges:  make(map[string]bool, len(s.edges)),
		Deltas: make(map[string]int64, len(s.deltas)),
	}
	for k, m := range s.edges {
		snap.Edges[k] = m.on
	}
	for k, byMutation := range s.deltas {
		for id, d := range maps.All(byMutation) {
			snap.Deltas[k+"#"+id] = d
		}
	}
	return snap
}
