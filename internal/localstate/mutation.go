package localstate

import (
	"context"

	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/engine/mutator"
	"go.trai.ch/zerr"
)

type counterRef struct {
	collection string
	id         string
	field      string
	delta      int64
}

type effect struct {
	edgeCollection string
	sourceID       string
	targetID       string
	on             bool
	counters       []counterRef
}

// effectOf returns the overlay a mutation produces. Item mutations have no overlay effect;
// their local change is the durable item itself.
func (s *State) effectOf(m domain.Mutation) (effect, bool) {
	switch v := m.(type) {
	case domain.Like:
		return s.toggleEffect(domain.CollectionLikes, v.UserID, v.PostID, true), true
	case domain.Unlike:
		return s.toggleEffect(domain.CollectionLikes, v.UserID, v.PostID, false), true
	case domain.Follow:
		return s.toggleEffect(domain.CollectionFollows, v.FollowerID, v.FolloweeID, true), true
	case domain.Unfollow:
		return s.toggleEffect(domain.CollectionFollows, v.FollowerID, v.FolloweeID, false), true
	case domain.AddComment:
		spec := s.specs[domain.CollectionComments]
		e := effect{}
		if spec.IncomingField != "" {
			e.counters = append(e.counters, counterRef{spec.TargetCollection, v.PostID, spec.IncomingField, 1})
		}
		return e, true
	default:
		return effect{}, false
	}
}

func (s *State) toggleEffect(collection, sourceID, targetID string, on bool) effect {
	delta := int64(1)
	if !on {
		delta = -1
	}
	e := effect{edgeCollection: collection, sourceID: sourceID, targetID: targetID, on: on}
	spec := s.specs[collection]
	if spec.OutgoingField != "" {
		e.counters = append(e.counters, counterRef{spec.SourceCollection, sourceID, spec.OutgoingField, delta})
	}
	if spec.IncomingField != "" {
		e.counters = append(e.counters, counterRef{spec.TargetCollection, targetID, spec.IncomingField, delta})
	}
	return e
}

// Change returns the local change of mutation m submitted as localID.
func (s *State) Change(ctx context.Context, localID string, m domain.Mutation) mutator.Change {
	return func() (func(), error) {
		switch v := m.(type) {
		case domain.Collect:
			return s.PutItem(ctx, v.Item)
		case domain.Uncollect:
			return s.RemoveItem(ctx, v.ItemID)
		}

		e, ok := s.effectOf(m)
		if !ok {
			return nil, zerr.With(domain.ErrUnknownMutationKind, "kind", string(m.Kind()))
		}

		var undos []func()
		if e.edgeCollection != "" {
			undos = append(undos, s.SetEdge(localID, e.edgeCollection, e.sourceID, e.targetID, e.on))
		}
		for _, c := range e.counters {
			undos = append(undos, s.AddDelta(localID, c.collection, c.id, c.field, c.delta))
		}
		return func() {
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
		}, nil
	}
}

// Settle removes the overlay contributed by a confirmed mutation.
func (s *State) Settle(localID string, m domain.Mutation) {
	e, ok := s.effectOf(m)
	if !ok {
		return
	}
	if e.edgeCollection != "" {
		s.SettleEdge(localID, e.edgeCollection, domain.EdgeID(e.sourceID, e.targetID))
	}
	for _, c := range e.counters {
		s.SettleDelta(localID, c.collection, c.id, c.field, c.delta)
	}
}

// HasEdge returns the optimistic state of the edge a toggle mutation targets.
func (s *State) HasEdge(m domain.Mutation) (on, overlaid bool) {
	e, ok := s.effectOf(m)
	if !ok || e.edgeCollection == "" {
		return false, false
	}
	return s.Edge(e.edgeCollection, domain.EdgeID(e.sourceID, e.targetID))
}
