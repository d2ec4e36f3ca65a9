// Package memdoc implements an in-process document store. It backs the "memory" remote
// driver and gives tests a store with the same query semantics as the real ones.
package memdoc

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/zerr"
)

// Store is an in-memory ports.DocumentStore. Writes and deletes on edge collections are
// published to subscribers as edge events.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
	edges       map[string]bool

	events *broker
	reads  atomic.Int64
}

// New creates an empty store. Changes to edgeCollections are published as edge events.
func New(edgeCollections ...string) *Store {
	edges := make(map[string]bool, len(edgeCollections))
	for _, c := range edgeCollections {
		edges[c] = true
	}
	return &Store{
		collections: make(map[string]map[string]json.RawMessage),
		edges:       edges,
		events:      newBroker(),
	}
}

// Reads returns the number of billed document reads served so far. Every document returned
// by Read, Query or List counts once; Count is an aggregation and counts once per call.
func (s *Store) Reads() int64 {
	return s.reads.Load()
}

func (s *Store) collection(name string) map[string]json.RawMessage {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]json.RawMessage)
		s.collections[name] = c
	}
	return c
}

// Read implements ports.DocumentStore.
func (s *Store) Read(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, false, err
	}
	s.reads.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.collections[collection][id]
	if !ok {
		return domain.Document{}, false, nil
	}
	return domain.Document{ID: id, Data: slices.Clone(data)}, true, nil
}

// Write implements ports.DocumentStore.
func (s *Store) Write(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(data) {
		return zerr.With(domain.ErrMarshalFailed, "id", id)
	}

	s.mu.Lock()
	c := s.collection(collection)
	prev, existed := c[id]
	next := slices.Clone(data)
	if merge && existed {
		merged, err := mergeObjects(prev, data)
		if err != nil {
			s.mu.Unlock()
			return zerr.With(err, "id", id)
		}
		next = merged
	}
	c[id] = next
	s.mu.Unlock()

	if !existed && s.edges[collection] {
		s.events.publish(edgeEvent(collection, id, next, domain.EdgeCreated))
	}
	return nil
}

// Delete implements ports.DocumentStore.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	prev, existed := s.collections[collection][id]
	delete(s.collections[collection], id)
	s.mu.Unlock()

	if existed && s.edges[collection] {
		s.events.publish(edgeEvent(collection, id, prev, domain.EdgeDeleted))
	}
	return nil
}

// Query implements ports.DocumentStore.
func (s *Store) Query(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.In) > domain.MaxQueryIDs {
		return nil, zerr.With(domain.ErrTooManyIDs, "ids", len(q.In))
	}

	in := make(map[string]bool, len(q.In))
	for _, id := range q.In {
		in[id] = true
	}

	type row struct {
		doc domain.Document
		ts  int64
	}

	s.mu.RLock()
	var rows []row
	for id, data := range s.collections[q.Collection] {
		if q.Field != "" && !in[gjson.GetBytes(data, q.Field).String()] {
			continue
		}
		var ts int64
		if q.OrderBy != "" {
			ts = gjson.GetBytes(data, q.OrderBy).Int()
		}
		if !q.After.Admits(ts, id) {
			continue
		}
		rows = append(rows, row{doc: domain.Document{ID: id, Data: slices.Clone(data)}, ts: ts})
	}
	s.mu.RUnlock()

	slices.SortFunc(rows, func(a, b row) int {
		if a.ts != b.ts {
			return cmp.Compare(b.ts, a.ts)
		}
		return cmp.Compare(a.doc.ID, b.doc.ID)
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	docs := make([]domain.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	s.reads.Add(int64(len(docs)))
	return docs, nil
}

// Increment implements ports.DocumentStore.
func (s *Store) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	fields := map[string]json.RawMessage{}
	if data, ok := c[id]; ok {
		if err := json.Unmarshal(data, &fields); err != nil {
			return zerr.With(zerr.Wrap(err, domain.ErrUnmarshalFailed.Error()), "id", id)
		}
	}

	current := gjson.ParseBytes(fields[field]).Int()
	fields[field] = json.RawMessage(strconv.FormatInt(max(current+delta, 0), 10))

	data, err := json.Marshal(fields)
	if err != nil {
		return zerr.Wrap(err, domain.ErrMarshalFailed.Error())
	}
	c[id] = data
	return nil
}

// Count implements ports.DocumentStore.
func (s *Store) Count(ctx context.Context, collection, field, value string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.reads.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, data := range s.collections[collection] {
		if gjson.GetBytes(data, field).String() == value {
			n++
		}
	}
	return n, nil
}

// List implements ports.DocumentStore.
func (s *Store) List(ctx context.Context, collection, afterID string, limit int) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	docs := make([]domain.Document, len(ids))
	for i, id := range ids {
		docs[i] = domain.Document{ID: id, Data: slices.Clone(s.collections[collection][id])}
	}
	s.mu.RUnlock()

	s.reads.Add(int64(len(docs)))
	return docs, nil
}

// Subscribe implements ports.EdgeEventSource.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.EdgeEvent, error) {
	return s.events.subscribe(ctx), nil
}

func mergeObjects(base, patch json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
	}
	var update map[string]json.RawMessage
	if err := json.Unmarshal(patch, &update); err != nil {
		return nil, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
	}
	for k, v := range update {
		fields[k] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrMarshalFailed.Error())
	}
	return data, nil
}

func edgeEvent(collection, id string, data json.RawMessage, op domain.EdgeOp) domain.EdgeEvent {
	return domain.EdgeEvent{
		Collection: collection,
		EdgeID:     id,
		SourceID:   gjson.GetBytes(data, domain.FieldSourceID).String(),
		TargetID:   gjson.GetBytes(data, domain.FieldTargetID).String(),
		Op:         op,
	}
}
