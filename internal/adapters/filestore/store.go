// Package filestore persists pending mutations and local items in a single JSON file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/zerr"
)

// state is the on-disk document.
type state struct {
	Pending map[string]domain.PendingMutation `json:"pending"`
	Items   map[string]domain.Item            `json:"items"`
}

// Store implements ports.PendingStore using a flat JSON file. Every write rewrites the file
// through a temporary file and a rename, so a crash leaves either the old or the new state.
type Store struct {
	path  string
	mu    sync.RWMutex
	cache state
}

// NewStore creates a Store backed by the file at the given path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: filepath.Clean(path),
		cache: state{
			Pending: make(map[string]domain.PendingMutation),
			Items:   make(map[string]domain.Item),
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:gosec // Path is cleaned and provided by trusted caller
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.With(errors.Join(domain.ErrStoreReadFailed, err), "path", s.path)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.cache); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrUnmarshalFailed.Error()), "path", s.path)
	}
	if s.cache.Pending == nil {
		s.cache.Pending = make(map[string]domain.PendingMutation)
	}
	if s.cache.Items == nil {
		s.cache.Items = make(map[string]domain.Item)
	}
	return nil
}

// save writes the cache to disk. The caller holds s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return zerr.Wrap(err, domain.ErrMarshalFailed.Error())
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return zerr.With(errors.Join(domain.ErrStoreWriteFailed, err), "dir", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Join(domain.ErrStoreWriteFailed, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Already renamed on success

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Join(domain.ErrStoreWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Join(domain.ErrStoreWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(domain.ErrStoreWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Join(domain.ErrStoreWriteFailed, err)
	}
	return nil
}

// update applies fn to the cache and saves it, restoring the previous cache if saving fails.
func (s *Store) update(fn func(*state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := state{
		Pending: make(map[string]domain.PendingMutation, len(s.cache.Pending)),
		Items:   make(map[string]domain.Item, len(s.cache.Items)),
	}
	for k, v := range s.cache.Pending {
		prev.Pending[k] = v
	}
	for k, v := range s.cache.Items {
		prev.Items[k] = v
	}

	fn(&s.cache)
	if err := s.save(); err != nil {
		s.cache = prev
		return err
	}
	return nil
}

// Put implements ports.PendingStore.
func (s *Store) Put(_ context.Context, m domain.PendingMutation) error {
	return s.update(func(st *state) { st.Pending[m.LocalID] = m })
}

// Delete implements ports.PendingStore.
func (s *Store) Delete(_ context.Context, localID string) error {
	s.mu.RLock()
	_, ok := s.cache.Pending[localID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.update(func(st *state) { delete(st.Pending, localID) })
}

// List implements ports.PendingStore.
func (s *Store) List(_ context.Context) ([]domain.PendingMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PendingMutation, 0, len(s.cache.Pending))
	for _, m := range s.cache.Pending {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.PendingMutation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.LocalID < b.LocalID {
			return -1
		}
		return 1
	})
	return out, nil
}

// Items returns the store's view as a ports.LocalItemStore.
func (s *Store) Items() *Items {
	return &Items{s: s}
}

// Items implements ports.LocalItemStore over the same file.
type Items struct {
	s *Store
}

// Put implements ports.LocalItemStore.
func (v *Items) Put(_ context.Context, item domain.Item) error {
	return v.s.update(func(st *state) { st.Items[item.ID] = item })
}

// Get implements ports.LocalItemStore.
func (v *Items) Get(_ context.Context, id string) (domain.Item, bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	item, ok := v.s.cache.Items[id]
	return item, ok, nil
}

// Delete implements ports.LocalItemStore.
func (v *Items) Delete(_ context.Context, id string) error {
	v.s.mu.RLock()
	_, ok := v.s.cache.Items[id]
	v.s.mu.RUnlock()
	if !ok {
		return nil
	}
	return v.s.update(func(st *state) { delete(st.Items, id) })
}

// ListByOwner implements ports.LocalItemStore.
func (v *Items) ListByOwner(_ context.Context, ownerID string) ([]domain.Item, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var out []domain.Item
	for _, item := range v.s.cache.Items {
		if item.OwnerID == ownerID {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b domain.Item) int {
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out, nil
}
