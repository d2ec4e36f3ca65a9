// Package leveldb persists pending mutations and locally collected items in LevelDB.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/zerr"
)

const openFileLimit = 128

// Key layout:
//
//	p/<localID>           pending mutation
//	i/<itemID>            item
//	o/<ownerID>/<itemID>  owner index, empty value
const (
	pendingPrefix = "p/"
	itemPrefix    = "i/"
	ownerPrefix   = "o/"
)

// Store implements ports.PendingStore and ports.LocalItemStore on one LevelDB database.
type Store struct {
	ldb *leveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: openFileLimit,
	})
	if err != nil {
		return nil, zerr.With(errors.Join(domain.ErrStoreCreateFailed, err), "path", path)
	}
	return &Store{ldb: ldb}, nil
}

// OpenMem opens a database held in memory.
func OpenMem() (*Store, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Join(domain.ErrStoreCreateFailed, err)
	}
	return &Store{ldb: ldb}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.ldb.Close()
}

// Put implements ports.PendingStore.
func (s *Store) Put(_ context.Context, m domain.PendingMutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return zerr.Wrap(err, domain.ErrMarshalFailed.Error())
	}
	if err := s.ldb.Put([]byte(pendingPrefix+m.LocalID), data, &opt.WriteOptions{Sync: true}); err != nil {
		return zerr.With(errors.Join(domain.ErrStoreWriteFailed, err), "local_id", m.LocalID)
	}
	return nil
}

// Delete implements ports.PendingStore.
func (s *Store) Delete(_ context.Context, localID string) error {
	if err := s.ldb.Delete([]byte(pendingPrefix+localID), nil); err != nil {
		return zerr.With(errors.Join(domain.ErrStoreDeleteFailed, err), "local_id", localID)
	}
	return nil
}

// List implements ports.PendingStore.
func (s *Store) List(_ context.Context) ([]domain.PendingMutation, error) {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte(pendingPrefix)), nil)
	defer it.Release()

	var out []domain.PendingMutation
	for it.Next() {
		var m domain.PendingMutation
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrUnmarshalFailed.Error()), "key", string(it.Key()))
		}
		out = append(out, m)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Join(domain.ErrStoreReadFailed, err)
	}

	slices.SortStableFunc(out, func(a, b domain.PendingMutation) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Items returns the store's view as a ports.LocalItemStore.
func (s *Store) Items() *Items {
	return &Items{s: s}
}

// Items implements ports.LocalItemStore. Its method names collide with the pending store's,
// so it is a separate view over the same database.
type Items struct {
	s *Store
}

func ownerKey(ownerID, itemID string) []byte {
	return []byte(ownerPrefix + ownerID + "/" + itemID)
}

// Put implements ports.LocalItemStore.
func (v *Items) Put(ctx context.Context, item domain.Item) error {
	prev, found, err := v.Get(ctx, item.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return zerr.Wrap(err, domain.ErrMarshalFailed.Error())
	}

	batch := new(leveldb.Batch)
	if found && prev.OwnerID != item.OwnerID {
		batch.Delete(ownerKey(prev.OwnerID, prev.ID))
	}
	batch.Put([]byte(itemPrefix+item.ID), data)
	batch.Put(ownerKey(item.OwnerID, item.ID), nil)
	if err := v.s.ldb.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return zerr.With(errors.Join(domain.ErrStoreWriteFailed, err), "item_id", item.ID)
	}
	return nil
}

// Get implements ports.LocalItemStore.
func (v *Items) Get(_ context.Context, id string) (domain.Item, bool, error) {
	data, err := v.s.ldb.Get([]byte(itemPrefix+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, zerr.With(errors.Join(domain.ErrStoreReadFailed, err), "item_id", id)
	}
	var item domain.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return domain.Item{}, false, zerr.With(zerr.Wrap(err, domain.ErrUnmarshalFailed.Error()), "item_id", id)
	}
	return item, true, nil
}

// Delete implements ports.LocalItemStore.
func (v *Items) Delete(ctx context.Context, id string) error {
	prev, found, err := v.Get(ctx, id)
	if err != nil || !found {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(itemPrefix + id))
	batch.Delete(ownerKey(prev.OwnerID, id))
	if err := v.s.ldb.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return zerr.With(errors.Join(domain.ErrStoreDeleteFailed, err), "item_id", id)
	}
	return nil
}

// ListByOwner implements ports.LocalItemStore.
func (v *Items) ListByOwner(ctx context.Context, ownerID string) ([]domain.Item, error) {
	prefix := []byte(ownerPrefix + ownerID + "/")
	it := v.s.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var ids []string
	for it.Next() {
		ids = append(ids, string(it.Key()[len(prefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Join(domain.ErrStoreReadFailed, err)
	}

	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		item, found, err := v.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			items = append(items, item)
		}
	}
	return items, nil
}
