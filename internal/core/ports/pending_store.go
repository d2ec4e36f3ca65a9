package ports

import (
	"context"

	"go.trai.ch/docsync/internal/core/domain"
)

// PendingStore durably persists pending mutations so they survive restarts.
//
//go:generate go run go.uber.org/mock/mockgen -source=pending_store.go -destination=mocks/mock_pending_store.go -package=mocks
type PendingStore interface {
	// Put stores or replaces the record with the same LocalID.
	Put(ctx context.Context, rec domain.PendingMutation) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, localID string) error

	// List returns all records ordered by CreatedAt.
	List(ctx context.Context) ([]domain.PendingMutation, error)
}

// LocalItemStore durably persists the items a user collected on this device.
type LocalItemStore interface {
	// Put stores or replaces an item.
	Put(ctx context.Context, item domain.Item) error

	// Get returns an item. A missing item is reported as found=false.
	Get(ctx context.Context, id string) (item domain.Item, found bool, err error)

	// Delete removes an item. Deleting a missing item is not an error.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns the owner's items ordered by ID.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Item, error)
}
