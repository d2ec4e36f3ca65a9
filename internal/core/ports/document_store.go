package ports

import (
	"context"
	"encoding/json"

	"go.trai.ch/docsync/internal/core/domain"
)

// DocumentStore is the remote, eventually consistent document store. Every read is billed,
// so callers go through the cache and coalescer instead of calling Read directly.
//
//go:generate go run go.uber.org/mock/mockgen -source=document_store.go -destination=mocks/mock_document_store.go -package=mocks
type DocumentStore interface {
	// Read fetches one document. A missing document is reported as exists=false, not as an error.
	Read(ctx context.Context, collection, id string) (doc domain.Document, exists bool, err error)

	// Write stores data under id. With merge, top-level fields are merged into the existing
	// document; without it the document is replaced.
	Write(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query runs a batched "field in id-set" query. len(q.In) must not exceed domain.MaxQueryIDs.
	Query(ctx context.Context, q domain.Query) ([]domain.Document, error)

	// Increment atomically adds delta to a numeric field, clamping the result at zero.
	// A missing document is created holding only the field.
	Increment(ctx context.Context, collection, id, field string, delta int64) error

	// Count returns the number of documents whose field equals value.
	Count(ctx context.Context, collection, field, value string) (int64, error)

	// List pages through a collection in ID order, starting strictly after afterID.
	List(ctx context.Context, collection, afterID string, limit int) ([]domain.Document, error)
}
