package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"

	"github.com/oklog/ulid/v2"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
)

// StoreSink appends reports to the reports collection of the document store and logs them.
type StoreSink struct {
	store  ports.DocumentStore
	logger ports.Logger
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store ports.DocumentStore, logger ports.Logger) *StoreSink {
	return &StoreSink{store: store, logger: logger}
}

// Append implements ports.ReportSink. Report IDs are ULIDs of the correction time, so the
// collection lists in correction order.
func (s *StoreSink) Append(ctx context.Context, report domain.ReconciliationReport) error {
	id, err := ulid.New(ulid.Timestamp(report.CorrectedAt), rand.Reader)
	if err != nil {
		return zerr.Wrap(err, "failed to generate report id")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return zerr.Wrap(err, domain.ErrMarshalFailed.Error())
	}
	if err := s.store.Write(ctx, domain.CollectionReports, id.String(), data, false); err != nil {
		return errors.Join(domain.ErrRemoteWriteFailed, err)
	}

	s.logger.Info("counter corrected",
		"collection", report.EntityCollection,
		"entity_id", report.EntityID,
		"field", report.Field,
		"stored", report.StoredCount,
		"actual", report.ActualCount,
	)
	return nil
}
