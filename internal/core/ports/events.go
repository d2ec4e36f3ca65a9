package ports

import (
	"context"

	"go.trai.ch/docsync/internal/core/domain"
)

//go:generate go run go.uber.org/mock/mockgen -source=events.go -destination=mocks/mock_events.go -package=mocks

// EdgeEventSource delivers edge creation and deletion events, at least once each.
// Sources may be push based (store subscriptions) or pull based (polling an outbox).
type EdgeEventSource interface {
	// Subscribe returns a channel of events. The channel is closed once ctx is done or the
	// source stops.
	Subscribe(ctx context.Context) (<-chan domain.EdgeEvent, error)
}

// ReportSink receives reconciliation reports. Sinks are append-only.
type ReportSink interface {
	Append(ctx context.Context, report domain.ReconciliationReport) error
}
