package domain

import (
	"encoding/json"
	"time"
)

// PendingMutation is a write accepted locally but not yet confirmed remotely.
// It is persisted durably before the remote write is dispatched.
type PendingMutation struct {
	LocalID   string          `json:"localId"`
	Kind      MutationKind    `json:"kind"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	Attempts  int             `json:"attempts,omitzero"`
}

// ReconciliationReport is the audit record of one corrected counter.
type ReconciliationReport struct {
	EntityCollection string    `json:"entityCollection"`
	EntityID         string    `json:"entityId"`
	Field            string    `json:"field"`
	StoredCount      int64     `json:"storedCount"`
	ActualCount      int64     `json:"actualCount"`
	CorrectedAt      time.Time `json:"correctedAt"`
}
