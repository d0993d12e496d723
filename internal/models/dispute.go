package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Dispute statuses and resolutions. A task carries at most one OPEN dispute;
// while it is open, approve/cancel on the task are frozen.
const (
	DisputeStatusOpen     = "OPEN"
	DisputeStatusResolved = "RESOLVED"

	ResolutionReleaseToWorker = "RELEASE_TO_WORKER"
	ResolutionRefundToClient  = "REFUND_TO_CLIENT"
)

type Dispute struct {
	ID       uuid.UUID `json:"id"`
	TaskID   uuid.UUID `json:"task_id"`
	OpenedBy uuid.UUID `json:"opened_by"`
	Reason   string    `json:"reason"`
	Status   string    `json:"status"`
	// Evidence holds opaque file references from the storage collaborator.
	Evidence   json.RawMessage `json:"evidence,omitempty"`
	Resolution *string         `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID      `json:"resolved_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}
