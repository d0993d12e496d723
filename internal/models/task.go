package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/money"
)

// Task status enums. COMPLETED and CANCELLED are terminal.
const (
	TaskStatusDraft      = "DRAFT"
	TaskStatusOpen       = "OPEN"
	TaskStatusAssigned   = "ASSIGNED"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusSubmitted  = "SUBMITTED"
	TaskStatusDisputed   = "DISPUTED"
	TaskStatusCompleted  = "COMPLETED"
	TaskStatusCancelled  = "CANCELLED"
)

// TerminalStatus reports whether no further transition is legal from s.
func TerminalStatus(s string) bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// AssignedStatus reports whether s is a status in which a task must carry an
// assigned worker.
func AssignedStatus(s string) bool {
	switch s {
	case TaskStatusAssigned, TaskStatusInProgress, TaskStatusSubmitted, TaskStatusDisputed, TaskStatusCompleted:
		return true
	}
	return false
}

type Task struct {
	ID               uuid.UUID   `json:"id"`
	ClientID         uuid.UUID   `json:"client_id"`
	AssignedWorkerID *uuid.UUID  `json:"assigned_worker_id,omitempty"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Requirements     string      `json:"requirements"`
	Category         string      `json:"category"`
	BountyCents      money.Cents `json:"bounty_cents"`
	Currency         string      `json:"currency"`
	Deadline         *time.Time  `json:"deadline,omitempty"`
	Status           string      `json:"status"`
	// Deliverable holds what the worker turned in: opaque file ids/URLs and
	// notes, stored verbatim at submission.
	Deliverable json.RawMessage `json:"deliverable,omitempty"`
	// DeliverableFlagged marks a deliverable that missed the category's
	// schema; flagged, not rejected, so the client sees it during review.
	DeliverableFlagged bool   `json:"deliverable_flagged,omitempty"`
	PlatformFeeCents   *int64 `json:"platform_fee_cents,omitempty"`
	// NeedsReconciliation is set when a ledger invariant check failed; all
	// further transitions are refused until resolved out of band.
	NeedsReconciliation bool      `json:"needs_reconciliation"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
