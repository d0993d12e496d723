package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/money"
)

// Payment (escrow funding record) statuses. RELEASED, REFUNDED, and FAILED
// are terminal per record.
const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusHeld     = "HELD"
	PaymentStatusReleased = "RELEASED"
	PaymentStatusRefunded = "REFUNDED"
	PaymentStatusFailed   = "FAILED"
)

// Payment is one escrow funding of a task: the initial fund-and-publish hold,
// or an additional hold for a bounty increase. The sum of HELD payments for a
// task equals the escrowed portion of its bounty.
type Payment struct {
	ID          uuid.UUID   `json:"id"`
	TaskID      uuid.UUID   `json:"task_id"`
	ClientID    uuid.UUID   `json:"client_id"`
	AmountCents money.Cents `json:"amount_cents"`
	Currency    string      `json:"currency"`
	Status      string      `json:"status"`
	// IntentID is the external processor's payment-intent reference, also
	// used as the idempotency key when reconciling ambiguous results.
	IntentID  string    `json:"intent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
