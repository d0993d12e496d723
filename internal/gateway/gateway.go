// Package gateway is the boundary to the external payment processor. The core
// treats its calls as fallible, slow, and at-least-once retriable; an absent
// response is never assumed to mean failure.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/money"
)

// Hold/capture/refund outcomes reported by the processor.
const (
	StatusHeld     = "HELD"
	StatusReleased = "RELEASED"
	StatusRefunded = "REFUNDED"
	StatusFailed   = "FAILED"
	StatusPending  = "PENDING"
)

var (
	// ErrDeclined is a definitive processor refusal; the caller must roll
	// back to the pre-call state.
	ErrDeclined = errors.New("payment declined by processor")
	// ErrAmbiguous means the call timed out or the response was lost; funds
	// may have moved, so the caller must reconcile by intent id rather than
	// retry the money movement blindly.
	ErrAmbiguous = errors.New("payment result ambiguous, reconciliation required")
)

// Intent is a hold created on the processor side.
type Intent struct {
	ID           string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

// Gateway is the narrow contract with the payment processor.
type Gateway interface {
	CreateHold(ctx context.Context, amount money.Cents, currency string, metadata map[string]string) (*Intent, error)
	ConfirmHold(ctx context.Context, intentID string) (string, error)
	Capture(ctx context.Context, intentID string) (string, error)
	Refund(ctx context.Context, intentID string) (string, error)
	// Payout sends accumulated balance to the user's external account. The
	// reference doubles as the idempotency key so retries cannot pay twice.
	Payout(ctx context.Context, userID uuid.UUID, amount money.Cents, reference string) (string, error)
	// IntentStatus looks up the processor's view of an intent, used by the
	// reconciler for payments stuck in PENDING.
	IntentStatus(ctx context.Context, intentID string) (string, error)
}
