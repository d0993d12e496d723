package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/gateway"
	"github.com/bountyboard/backend/internal/models"
)

// ReconcilePayment resolves a payment left PENDING by an ambiguous gateway
// response. It asks the processor for the intent's authoritative status and
// either finishes the funding or records the failure. Returns
// gateway.ErrAmbiguous while the processor still reports the intent pending,
// which tells the caller to retry later.
func (e *Engine) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) error {
	p, err := e.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}
	if p.Status != models.PaymentStatusPending {
		return nil // already resolved
	}

	release := e.Locks.Acquire(p.TaskID)
	defer release()

	status, err := e.Gateway.IntentStatus(ctx, p.IntentID)
	if err != nil {
		e.Metrics.GatewayFailure("intent_status")
		return fmt.Errorf("intent status: %w", err)
	}

	switch status {
	case gateway.StatusHeld:
		t, err := e.Tasks.GetByID(ctx, p.TaskID)
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		if models.TerminalStatus(t.Status) {
			// The task settled or was cancelled without this hold. Void it
			// at the processor so the money goes back to the client.
			if _, err := e.Gateway.Refund(ctx, p.IntentID); err != nil && !errors.Is(err, gateway.ErrDeclined) {
				e.Metrics.GatewayFailure("refund")
				return fmt.Errorf("void intent %s: %w", p.IntentID, err)
			}
			if err := e.Payments.MarkFailed(ctx, p.ID); err != nil {
				return fmt.Errorf("mark payment failed: %w", err)
			}
			e.Logger.Warn("voided pending payment on settled task", "payment_id", p.ID, "task_id", p.TaskID)
			return nil
		}
		if t.Status != models.TaskStatusDraft {
			// A bounty increase confirmed after the ambiguous response.
			// Apply the raise in full: held funds, stored bounty, and the
			// worker's reservation must move together or held payments
			// would exceed the bounty and settlement could never balance.
			e.Logger.Info("reconciled pending increase as held", "payment_id", p.ID, "task_id", p.TaskID)
			return e.commitIncrease(ctx, t, p, p.ClientID)
		}
		e.Logger.Info("reconciled pending payment as held", "payment_id", p.ID, "task_id", p.TaskID)
		return e.commitFunding(ctx, t, p, p.ClientID)
	case gateway.StatusFailed:
		if err := e.Payments.MarkFailed(ctx, p.ID); err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		e.Logger.Info("reconciled pending payment as failed", "payment_id", p.ID, "task_id", p.TaskID)
		return nil
	case gateway.StatusPending:
		return fmt.Errorf("intent %s still pending: %w", p.IntentID, gateway.ErrAmbiguous)
	default:
		return fmt.Errorf("intent %s in unexpected status %s", p.IntentID, status)
	}
}

// ExpirePayment gives up on a payment stuck in PENDING past the configured
// timeout. The hold, if one ever existed, is released at the processor and
// the payment marked FAILED, leaving the task in DRAFT.
func (e *Engine) ExpirePayment(ctx context.Context, paymentID uuid.UUID) error {
	p, err := e.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}
	if p.Status != models.PaymentStatusPending {
		return nil
	}

	release := e.Locks.Acquire(p.TaskID)
	defer release()

	// A decline here means the processor never held the funds; that is the
	// outcome we want anyway.
	if _, err := e.Gateway.Refund(ctx, p.IntentID); err != nil && !errors.Is(err, gateway.ErrDeclined) {
		e.Metrics.GatewayFailure("refund")
		return fmt.Errorf("void intent %s: %w", p.IntentID, err)
	}
	if err := e.Payments.MarkFailed(ctx, p.ID); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	e.Logger.Warn("expired pending payment", "payment_id", p.ID, "task_id", p.TaskID)
	return nil
}
