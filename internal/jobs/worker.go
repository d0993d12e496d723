package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/bountyboard/backend/internal/gateway"
	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

// ReconcilePaymentArgs resolves a payment stuck in PENDING after an
// ambiguous gateway response.
type ReconcilePaymentArgs struct {
	PaymentID uuid.UUID `json:"payment_id"`
}

func (ReconcilePaymentArgs) Kind() string { return "reconcile_payment" }

// Reconciler is the lifecycle surface the payment workers need.
type Reconciler interface {
	ReconcilePayment(ctx context.Context, paymentID uuid.UUID) error
	ExpirePayment(ctx context.Context, paymentID uuid.UUID) error
}

type ReconcilePaymentWorker struct {
	river.WorkerDefaults[ReconcilePaymentArgs]
	engine Reconciler
	log    *slog.Logger
}

func NewReconcilePaymentWorker(engine Reconciler, log *slog.Logger) *ReconcilePaymentWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcilePaymentWorker{engine: engine, log: log}
}

func (w *ReconcilePaymentWorker) Work(ctx context.Context, job *river.Job[ReconcilePaymentArgs]) error {
	err := w.engine.ReconcilePayment(ctx, job.Args.PaymentID)
	if errors.Is(err, gateway.ErrAmbiguous) {
		// Still unresolved at the processor. Let the queue retry with backoff.
		w.log.Info("payment still pending at gateway, will retry",
			"payment_id", job.Args.PaymentID, "attempt", job.Attempt)
		return err
	}
	if err != nil {
		return fmt.Errorf("reconcile payment %s: %w", job.Args.PaymentID, err)
	}
	return nil
}

// ExpireStalePaymentsArgs sweeps PENDING payments older than the cutoff and
// expires them. Enqueued periodically.
type ExpireStalePaymentsArgs struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

func (ExpireStalePaymentsArgs) Kind() string { return "expire_stale_payments" }

// StalePaymentLister finds PENDING payments past the cutoff.
type StalePaymentLister interface {
	ListStalePending(ctx context.Context, olderThanSeconds int) ([]*models.Payment, error)
}

type ExpireStalePaymentsWorker struct {
	river.WorkerDefaults[ExpireStalePaymentsArgs]
	payments StalePaymentLister
	engine   Reconciler
	log      *slog.Logger
}

func NewExpireStalePaymentsWorker(payments StalePaymentLister, engine Reconciler, log *slog.Logger) *ExpireStalePaymentsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpireStalePaymentsWorker{payments: payments, engine: engine, log: log}
}

func (w *ExpireStalePaymentsWorker) Work(ctx context.Context, job *river.Job[ExpireStalePaymentsArgs]) error {
	cutoff := job.Args.OlderThanSeconds
	if cutoff <= 0 {
		cutoff = 3600
	}
	stale, err := w.payments.ListStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}
	for _, p := range stale {
		// A stale payment may still be resolvable in our favor, so try to
		// reconcile first and expire only what the processor never held.
		if err := w.engine.ReconcilePayment(ctx, p.ID); err == nil {
			continue
		}
		if err := w.engine.ExpirePayment(ctx, p.ID); err != nil {
			w.log.Error("expire payment failed", "payment_id", p.ID, "error", err)
		}
	}
	return nil
}

// PayoutArgs delivers a recorded withdrawal to the processor.
type PayoutArgs struct {
	WithdrawalID uuid.UUID   `json:"withdrawal_id"`
	UserID       uuid.UUID   `json:"user_id"`
	AmountCents  money.Cents `json:"amount_cents"`
}

func (PayoutArgs) Kind() string { return "payout" }

// PayoutLedger reverses a withdrawal when the processor refuses it.
type PayoutLedger interface {
	ReversePayout(ctx context.Context, userID uuid.UUID, amount money.Cents) error
}

type PayoutWorker struct {
	river.WorkerDefaults[PayoutArgs]
	gw     gateway.Gateway
	ledger PayoutLedger
	log    *slog.Logger
}

func NewPayoutWorker(gw gateway.Gateway, ledger PayoutLedger, log *slog.Logger) *PayoutWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PayoutWorker{gw: gw, ledger: ledger, log: log}
}

func (w *PayoutWorker) Work(ctx context.Context, job *river.Job[PayoutArgs]) error {
	_, err := w.gw.Payout(ctx, job.Args.UserID, job.Args.AmountCents, job.Args.WithdrawalID.String())
	if errors.Is(err, gateway.ErrDeclined) {
		// The processor refused definitively. The money never left, so the
		// withdrawal entry is reversed and the job succeeds.
		w.log.Warn("payout declined, reversing withdrawal",
			"withdrawal_id", job.Args.WithdrawalID, "user_id", job.Args.UserID)
		if revErr := w.ledger.ReversePayout(ctx, job.Args.UserID, job.Args.AmountCents); revErr != nil {
			return fmt.Errorf("payout declined and reversal failed: %w", revErr)
		}
		return nil
	}
	if err != nil {
		// Ambiguous or transport failure. The queue retries; the gateway's
		// idempotency key prevents a double payout.
		return fmt.Errorf("payout %s: %w", job.Args.WithdrawalID, err)
	}
	return nil
}
