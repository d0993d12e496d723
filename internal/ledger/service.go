// Package ledger is the only writer of balances and payment records. Every
// operation is named for its intent, runs inside the caller's transaction, and
// is safe to reapply: a retry after an ambiguous result detects the terminal
// payment status and no-ops instead of moving money twice.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

var (
	// ErrInsufficientFunds is returned when an available balance is too low
	// for the requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConservation means the per-task sum check failed. This is fatal:
	// the task must be frozen for manual reconciliation, never auto-fixed.
	ErrConservation = errors.New("escrow conservation violated")
)

// BalanceRepo mutates balance rows via conditional updates.
type BalanceRepo interface {
	DebitAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) (newBalance money.Cents, err error)
	CreditAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) (newBalance money.Cents, err error)
	AddPending(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) error
	SubPending(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) error
}

// PaymentRepo persists escrow funding records.
type PaymentRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payment) error
	// CompareAndSetStatus flips a payment from one status to another,
	// returning false when the payment was not in the expected status.
	CompareAndSetStatus(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, from, to string) (bool, error)
	GetTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (*models.Payment, error)
	HeldByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) ([]*models.Payment, error)
	SumByTaskAndStatus(ctx context.Context, taskID uuid.UUID) (map[string]money.Cents, error)
}

// EntryRepo appends ledger entries.
type EntryRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	SumByTaskAndType(ctx context.Context, taskID uuid.UUID) (map[string]money.Cents, error)
}

// TxBeginner opens transactions for operations that own their own commit.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service performs escrow ledger mutations.
type Service struct {
	Pool     TxBeginner
	Balances BalanceRepo
	Payments PaymentRepo
	Entries  EntryRepo
}

// NewService returns a ledger Service.
func NewService(pool TxBeginner, balances BalanceRepo, payments PaymentRepo, entries EntryRepo) *Service {
	return &Service{Pool: pool, Balances: balances, Payments: payments, Entries: entries}
}

// HoldFunds applies a confirmed hold: the payment flips PENDING -> HELD, the
// client's available balance is debited, and an escrow_hold entry is appended.
// A payment already past PENDING makes this a no-op.
func (s *Service) HoldFunds(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) error {
	changed, err := s.Payments.CompareAndSetStatus(ctx, tx, paymentID, models.PaymentStatusPending, models.PaymentStatusHeld)
	if err != nil {
		return err
	}
	if !changed {
		p, err := s.Payments.GetTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentStatusFailed {
			return fmt.Errorf("payment %s already failed", paymentID)
		}
		return nil // already applied
	}

	p, err := s.Payments.GetTx(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	newBal, err := s.Balances.DebitAvailable(ctx, tx, p.ClientID, p.AmountCents)
	if err != nil {
		return err
	}
	return s.Entries.CreateTx(ctx, tx, &models.LedgerEntry{
		ID:                uuid.New(),
		AccountID:         p.ClientID,
		TaskID:            &p.TaskID,
		EntryType:         models.LedgerEntryEscrowHold,
		AmountCents:       p.AmountCents,
		BalanceAfterCents: int64Ptr(newBal),
	})
}

// ReleaseFunds settles every HELD payment of the task to the worker, deducting
// the platform fee. Returns the gross and fee amounts. With no HELD payments
// left the call is a no-op returning zero, which makes retried settlement safe.
func (s *Service) ReleaseFunds(ctx context.Context, tx pgx.Tx, taskID, workerID uuid.UUID, policy money.FeePolicy) (gross, fee money.Cents, err error) {
	held, err := s.Payments.HeldByTask(ctx, tx, taskID)
	if err != nil {
		return 0, 0, err
	}
	if len(held) == 0 {
		return 0, 0, nil
	}
	for _, p := range held {
		gross += p.AmountCents
		changed, err := s.Payments.CompareAndSetStatus(ctx, tx, p.ID, models.PaymentStatusHeld, models.PaymentStatusReleased)
		if err != nil {
			return 0, 0, err
		}
		if !changed {
			return 0, 0, fmt.Errorf("payment %s changed state during release", p.ID)
		}
	}

	fee = policy.Fee(gross)
	net := gross - fee

	if err := s.Balances.SubPending(ctx, tx, workerID, gross); err != nil {
		return 0, 0, err
	}
	newWorker, err := s.Balances.CreditAvailable(ctx, tx, workerID, net)
	if err != nil {
		return 0, 0, err
	}
	if err := s.Entries.CreateTx(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: workerID, TaskID: &taskID,
		EntryType: models.LedgerEntryEscrowRelease, AmountCents: net, BalanceAfterCents: int64Ptr(newWorker),
	}); err != nil {
		return 0, 0, err
	}

	// Fee is an explicit, logged movement to the platform account, never
	// silently dropped.
	if fee > 0 {
		newPlatform, err := s.Balances.CreditAvailable(ctx, tx, models.PlatformAccountID, fee)
		if err != nil {
			return 0, 0, err
		}
		if err := s.Entries.CreateTx(ctx, tx, &models.LedgerEntry{
			ID: uuid.New(), AccountID: models.PlatformAccountID, TaskID: &taskID,
			EntryType: models.LedgerEntryPlatformFee, AmountCents: fee, BalanceAfterCents: int64Ptr(newPlatform),
		}); err != nil {
			return 0, 0, err
		}
	}
	return gross, fee, nil
}

// RefundFunds returns every HELD payment of the task to the client. When a
// worker is assigned, their pending balance is unwound by the same amount.
// No HELD payments left means the refund was already applied: no-op.
func (s *Service) RefundFunds(ctx context.Context, tx pgx.Tx, taskID, clientID uuid.UUID, workerID *uuid.UUID) (money.Cents, error) {
	held, err := s.Payments.HeldByTask(ctx, tx, taskID)
	if err != nil {
		return 0, err
	}
	if len(held) == 0 {
		return 0, nil
	}
	var total money.Cents
	for _, p := range held {
		total += p.AmountCents
		changed, err := s.Payments.CompareAndSetStatus(ctx, tx, p.ID, models.PaymentStatusHeld, models.PaymentStatusRefunded)
		if err != nil {
			return 0, err
		}
		if !changed {
			return 0, fmt.Errorf("payment %s changed state during refund", p.ID)
		}
	}

	if workerID != nil {
		if err := s.Balances.SubPending(ctx, tx, *workerID, total); err != nil {
			return 0, err
		}
	}
	newBal, err := s.Balances.CreditAvailable(ctx, tx, clientID, total)
	if err != nil {
		return 0, err
	}
	return total, s.Entries.CreateTx(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: clientID, TaskID: &taskID,
		EntryType: models.LedgerEntryEscrowRefund, AmountCents: total, BalanceAfterCents: int64Ptr(newBal),
	})
}

// ReservePending adds the task bounty to the worker's pending balance when
// they are assigned. Display-only bookkeeping; no entry is appended because no
// money moves between parties.
func (s *Service) ReservePending(ctx context.Context, tx pgx.Tx, workerID uuid.UUID, amount money.Cents) error {
	return s.Balances.AddPending(ctx, tx, workerID, amount)
}

// RecordWithdrawal debits the user's available balance and appends a
// withdrawal entry, in its own transaction. enqueue runs inside that
// transaction with the new entry's ID, so the payout job commits with the
// debit or not at all. The returned entry ID is the payout reference.
func (s *Service) RecordWithdrawal(ctx context.Context, userID uuid.UUID, amount money.Cents, enqueue func(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error) (uuid.UUID, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	newBal, err := s.Balances.DebitAvailable(ctx, tx, userID, amount)
	if err != nil {
		return uuid.Nil, err
	}
	entry := &models.LedgerEntry{
		ID:                uuid.New(),
		AccountID:         userID,
		EntryType:         models.LedgerEntryWithdrawal,
		AmountCents:       amount,
		BalanceAfterCents: int64Ptr(newBal),
	}
	if err := s.Entries.CreateTx(ctx, tx, entry); err != nil {
		return uuid.Nil, err
	}
	if enqueue != nil {
		if err := enqueue(ctx, tx, entry.ID); err != nil {
			return uuid.Nil, fmt.Errorf("enqueue payout: %w", err)
		}
	}
	return entry.ID, tx.Commit(ctx)
}

// ReversePayout credits a failed payout back to the user with a compensating
// entry, in its own transaction.
func (s *Service) ReversePayout(ctx context.Context, userID uuid.UUID, amount money.Cents) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	newBal, err := s.Balances.CreditAvailable(ctx, tx, userID, amount)
	if err != nil {
		return err
	}
	if err := s.Entries.CreateTx(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: userID,
		EntryType: models.LedgerEntryPayoutReverse, AmountCents: amount, BalanceAfterCents: int64Ptr(newBal),
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CheckConservation verifies that for the task, funded value equals held
// escrow plus released net, platform fee, and refunds. A failure is reported,
// not repaired.
func (s *Service) CheckConservation(ctx context.Context, taskID uuid.UUID) error {
	byStatus, err := s.Payments.SumByTaskAndStatus(ctx, taskID)
	if err != nil {
		return err
	}
	byType, err := s.Entries.SumByTaskAndType(ctx, taskID)
	if err != nil {
		return err
	}

	funded := byStatus[models.PaymentStatusHeld] + byStatus[models.PaymentStatusReleased] + byStatus[models.PaymentStatusRefunded]
	accounted := byStatus[models.PaymentStatusHeld] +
		byType[models.LedgerEntryEscrowRelease] +
		byType[models.LedgerEntryPlatformFee] +
		byType[models.LedgerEntryEscrowRefund]
	if funded != accounted {
		return fmt.Errorf("%w: task %s funded %d, accounted %d", ErrConservation, taskID, funded, accounted)
	}
	return nil
}

func int64Ptr(c money.Cents) *int64 {
	v := int64(c)
	return &v
}
