package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/money"
)

// Ledger entry_type enums. Every balance mutation appends exactly one entry.
const (
	LedgerEntryEscrowHold    = "escrow_hold"
	LedgerEntryEscrowRelease = "escrow_release"
	LedgerEntryEscrowRefund  = "escrow_refund"
	LedgerEntryPlatformFee   = "platform_fee"
	LedgerEntryWithdrawal    = "withdrawal"
	LedgerEntryPayoutReverse = "payout_reversal"
)

// Balance is a user's funds split between spendable and escrow-pending money.
// A worker's pending balance is the sum of bounties of their active tasks.
type Balance struct {
	UserID         uuid.UUID   `json:"user_id"`
	AvailableCents money.Cents `json:"available_cents"`
	PendingCents   money.Cents `json:"pending_cents"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// LedgerEntry is an append-only record of a single balance mutation.
type LedgerEntry struct {
	ID                uuid.UUID   `json:"id"`
	AccountID         uuid.UUID   `json:"account_id"`
	TaskID            *uuid.UUID  `json:"task_id,omitempty"`
	EntryType         string      `json:"entry_type"`
	AmountCents       money.Cents `json:"amount_cents"`
	BalanceAfterCents *int64      `json:"balance_after_cents,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}
