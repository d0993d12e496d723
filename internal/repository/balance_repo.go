package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyboard/backend/internal/ledger"
	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

type BalanceRepo struct {
	pool *pgxpool.Pool
}

func NewBalanceRepo(pool *pgxpool.Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

func (r *BalanceRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Balance, error) {
	var b models.Balance
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, available_cents, pending_cents, updated_at
		FROM balances WHERE user_id = $1
	`, userID).Scan(&b.UserID, &b.AvailableCents, &b.PendingCents, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DebitAvailable is a conditional update: the debit only lands when the
// balance covers it, so it can never go negative even under concurrency.
func (r *BalanceRepo) DebitAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) (money.Cents, error) {
	var newBalance money.Cents
	err := tx.QueryRow(ctx, `
		UPDATE balances SET available_cents = available_cents - $2, updated_at = now()
		WHERE user_id = $1 AND available_cents >= $2
		RETURNING available_cents
	`, userID, amount).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrInsufficientFunds
	}
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (r *BalanceRepo) CreditAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) (money.Cents, error) {
	var newBalance money.Cents
	err := tx.QueryRow(ctx, `
		INSERT INTO balances (user_id, available_cents, pending_cents)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE
		SET available_cents = balances.available_cents + $2, updated_at = now()
		RETURNING available_cents
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (r *BalanceRepo) AddPending(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, available_cents, pending_cents)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET pending_cents = balances.pending_cents + $2, updated_at = now()
	`, userID, amount)
	return err
}

func (r *BalanceRepo) SubPending(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount money.Cents) error {
	tag, err := tx.Exec(ctx, `
		UPDATE balances SET pending_cents = pending_cents - $2, updated_at = now()
		WHERE user_id = $1 AND pending_cents >= $2
	`, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending balance of %s cannot cover %d", userID, amount)
	}
	return nil
}
