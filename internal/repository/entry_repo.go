package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

type EntryRepo struct {
	pool *pgxpool.Pool
}

func NewEntryRepo(pool *pgxpool.Pool) *EntryRepo {
	return &EntryRepo{pool: pool}
}

func (r *EntryRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, task_id, entry_type, amount_cents, balance_after_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.AccountID, e.TaskID, e.EntryType, e.AmountCents, e.BalanceAfterCents).Scan(&e.CreatedAt)
}

func (r *EntryRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, task_id, entry_type, amount_cents, balance_after_cents, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *EntryRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, task_id, entry_type, amount_cents, balance_after_cents, created_at
		FROM ledger_entries WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *EntryRepo) SumByTaskAndType(ctx context.Context, taskID uuid.UUID) (map[string]money.Cents, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entry_type, COALESCE(SUM(amount_cents), 0)
		FROM ledger_entries WHERE task_id = $1 GROUP BY entry_type
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[string]money.Cents)
	for rows.Next() {
		var entryType string
		var sum money.Cents
		if err := rows.Scan(&entryType, &sum); err != nil {
			return nil, err
		}
		sums[entryType] = sum
	}
	return sums, rows.Err()
}

func collectEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.TaskID, &e.EntryType, &e.AmountCents, &e.BalanceAfterCents, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
