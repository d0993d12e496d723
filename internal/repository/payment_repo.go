package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

const paymentColumns = `id, task_id, client_id, amount_cents, currency, status, intent_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.TaskID, &p.ClientID, &p.AmountCents, &p.Currency, &p.Status, &p.IntentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create commits on its own connection. The PENDING row must survive a crash
// between the gateway call and the funding transaction, or the reconciler has
// nothing to find.
func (r *PaymentRepo) Create(ctx context.Context, p *models.Payment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, task_id, client_id, amount_cents, currency, status, intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, p.ID, p.TaskID, p.ClientID, p.AmountCents, p.Currency, p.Status, p.IntentID).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *PaymentRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payments (id, task_id, client_id, amount_cents, currency, status, intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, p.ID, p.TaskID, p.ClientID, p.AmountCents, p.Currency, p.Status, p.IntentID).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepo) CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.PaymentStatusFailed, models.PaymentStatusPending)
	return err
}

func (r *PaymentRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

// HeldByTask locks the HELD rows for the duration of the transaction.
func (r *PaymentRepo) HeldByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) ([]*models.Payment, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE task_id = $1 AND status = $2
		ORDER BY created_at
		FOR UPDATE
	`, taskID, models.PaymentStatusHeld)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

// ListStalePending returns PENDING payments older than the cutoff, the input
// of the expiry sweep.
func (r *PaymentRepo) ListStalePending(ctx context.Context, olderThanSeconds int) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 AND created_at < now() - make_interval(secs => $2)
		ORDER BY created_at
	`, models.PaymentStatusPending, olderThanSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *PaymentRepo) SumByTaskAndStatus(ctx context.Context, taskID uuid.UUID) (map[string]money.Cents, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COALESCE(SUM(amount_cents), 0)
		FROM payments WHERE task_id = $1 GROUP BY status
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[string]money.Cents)
	for rows.Next() {
		var status string
		var sum money.Cents
		if err := rows.Scan(&status, &sum); err != nil {
			return nil, err
		}
		sums[status] = sum
	}
	return sums, rows.Err()
}

// SumHeldByClientSince totals a client's non-failed holds created since the
// cutoff, for the daily spend limit.
func (r *PaymentRepo) SumHeldByClientSince(ctx context.Context, clientID uuid.UUID, sinceSeconds int) (money.Cents, error) {
	var sum money.Cents
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payments
		WHERE client_id = $1 AND status != $2 AND created_at >= now() - make_interval(secs => $3)
	`, clientID, models.PaymentStatusFailed, sinceSeconds).Scan(&sum)
	return sum, err
}

func collectPayments(rows pgx.Rows) ([]*models.Payment, error) {
	var list []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
