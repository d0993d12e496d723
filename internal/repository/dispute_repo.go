package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyboard/backend/internal/models"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

const disputeColumns = `id, task_id, opened_by, reason, status, evidence, resolution, resolved_by, created_at, resolved_at`

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.TaskID, &d.OpenedBy, &d.Reason, &d.Status, &d.Evidence, &d.Resolution, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepo) CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error {
	return tx.QueryRow(ctx, `
		INSERT INTO disputes (id, task_id, opened_by, reason, status, evidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, d.ID, d.TaskID, d.OpenedBy, d.Reason, d.Status, d.Evidence).Scan(&d.CreatedAt)
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (r *DisputeRepo) OpenByTask(ctx context.Context, taskID uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE task_id = $1 AND status = $2
	`, taskID, models.DisputeStatusOpen))
}

func (r *DisputeRepo) ResolveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, resolution string, resolvedBy uuid.UUID, resolvedAt time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes SET status = $2, resolution = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $1 AND status = $6
	`, id, models.DisputeStatusResolved, resolution, resolvedBy, resolvedAt, models.DisputeStatusOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *DisputeRepo) ListOpen(ctx context.Context) ([]*models.Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE status = $1 ORDER BY created_at
	`, models.DisputeStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
