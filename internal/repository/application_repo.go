package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyboard/backend/internal/models"
)

type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

const applicationColumns = `id, task_id, worker_id, proposal, estimated_days, status, created_at, updated_at`

func scanApplication(row pgx.Row) (*models.Application, error) {
	var a models.Application
	err := row.Scan(&a.ID, &a.TaskID, &a.WorkerID, &a.Proposal, &a.EstimatedDays, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ApplicationRepo) Create(ctx context.Context, a *models.Application) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO applications (id, task_id, worker_id, proposal, estimated_days, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, a.ID, a.TaskID, a.WorkerID, a.Proposal, a.EstimatedDays, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return scanApplication(r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
}

func (r *ApplicationRepo) GetByTaskAndWorker(ctx context.Context, taskID, workerID uuid.UUID) (*models.Application, error) {
	return scanApplication(r.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE task_id = $1 AND worker_id = $2
	`, taskID, workerID))
}

func (r *ApplicationRepo) AcceptTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE applications SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.ApplicationStatusAccepted, models.ApplicationStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ApplicationRepo) RejectSiblingsTx(ctx context.Context, tx pgx.Tx, taskID, winnerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE applications SET status = $3, updated_at = now()
		WHERE task_id = $1 AND id != $2 AND status = $4
	`, taskID, winnerID, models.ApplicationStatusRejected, models.ApplicationStatusPending)
	return err
}

func (r *ApplicationRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApplications(rows)
}

func (r *ApplicationRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE worker_id = $1 ORDER BY created_at DESC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApplications(rows)
}

func collectApplications(rows pgx.Rows) ([]*models.Application, error) {
	var list []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
