package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, client_id, assigned_worker_id, title, description, requirements, category, bounty_cents, currency, deadline, status, deliverable, deliverable_flagged, platform_fee_cents, needs_reconciliation, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.ClientID, &t.AssignedWorkerID, &t.Title, &t.Description, &t.Requirements, &t.Category, &t.BountyCents, &t.Currency, &t.Deadline, &t.Status, &t.Deliverable, &t.DeliverableFlagged, &t.PlatformFeeCents, &t.NeedsReconciliation, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, client_id, assigned_worker_id, title, description, requirements, category, bounty_cents, currency, deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, t.ID, t.ClientID, t.AssignedWorkerID, t.Title, t.Description, t.Requirements, t.Category, t.BountyCents, t.Currency, t.Deadline, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// CompareAndSetStatus flips the status only when the row still holds the
// expected one. The row count tells the caller whether it won.
func (r *TaskRepo) CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetAssignedWorker performs OPEN -> ASSIGNED and records the worker in one
// statement, so two concurrent accepts cannot both succeed.
func (r *TaskRepo) SetAssignedWorker(ctx context.Context, tx pgx.Tx, id, workerID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $3, assigned_worker_id = $2, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, workerID, models.TaskStatusAssigned, models.TaskStatusOpen)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepo) SetBounty(ctx context.Context, tx pgx.Tx, id uuid.UUID, bounty money.Cents) error {
	_, err := tx.Exec(ctx, `UPDATE tasks SET bounty_cents = $2, updated_at = now() WHERE id = $1`, id, bounty)
	return err
}

// SetDeliverable stores the worker's submission, in the same transaction as
// the IN_PROGRESS -> SUBMITTED flip.
func (r *TaskRepo) SetDeliverable(ctx context.Context, tx pgx.Tx, id uuid.UUID, deliverable json.RawMessage, flagged bool) error {
	_, err := tx.Exec(ctx, `UPDATE tasks SET deliverable = $2, deliverable_flagged = $3, updated_at = now() WHERE id = $1`, id, deliverable, flagged)
	return err
}

func (r *TaskRepo) SetPlatformFee(ctx context.Context, tx pgx.Tx, id uuid.UUID, fee money.Cents) error {
	_, err := tx.Exec(ctx, `UPDATE tasks SET platform_fee_cents = $2, updated_at = now() WHERE id = $1`, id, int64(fee))
	return err
}

func (r *TaskRepo) MarkNeedsReconciliation(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE tasks SET needs_reconciliation = true, updated_at = now() WHERE id = $1`, id)
	return err
}

func (r *TaskRepo) UpdateDraft(ctx context.Context, t *models.Task) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET title = $2, description = $3, requirements = $4, category = $5, bounty_cents = $6, deadline = $7, updated_at = now()
		WHERE id = $1 AND status = $8
	`, t.ID, t.Title, t.Description, t.Requirements, t.Category, t.BountyCents, t.Deadline, models.TaskStatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *TaskRepo) ListOpen(ctx context.Context, category string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at DESC`
	args := []any{models.TaskStatusOpen}
	if category != "" {
		query = `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 AND category = $2 ORDER BY created_at DESC`
		args = append(args, category)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE client_id = $1 ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE assigned_worker_id = $1 ORDER BY created_at DESC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
