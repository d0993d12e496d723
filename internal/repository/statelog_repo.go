package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyboard/backend/internal/models"
)

type StateLogRepo struct {
	pool *pgxpool.Pool
}

func NewStateLogRepo(pool *pgxpool.Pool) *StateLogRepo {
	return &StateLogRepo{pool: pool}
}

func (r *StateLogRepo) AppendTx(ctx context.Context, tx pgx.Tx, e *models.StateLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO state_log (id, entity_type, entity_id, old_state, new_state, actor_id, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.EntityType, e.EntityID, e.OldState, e.NewState, e.ActorID, e.PrevHash, e.Hash, e.CreatedAt)
	return err
}

// LastHash reads the chain tip under FOR UPDATE so concurrent appends to one
// entity serialize instead of forking the chain.
func (r *StateLogRepo) LastHash(ctx context.Context, tx pgx.Tx, entityType string, entityID uuid.UUID) (string, error) {
	var hash string
	err := tx.QueryRow(ctx, `
		SELECT hash FROM state_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC LIMIT 1
		FOR UPDATE
	`, entityType, entityID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (r *StateLogRepo) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.StateLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entity_type, entity_id, old_state, new_state, actor_id, prev_hash, hash, created_at
		FROM state_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.StateLog
	for rows.Next() {
		var e models.StateLog
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.OldState, &e.NewState, &e.ActorID, &e.PrevHash, &e.Hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
