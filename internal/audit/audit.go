// Package audit appends state-transition records to the state log. Entries are
// never mutated; each carries a SHA-256 over its canonical JSON form plus the
// previous entry's hash, so the history of an entity forms a verifiable chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ucarion/jcs"

	"github.com/bountyboard/backend/internal/models"
)

// ErrChainBroken is returned by Verify when an entry's hash or prev link does
// not match the recomputed chain.
var ErrChainBroken = errors.New("audit chain broken")

// Repo is the state log storage used by the Log service.
type Repo interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.StateLog) error
	LastHash(ctx context.Context, tx pgx.Tx, entityType string, entityID uuid.UUID) (string, error)
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.StateLog, error)
}

// Log appends and verifies state transitions.
type Log struct {
	repo Repo
	now  func() time.Time
}

// NewLog returns a Log over the given repository.
func NewLog(repo Repo) *Log {
	return &Log{repo: repo, now: time.Now}
}

// hashedFields is the canonicalized subset of a StateLog covered by the hash.
type hashedFields struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	OldState   string `json:"old_state"`
	NewState   string `json:"new_state"`
	ActorID    string `json:"actor_id"`
	PrevHash   string `json:"prev_hash"`
}

// Append records one successful transition inside the caller's transaction.
func (l *Log) Append(ctx context.Context, tx pgx.Tx, entityType string, entityID uuid.UUID, oldState, newState string, actorID uuid.UUID) (*models.StateLog, error) {
	prev, err := l.repo.LastHash(ctx, tx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("load previous hash: %w", err)
	}
	e := &models.StateLog{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		OldState:   oldState,
		NewState:   newState,
		ActorID:    actorID,
		PrevHash:   prev,
		CreatedAt:  l.now(),
	}
	e.Hash, err = entryHash(e)
	if err != nil {
		return nil, err
	}
	if err := l.repo.AppendTx(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("append state log: %w", err)
	}
	return e, nil
}

// History returns the entity's transitions in append order.
func (l *Log) History(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.StateLog, error) {
	return l.repo.ListByEntity(ctx, entityType, entityID)
}

// Verify recomputes the hash chain for an entity's history.
func (l *Log) Verify(ctx context.Context, entityType string, entityID uuid.UUID) error {
	entries, err := l.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d prev_hash mismatch", ErrChainBroken, i)
		}
		want, err := entryHash(e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		prev = e.Hash
	}
	return nil
}

// entryHash canonicalizes the hashed fields with JCS, then SHA-256s them.
// Canonicalization keeps the hash stable regardless of how the JSON was
// produced or re-encoded.
func entryHash(e *models.StateLog) (string, error) {
	raw, err := json.Marshal(hashedFields{
		ID:         e.ID.String(),
		EntityType: e.EntityType,
		EntityID:   e.EntityID.String(),
		OldState:   e.OldState,
		NewState:   e.NewState,
		ActorID:    e.ActorID.String(),
		PrevHash:   e.PrevHash,
	})
	if err != nil {
		return "", err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	canonical, err := jcs.Format(doc)
	if err != nil {
		return "", fmt.Errorf("canonicalize state log entry: %w", err)
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}
