package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in the state log.
const (
	EntityTask        = "task"
	EntityPayment     = "payment"
	EntityApplication = "application"
	EntityDispute     = "dispute"
)

// StateLog is one append-only record of a successful state transition. The
// chain hash covers the canonicalized entry plus the previous entry's hash,
// so tampering with history is detectable.
type StateLog struct {
	ID         uuid.UUID `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	OldState   string    `json:"old_state"`
	NewState   string    `json:"new_state"`
	ActorID    uuid.UUID `json:"actor_id"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
	CreatedAt  time.Time `json:"created_at"`
}
