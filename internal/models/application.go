package models

import (
	"time"

	"github.com/google/uuid"
)

// Application statuses. At most one ACCEPTED application exists per task;
// accepting one rejects all other pending siblings in the same operation.
const (
	ApplicationStatusPending  = "PENDING"
	ApplicationStatusAccepted = "ACCEPTED"
	ApplicationStatusRejected = "REJECTED"
)

type Application struct {
	ID            uuid.UUID `json:"id"`
	TaskID        uuid.UUID `json:"task_id"`
	WorkerID      uuid.UUID `json:"worker_id"`
	Proposal      string    `json:"proposal"`
	EstimatedDays int       `json:"estimated_days"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
