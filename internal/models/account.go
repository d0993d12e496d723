package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles. Mediators hold the authority to resolve disputes.
const (
	RoleClient   = "client"
	RoleWorker   = "worker"
	RoleMediator = "mediator"
)

// PlatformAccountID receives platform fees at settlement.
var PlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	// MaxBountyPerTask caps a single task's bounty for this account when set.
	MaxBountyPerTask *int64 `json:"max_bounty_per_task,omitempty"`
	// MaxSpendPerDay caps total escrow holds per UTC day when set.
	MaxSpendPerDay *int64    `json:"max_spend_per_day,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
