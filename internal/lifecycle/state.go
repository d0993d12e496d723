package lifecycle

import (
	"fmt"

	"github.com/bountyboard/backend/internal/models"
)

// legalTransitions is the single authoritative edge set of the task state
// machine. Everything not listed is rejected.
var legalTransitions = map[string]map[string]bool{
	models.TaskStatusDraft: {
		models.TaskStatusOpen:      true, // fund & publish
		models.TaskStatusCancelled: true, // client cancels an unfunded draft
	},
	models.TaskStatusOpen: {
		models.TaskStatusAssigned:  true, // accept application
		models.TaskStatusCancelled: true, // client cancels, escrow refunded
	},
	models.TaskStatusAssigned: {
		models.TaskStatusInProgress: true, // worker begins
		models.TaskStatusDisputed:   true,
	},
	models.TaskStatusInProgress: {
		models.TaskStatusSubmitted: true, // worker delivers
		models.TaskStatusDisputed:  true,
	},
	models.TaskStatusSubmitted: {
		models.TaskStatusCompleted: true, // client approves, escrow released
		models.TaskStatusDisputed:  true,
	},
	models.TaskStatusDisputed: {
		models.TaskStatusCompleted: true, // mediation: release to worker
		models.TaskStatusCancelled: true, // mediation: refund to client
	},
	// COMPLETED and CANCELLED have no outgoing edges.
}

// checkTransition validates an edge against the table.
func checkTransition(from, to string) error {
	if models.TerminalStatus(from) {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, from, to)
	}
	if !legalTransitions[from][to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
