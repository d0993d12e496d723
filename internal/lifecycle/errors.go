package lifecycle

import "errors"

// Validation errors: rejected synchronously, no state change.
var (
	ErrInvalidTransition = errors.New("illegal status transition")
	ErrTerminalState     = errors.New("task is in a terminal state")
	ErrNotOwner          = errors.New("actor is not the task's client")
	ErrNotAssignedWorker = errors.New("actor is not the assigned worker")
	ErrLateSubmission    = errors.New("deadline passed, late submissions are not accepted")
	ErrResolverIsParty   = errors.New("resolver is a party to the task")
)

// Conflict errors: the state changed under the caller; refresh, don't retry
// blindly.
var (
	ErrTaskNotOpen   = errors.New("task is no longer open")
	ErrStateChanged  = errors.New("task state changed concurrently")
	ErrDisputeFrozen = errors.New("task is frozen by an open dispute")
)

// ErrNeedsReconciliation means a previous invariant violation froze the task;
// only out-of-band resolution may clear it.
var ErrNeedsReconciliation = errors.New("task requires manual reconciliation")
