// Package lifecycle owns task status. No other component writes a task's
// status directly; every transition goes through the Engine, which serializes
// per task, validates the edge, applies the ledger side effects, and appends
// the audit record in one transaction.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyboard/backend/internal/gateway"
	"github.com/bountyboard/backend/internal/ledger"
	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
)

// TaskRepo is the minimal task storage interface for the engine.
type TaskRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Create(ctx context.Context, t *models.Task) error
	// CompareAndSetStatus flips the status only when the row still holds
	// the expected one, the durable single-writer guarantee behind the
	// in-process lock.
	CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error)
	// SetAssignedWorker performs OPEN -> ASSIGNED and records the worker
	// in the same statement.
	SetAssignedWorker(ctx context.Context, tx pgx.Tx, id, workerID uuid.UUID) (bool, error)
	SetBounty(ctx context.Context, tx pgx.Tx, id uuid.UUID, bounty money.Cents) error
	// SetDeliverable stores the submission alongside the SUBMITTED flip.
	SetDeliverable(ctx context.Context, tx pgx.Tx, id uuid.UUID, deliverable json.RawMessage, flagged bool) error
	SetPlatformFee(ctx context.Context, tx pgx.Tx, id uuid.UUID, fee money.Cents) error
	MarkNeedsReconciliation(ctx context.Context, id uuid.UUID) error
}

// ApplicationRepo is the application storage used by the accept transition.
type ApplicationRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	// AcceptTx flips PENDING -> ACCEPTED, returning false on a lost race.
	AcceptTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	// RejectSiblingsTx moves every other PENDING application of the task
	// to REJECTED.
	RejectSiblingsTx(ctx context.Context, tx pgx.Tx, taskID, winnerID uuid.UUID) error
}

// PaymentStore is the payment storage the engine needs outside the ledger.
type PaymentStore interface {
	// Create persists a PENDING payment immediately (own connection), so a
	// crash between the gateway call and the local commit leaves a row the
	// reconciler can find.
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Payment, error)
}

// Ledger is the escrow ledger surface the engine drives.
type Ledger interface {
	HoldFunds(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) error
	ReleaseFunds(ctx context.Context, tx pgx.Tx, taskID, workerID uuid.UUID, policy money.FeePolicy) (gross, fee money.Cents, err error)
	RefundFunds(ctx context.Context, tx pgx.Tx, taskID, clientID uuid.UUID, workerID *uuid.UUID) (money.Cents, error)
	ReservePending(ctx context.Context, tx pgx.Tx, workerID uuid.UUID, amount money.Cents) error
	CheckConservation(ctx context.Context, taskID uuid.UUID) error
}

// Audit appends state-log records.
type Audit interface {
	Append(ctx context.Context, tx pgx.Tx, entityType string, entityID uuid.UUID, oldState, newState string, actorID uuid.UUID) (*models.StateLog, error)
}

// Observer receives lifecycle metrics.
type Observer interface {
	Transition(from, to string)
	GatewayFailure(op string)
	InvariantViolation()
}

type noopObserver struct{}

func (noopObserver) Transition(string, string) {}
func (noopObserver) GatewayFailure(string)     {}
func (noopObserver) InvariantViolation()       {}

// TxBeginner opens the transaction a transition commits in.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxFunc runs extra statements inside a transition's transaction. Used by the
// dispute subsystem to create/resolve its rows atomically with the flip.
type TxFunc = func(ctx context.Context, tx pgx.Tx) error

// EnqueueReconcileFunc schedules a reconciliation job for a payment stuck in
// PENDING. Provided by main using river.Client.Insert.
type EnqueueReconcileFunc func(ctx context.Context, paymentID uuid.UUID) error

// Engine is the task lifecycle state machine.
type Engine struct {
	Pool     TxBeginner
	Tasks    TaskRepo
	Apps     ApplicationRepo
	Payments PaymentStore
	Ledger   Ledger
	Gateway  gateway.Gateway
	Audit    Audit
	Locks    *TaskLocks

	Fee                  money.FeePolicy
	AllowLateSubmissions bool
	EnqueueReconcile     EnqueueReconcileFunc

	Logger  *slog.Logger
	Metrics Observer

	now func() time.Time
}

// New returns an Engine. Logger and Metrics may be nil.
func New(pool TxBeginner, tasks TaskRepo, apps ApplicationRepo, payments PaymentStore, led Ledger, gw gateway.Gateway, audit Audit, fee money.FeePolicy, allowLate bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Pool:                 pool,
		Tasks:                tasks,
		Apps:                 apps,
		Payments:             payments,
		Ledger:               led,
		Gateway:              gw,
		Audit:                audit,
		Locks:                NewTaskLocks(),
		Fee:                  fee,
		AllowLateSubmissions: allowLate,
		Logger:               logger,
		Metrics:              noopObserver{},
		now:                  time.Now,
	}
}

// CreateDraft makes a new DRAFT task owned by the client. Not a transition;
// no audit entry until the task is published.
func (e *Engine) CreateDraft(ctx context.Context, clientID uuid.UUID, title, description, requirements, category string, bounty money.Cents, currency string, deadline *time.Time) (*models.Task, error) {
	if bounty <= 0 {
		return nil, fmt.Errorf("%w: bounty must be positive", ErrInvalidTransition)
	}
	t := &models.Task{
		ID:           uuid.New(),
		ClientID:     clientID,
		Title:        title,
		Description:  description,
		Requirements: requirements,
		Category:     category,
		BountyCents:  bounty,
		Currency:     currency,
		Deadline:     deadline,
		Status:       models.TaskStatusDraft,
	}
	if err := e.Tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// FundAndPublish drives DRAFT -> OPEN. The escrow hold must confirm at the
// processor before the status flips; a declined hold leaves the task in DRAFT
// with no ledger change, an ambiguous one leaves the payment PENDING for the
// reconciler.
func (e *Engine) FundAndPublish(ctx context.Context, taskID, actorID uuid.UUID) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.loadFor(ctx, taskID, actorID, ownerClient)
	if err != nil {
		return err
	}
	if err := checkTransition(t.Status, models.TaskStatusOpen); err != nil {
		return err
	}

	intent, err := e.Gateway.CreateHold(ctx, t.BountyCents, t.Currency, map[string]string{"task_id": t.ID.String()})
	if err != nil {
		e.Metrics.GatewayFailure("create_hold")
		return fmt.Errorf("create hold: %w", err)
	}

	p := &models.Payment{
		ID:          uuid.New(),
		TaskID:      t.ID,
		ClientID:    t.ClientID,
		AmountCents: t.BountyCents,
		Currency:    t.Currency,
		Status:      models.PaymentStatusPending,
		IntentID:    intent.ID,
	}
	if err := e.Payments.Create(ctx, p); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	status, err := e.Gateway.ConfirmHold(ctx, intent.ID)
	switch {
	case errors.Is(err, gateway.ErrAmbiguous):
		e.Metrics.GatewayFailure("confirm_hold")
		if e.EnqueueReconcile != nil {
			if qErr := e.EnqueueReconcile(ctx, p.ID); qErr != nil {
				e.Logger.Error("enqueue payment reconcile failed", "payment_id", p.ID, "error", qErr)
			}
		}
		return fmt.Errorf("confirm hold: %w", err)
	case err != nil || status != gateway.StatusHeld:
		e.Metrics.GatewayFailure("confirm_hold")
		if mErr := e.Payments.MarkFailed(ctx, p.ID); mErr != nil {
			e.Logger.Error("mark payment failed", "payment_id", p.ID, "error", mErr)
		}
		if err == nil {
			err = fmt.Errorf("hold not confirmed (status %s)", status)
		}
		return fmt.Errorf("confirm hold: %w", err)
	}

	return e.commitFunding(ctx, t, p, actorID)
}

// commitFunding applies a confirmed hold: ledger debit, DRAFT -> OPEN, audit.
// Also used by the reconciler when a PENDING payment turns out HELD.
func (e *Engine) commitFunding(ctx context.Context, t *models.Task, p *models.Payment, actorID uuid.UUID) error {
	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := e.Ledger.HoldFunds(ctx, tx, p.ID); err != nil {
		return fmt.Errorf("hold funds: %w", err)
	}
	changed, err := e.Tasks.CompareAndSetStatus(ctx, tx, t.ID, models.TaskStatusDraft, models.TaskStatusOpen)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: task %s left DRAFT during funding", ErrStateChanged, t.ID)
	}
	if _, err := e.Audit.Append(ctx, tx, models.EntityTask, t.ID, models.TaskStatusDraft, models.TaskStatusOpen, actorID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.Metrics.Transition(models.TaskStatusDraft, models.TaskStatusOpen)
	e.Logger.Info("task funded and published", "task_id", t.ID, "amount_cents", int64(p.AmountCents))
	return nil
}

// IncreaseBounty adds to the bounty of an OPEN or ASSIGNED task. The stored
// bounty only changes after the additional hold confirms, so the sum of HELD
// payments always equals the bounty.
func (e *Engine) IncreaseBounty(ctx context.Context, taskID, actorID uuid.UUID, delta money.Cents) error {
	if delta <= 0 {
		return fmt.Errorf("%w: increase must be positive", ErrInvalidTransition)
	}
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.loadFor(ctx, taskID, actorID, ownerClient)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusOpen && t.Status != models.TaskStatusAssigned {
		return fmt.Errorf("%w: cannot increase bounty in %s", ErrInvalidTransition, t.Status)
	}

	intent, err := e.Gateway.CreateHold(ctx, delta, t.Currency, map[string]string{"task_id": t.ID.String(), "kind": "increase"})
	if err != nil {
		e.Metrics.GatewayFailure("create_hold")
		return fmt.Errorf("create hold: %w", err)
	}
	p := &models.Payment{
		ID: uuid.New(), TaskID: t.ID, ClientID: t.ClientID,
		AmountCents: delta, Currency: t.Currency,
		Status: models.PaymentStatusPending, IntentID: intent.ID,
	}
	if err := e.Payments.Create(ctx, p); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	status, err := e.Gateway.ConfirmHold(ctx, intent.ID)
	switch {
	case errors.Is(err, gateway.ErrAmbiguous):
		e.Metrics.GatewayFailure("confirm_hold")
		if e.EnqueueReconcile != nil {
			if qErr := e.EnqueueReconcile(ctx, p.ID); qErr != nil {
				e.Logger.Error("enqueue payment reconcile failed", "payment_id", p.ID, "error", qErr)
			}
		}
		return fmt.Errorf("confirm hold: %w", err)
	case err != nil || status != gateway.StatusHeld:
		e.Metrics.GatewayFailure("confirm_hold")
		if mErr := e.Payments.MarkFailed(ctx, p.ID); mErr != nil {
			e.Logger.Error("mark payment failed", "payment_id", p.ID, "error", mErr)
		}
		if err == nil {
			err = fmt.Errorf("hold not confirmed (status %s)", status)
		}
		return fmt.Errorf("confirm hold: %w", err)
	}

	return e.commitIncrease(ctx, t, p, actorID)
}

// commitIncrease applies a confirmed additional hold: ledger credit, raised
// bounty, and a larger worker reservation when the task is already assigned,
// in one transaction so held payments never exceed the stored bounty. Also
// used by the reconciler when a PENDING increase turns out HELD.
func (e *Engine) commitIncrease(ctx context.Context, t *models.Task, p *models.Payment, actorID uuid.UUID) error {
	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := e.Ledger.HoldFunds(ctx, tx, p.ID); err != nil {
		return fmt.Errorf("hold funds: %w", err)
	}
	if err := e.Tasks.SetBounty(ctx, tx, t.ID, t.BountyCents+p.AmountCents); err != nil {
		return err
	}
	if t.AssignedWorkerID != nil {
		if err := e.Ledger.ReservePending(ctx, tx, *t.AssignedWorkerID, p.AmountCents); err != nil {
			return err
		}
	}
	if _, err := e.Audit.Append(ctx, tx, models.EntityPayment, p.ID, models.PaymentStatusPending, models.PaymentStatusHeld, actorID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AcceptApplication drives OPEN -> ASSIGNED: the winning application is
// accepted and every sibling rejected in the same transaction. Serialized per
// task, so of two concurrent accepts the second sees ErrTaskNotOpen.
func (e *Engine) AcceptApplication(ctx context.Context, taskID, applicationID, actorID uuid.UUID) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.loadFor(ctx, taskID, actorID, ownerClient)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusOpen {
		return fmt.Errorf("%w: task is %s", ErrTaskNotOpen, t.Status)
	}

	app, err := e.Apps.GetByID(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("load application: %w", err)
	}
	if app.TaskID != taskID {
		return fmt.Errorf("%w: application belongs to another task", ErrInvalidTransition)
	}
	if app.Status != models.ApplicationStatusPending {
		return fmt.Errorf("%w: application is %s", ErrStateChanged, app.Status)
	}

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	accepted, err := e.Apps.AcceptTx(ctx, tx, app.ID)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("%w: application changed concurrently", ErrStateChanged)
	}
	if err := e.Apps.RejectSiblingsTx(ctx, tx, taskID, app.ID); err != nil {
		return err
	}
	changed, err := e.Tasks.SetAssignedWorker(ctx, tx, taskID, app.WorkerID)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w", ErrTaskNotOpen)
	}
	if err := e.Ledger.ReservePending(ctx, tx, app.WorkerID, t.BountyCents); err != nil {
		return err
	}
	if _, err := e.Audit.Append(ctx, tx, models.EntityTask, taskID, models.TaskStatusOpen, models.TaskStatusAssigned, actorID); err != nil {
		return err
	}
	if _, err := e.Audit.Append(ctx, tx, models.EntityApplication, app.ID, models.ApplicationStatusPending, models.ApplicationStatusAccepted, actorID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.Metrics.Transition(models.TaskStatusOpen, models.TaskStatusAssigned)
	return nil
}

// Start drives ASSIGNED -> IN_PROGRESS, by the assigned worker.
func (e *Engine) Start(ctx context.Context, taskID, actorID uuid.UUID) error {
	return e.simpleTransition(ctx, taskID, actorID, ownerWorker, models.TaskStatusAssigned, models.TaskStatusInProgress)
}

// Submit drives IN_PROGRESS -> SUBMITTED, by the assigned worker. The
// deliverable is stored on the task in the same transaction as the flip, so
// a SUBMITTED task always carries what was delivered. A request after the
// deadline fails with ErrLateSubmission unless late submissions are
// configured as allowed; it is never silently accepted.
func (e *Engine) Submit(ctx context.Context, taskID, actorID uuid.UUID, deliverable json.RawMessage, flagged bool) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.loadFor(ctx, taskID, actorID, ownerWorker)
	if err != nil {
		return err
	}
	if err := checkTransition(t.Status, models.TaskStatusSubmitted); err != nil {
		return err
	}
	if t.Deadline != nil && e.now().After(*t.Deadline) && !e.AllowLateSubmissions {
		return fmt.Errorf("%w: deadline was %s", ErrLateSubmission, t.Deadline.Format(time.RFC3339))
	}
	return e.flip(ctx, t, models.TaskStatusSubmitted, actorID, func(ctx context.Context, tx pgx.Tx) error {
		return e.Tasks.SetDeliverable(ctx, tx, t.ID, deliverable, flagged)
	})
}

// Approve drives SUBMITTED -> COMPLETED: capture at the processor, then
// release escrow to the worker net of the platform fee. Approving an already
// COMPLETED task is a no-op, never a double payout.
func (e *Engine) Approve(ctx context.Context, taskID, actorID uuid.UUID) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.loadFor(ctx, taskID, actorID, ownerClient)
	if err != nil {
		return err
	}
	if t.Status == models.TaskStatusCompleted {
		return nil // idempotent settlement
	}
	if t.Status == models.TaskStatusDisputed {
		return ErrDisputeFrozen
	}
	if err := checkTransition(t.Status, models.TaskStatusCompleted); err != nil {
		return err
	}
	return e.settle(ctx, t, actorID, nil)
}

// settle captures every held payment and releases escrow, driving the task to
// COMPLETED. Shared by Approve and the release-to-worker dispute resolution.
func (e *Engine) settle(ctx context.Context, t *models.Task, actorID uuid.UUID, extra TxFunc) error {
	if t.AssignedWorkerID == nil {
		return fmt.Errorf("%w: no assigned worker", ErrInvalidTransition)
	}
	if err := e.captureHeld(ctx, t.ID); err != nil {
		return err
	}

	from := t.Status
	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, fee, err := e.Ledger.ReleaseFunds(ctx, tx, t.ID, *t.AssignedWorkerID, e.Fee)
	if err != nil {
		return fmt.Errorf("release funds: %w", err)
	}
	if err := e.Tasks.SetPlatformFee(ctx, tx, t.ID, fee); err != nil {
		return err
	}
	changed, err := e.Tasks.CompareAndSetStatus(ctx, tx, t.ID, from, models.TaskStatusCompleted)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w", ErrStateChanged)
	}
	if extra != nil {
		if err := extra(ctx, tx); err != nil {
			return err
		}
	}
	if _, err := e.Audit.Append(ctx, tx, models.EntityTask, t.ID, from, models.TaskStatusCompleted, actorID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.Metrics.Transition(from, models.TaskStatusCompleted)
	e.Logger.Info("task settled", "task_id", t.ID, "fee_cents", int64(fee))
	return e.verifyConservation(ctx, t.ID)
}

// Cancel drives DRAFT or OPEN -> CANCELLED, refunding escrow when funded.
func (e *Engine) Cancel(ctx context.Context, taskID, actorID uuid.UUID) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.loadFor(ctx, taskID, actorID, ownerClient)
	if err != nil {
		return err
	}
	if t.Status == models.TaskStatusDisputed {
		return ErrDisputeFrozen
	}
	if t.Status != models.TaskStatusDraft && t.Status != models.TaskStatusOpen {
		return checkTransition(t.Status, models.TaskStatusCancelled)
	}
	if t.Status == models.TaskStatusDraft {
		// Unfunded: only the status changes.
		return e.flip(ctx, t, models.TaskStatusCancelled, actorID, nil)
	}
	return e.refundAndCancel(ctx, t, actorID, nil)
}

// refundAndCancel refunds every held payment and drives the task to
// CANCELLED. Shared by Cancel and the refund-to-client dispute resolution.
func (e *Engine) refundAndCancel(ctx context.Context, t *models.Task, actorID uuid.UUID, extra TxFunc) error {
	if err := e.refundHeld(ctx, t.ID); err != nil {
		return err
	}

	from := t.Status
	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := e.Ledger.RefundFunds(ctx, tx, t.ID, t.ClientID, t.AssignedWorkerID); err != nil {
		return fmt.Errorf("refund funds: %w", err)
	}
	changed, err := e.Tasks.CompareAndSetStatus(ctx, tx, t.ID, from, models.TaskStatusCancelled)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w", ErrStateChanged)
	}
	if extra != nil {
		if err := extra(ctx, tx); err != nil {
			return err
		}
	}
	if _, err := e.Audit.Append(ctx, tx, models.EntityTask, t.ID, from, models.TaskStatusCancelled, actorID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.Metrics.Transition(from, models.TaskStatusCancelled)
	return e.verifyConservation(ctx, t.ID)
}

// MarkDisputed freezes an active task in DISPUTED. insertDispute creates the
// dispute row inside the same transaction as the flip.
func (e *Engine) MarkDisputed(ctx context.Context, taskID, actorID uuid.UUID, insertDispute TxFunc) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if t.NeedsReconciliation {
		return ErrNeedsReconciliation
	}
	// Either participant may open a dispute.
	if actorID != t.ClientID && (t.AssignedWorkerID == nil || actorID != *t.AssignedWorkerID) {
		return ErrNotOwner
	}
	if err := checkTransition(t.Status, models.TaskStatusDisputed); err != nil {
		return err
	}
	return e.flip(ctx, t, models.TaskStatusDisputed, actorID, insertDispute)
}

// ResolveDisputed drives DISPUTED to its terminal outcome. updateDispute
// marks the dispute row resolved inside the same transaction, so a dispute is
// never left OPEN on a settled task.
func (e *Engine) ResolveDisputed(ctx context.Context, taskID, resolverID uuid.UUID, resolution string, updateDispute TxFunc) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if t.NeedsReconciliation {
		return ErrNeedsReconciliation
	}
	if t.Status != models.TaskStatusDisputed {
		return fmt.Errorf("%w: task is %s", ErrStateChanged, t.Status)
	}
	// A mediator who is also the client or the assigned worker cannot rule on
	// their own task.
	if resolverID == t.ClientID || (t.AssignedWorkerID != nil && resolverID == *t.AssignedWorkerID) {
		return ErrResolverIsParty
	}

	switch resolution {
	case models.ResolutionReleaseToWorker:
		return e.settle(ctx, t, resolverID, updateDispute)
	case models.ResolutionRefundToClient:
		return e.refundAndCancel(ctx, t, resolverID, updateDispute)
	default:
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidTransition, resolution)
	}
}

// --- gateway helpers ---

// captureHeld captures every HELD payment's intent. Capture is idempotent at
// the processor by intent id, so retried settlement is safe.
func (e *Engine) captureHeld(ctx context.Context, taskID uuid.UUID) error {
	payments, err := e.Payments.ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.Status != models.PaymentStatusHeld {
			continue
		}
		if _, err := e.Gateway.Capture(ctx, p.IntentID); err != nil {
			e.Metrics.GatewayFailure("capture")
			return fmt.Errorf("capture %s: %w", p.IntentID, err)
		}
	}
	return nil
}

func (e *Engine) refundHeld(ctx context.Context, taskID uuid.UUID) error {
	payments, err := e.Payments.ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.Status != models.PaymentStatusHeld {
			continue
		}
		if _, err := e.Gateway.Refund(ctx, p.IntentID); err != nil {
			e.Metrics.GatewayFailure("refund")
			return fmt.Errorf("refund %s: %w", p.IntentID, err)
		}
	}
	return nil
}

// --- shared plumbing ---

type ownerKind int

const (
	ownerClient ownerKind = iota
	ownerWorker
)

// loadFor loads the task and enforces the actor's role on it.
func (e *Engine) loadFor(ctx context.Context, taskID, actorID uuid.UUID, kind ownerKind) (*models.Task, error) {
	t, err := e.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if t.NeedsReconciliation {
		return nil, ErrNeedsReconciliation
	}
	switch kind {
	case ownerClient:
		if t.ClientID != actorID {
			return nil, ErrNotOwner
		}
	case ownerWorker:
		if t.AssignedWorkerID == nil || *t.AssignedWorkerID != actorID {
			return nil, ErrNotAssignedWorker
		}
	}
	return t, nil
}

// simpleTransition applies a ledger-free edge.
func (e *Engine) simpleTransition(ctx context.Context, taskID, actorID uuid.UUID, kind ownerKind, from, to string) error {
	release := e.Locks.Acquire(taskID)
	defer release()

	t, err := e.loadFor(ctx, taskID, actorID, kind)
	if err != nil {
		return err
	}
	if t.Status != from {
		if err := checkTransition(t.Status, to); err != nil {
			return err
		}
		return fmt.Errorf("%w: task is %s", ErrStateChanged, t.Status)
	}
	return e.flip(ctx, t, to, actorID, nil)
}

// flip performs a status CAS plus audit append (plus extra statements) in one
// transaction. Callers have already validated the edge.
func (e *Engine) flip(ctx context.Context, t *models.Task, to string, actorID uuid.UUID, extra TxFunc) error {
	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	changed, err := e.Tasks.CompareAndSetStatus(ctx, tx, t.ID, t.Status, to)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w", ErrStateChanged)
	}
	if extra != nil {
		if err := extra(ctx, tx); err != nil {
			return err
		}
	}
	if _, err := e.Audit.Append(ctx, tx, models.EntityTask, t.ID, t.Status, to, actorID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.Metrics.Transition(t.Status, to)
	return nil
}

// verifyConservation runs the per-task sum check after money moved. A failure
// freezes the task for manual reconciliation; nothing is auto-corrected.
func (e *Engine) verifyConservation(ctx context.Context, taskID uuid.UUID) error {
	err := e.Ledger.CheckConservation(ctx, taskID)
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrConservation) {
		e.Metrics.InvariantViolation()
		e.Logger.Error("escrow conservation violated, freezing task", "task_id", taskID, "error", err)
		if mErr := e.Tasks.MarkNeedsReconciliation(ctx, taskID); mErr != nil {
			e.Logger.Error("freeze task failed", "task_id", taskID, "error", mErr)
		}
	}
	return err
}
