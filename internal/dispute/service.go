// Package dispute manages dispute rows and drives their task-side effects
// through the lifecycle engine. A dispute row and the task's DISPUTED flip
// commit in one transaction; the same holds for resolution.
package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyboard/backend/internal/models"
)

var (
	// ErrAlreadyDisputed is returned when the task already has an open dispute.
	ErrAlreadyDisputed = errors.New("task already has an open dispute")
	// ErrNotMediator is returned when a non-mediator attempts resolution.
	ErrNotMediator = errors.New("only a mediator may resolve disputes")
	// ErrNoOpenDispute is returned when resolution finds nothing to resolve.
	ErrNoOpenDispute = errors.New("task has no open dispute")
)

// Repo is the dispute storage interface.
type Repo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error
	OpenByTask(ctx context.Context, taskID uuid.UUID) (*models.Dispute, error)
	ResolveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, resolution string, resolvedBy uuid.UUID, resolvedAt time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ListOpen(ctx context.Context) ([]*models.Dispute, error)
}

// Lifecycle is the engine surface the dispute service drives.
type Lifecycle interface {
	MarkDisputed(ctx context.Context, taskID, actorID uuid.UUID, insertDispute func(ctx context.Context, tx pgx.Tx) error) error
	ResolveDisputed(ctx context.Context, taskID, resolverID uuid.UUID, resolution string, updateDispute func(ctx context.Context, tx pgx.Tx) error) error
}

// Service opens and resolves disputes.
type Service struct {
	Disputes Repo
	Engine   Lifecycle
	Logger   *slog.Logger
	now      func() time.Time
}

// NewService returns a dispute Service.
func NewService(disputes Repo, engine Lifecycle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Disputes: disputes, Engine: engine, Logger: logger, now: time.Now}
}

// Open files a dispute on an active task. The engine validates the actor and
// the task status and flips it to DISPUTED; the dispute row is inserted in
// the same transaction, so a dispute can never exist on a non-DISPUTED task.
func (s *Service) Open(ctx context.Context, taskID, actorID uuid.UUID, reason string, evidence json.RawMessage) (*models.Dispute, error) {
	if reason == "" {
		return nil, errors.New("dispute reason is required")
	}
	if existing, err := s.Disputes.OpenByTask(ctx, taskID); err == nil && existing != nil {
		return nil, ErrAlreadyDisputed
	}

	d := &models.Dispute{
		ID:       uuid.New(),
		TaskID:   taskID,
		OpenedBy: actorID,
		Reason:   reason,
		Status:   models.DisputeStatusOpen,
		Evidence: evidence,
	}
	err := s.Engine.MarkDisputed(ctx, taskID, actorID, func(ctx context.Context, tx pgx.Tx) error {
		return s.Disputes.CreateTx(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("dispute opened", "dispute_id", d.ID, "task_id", taskID, "opened_by", actorID)
	return d, nil
}

// Resolve settles an open dispute. Only mediators may resolve; the engine
// additionally rejects a resolver who is a party to the task. The dispute row
// flips to RESOLVED in the same transaction as the task's terminal move.
func (s *Service) Resolve(ctx context.Context, taskID uuid.UUID, resolver *models.Account, resolution string) (*models.Dispute, error) {
	if resolver.Role != models.RoleMediator {
		return nil, ErrNotMediator
	}
	if resolution != models.ResolutionReleaseToWorker && resolution != models.ResolutionRefundToClient {
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	d, err := s.Disputes.OpenByTask(ctx, taskID)
	if err != nil || d == nil {
		return nil, ErrNoOpenDispute
	}

	resolvedAt := s.now()
	err = s.Engine.ResolveDisputed(ctx, taskID, resolver.ID, resolution, func(ctx context.Context, tx pgx.Tx) error {
		return s.Disputes.ResolveTx(ctx, tx, d.ID, resolution, resolver.ID, resolvedAt)
	})
	if err != nil {
		return nil, err
	}

	d.Status = models.DisputeStatusResolved
	d.Resolution = &resolution
	d.ResolvedBy = &resolver.ID
	d.ResolvedAt = &resolvedAt
	s.Logger.Info("dispute resolved", "dispute_id", d.ID, "task_id", taskID, "resolution", resolution)
	return d, nil
}

// Get returns one dispute.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return s.Disputes.GetByID(ctx, id)
}

// ListOpen returns every unresolved dispute, the mediator work queue.
func (s *Service) ListOpen(ctx context.Context) ([]*models.Dispute, error) {
	return s.Disputes.ListOpen(ctx)
}
