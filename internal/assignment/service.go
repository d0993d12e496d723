// Package assignment handles worker applications to open tasks.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/models"
)

var (
	// ErrAlreadyApplied is returned when a worker applies twice to one task.
	ErrAlreadyApplied = errors.New("worker already applied to this task")
	// ErrTaskNotOpen is returned when the task is not accepting applications.
	ErrTaskNotOpen = errors.New("task is not accepting applications")
	// ErrOwnTask is returned when a client applies to their own task.
	ErrOwnTask = errors.New("cannot apply to your own task")
)

// ApplicationRepo is the application storage used by the service.
type ApplicationRepo interface {
	Create(ctx context.Context, a *models.Application) error
	GetByTaskAndWorker(ctx context.Context, taskID, workerID uuid.UUID) (*models.Application, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Application, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Application, error)
}

// TaskReader loads tasks for validation. The service never writes tasks;
// acceptance goes through the lifecycle engine.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

// Accepter drives the OPEN -> ASSIGNED transition.
type Accepter interface {
	AcceptApplication(ctx context.Context, taskID, applicationID, actorID uuid.UUID) error
}

// Service manages the application side of assignment.
type Service struct {
	Apps   ApplicationRepo
	Tasks  TaskReader
	Engine Accepter
	Logger *slog.Logger
}

// NewService returns an assignment Service.
func NewService(apps ApplicationRepo, tasks TaskReader, engine Accepter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Apps: apps, Tasks: tasks, Engine: engine, Logger: logger}
}

// Apply records a worker's application to an OPEN task. One application per
// worker per task; the database's unique constraint backs the check here.
func (s *Service) Apply(ctx context.Context, taskID, workerID uuid.UUID, proposal string, estimatedDays int) (*models.Application, error) {
	t, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if t.Status != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: task is %s", ErrTaskNotOpen, t.Status)
	}
	if t.ClientID == workerID {
		return nil, ErrOwnTask
	}
	if existing, err := s.Apps.GetByTaskAndWorker(ctx, taskID, workerID); err == nil && existing != nil {
		return nil, ErrAlreadyApplied
	}

	a := &models.Application{
		ID:            uuid.New(),
		TaskID:        taskID,
		WorkerID:      workerID,
		Proposal:      proposal,
		EstimatedDays: estimatedDays,
		Status:        models.ApplicationStatusPending,
	}
	if err := s.Apps.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	s.Logger.Info("application submitted", "task_id", taskID, "worker_id", workerID)
	return a, nil
}

// Accept delegates to the lifecycle engine, which owns the atomic
// single-accept semantics.
func (s *Service) Accept(ctx context.Context, taskID, applicationID, actorID uuid.UUID) error {
	return s.Engine.AcceptApplication(ctx, taskID, applicationID, actorID)
}

// ListForTask returns the task's applications, visible to its client only.
func (s *Service) ListForTask(ctx context.Context, taskID, actorID uuid.UUID) ([]*models.Application, error) {
	t, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if t.ClientID != actorID {
		return nil, errors.New("only the task's client may list applications")
	}
	return s.Apps.ListByTask(ctx, taskID)
}

// ListForWorker returns the worker's own applications.
func (s *Service) ListForWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Application, error) {
	return s.Apps.ListByWorker(ctx, workerID)
}
