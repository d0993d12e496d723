package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/assignment"
	"github.com/bountyboard/backend/internal/dispute"
	"github.com/bountyboard/backend/internal/gateway"
	"github.com/bountyboard/backend/internal/ledger"
	"github.com/bountyboard/backend/internal/lifecycle"
	"github.com/bountyboard/backend/internal/middleware"
	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
	"github.com/bountyboard/backend/internal/validation"
)

// Engine is the lifecycle surface the handler drives.
type Engine interface {
	CreateDraft(ctx context.Context, clientID uuid.UUID, title, description, requirements, category string, bounty money.Cents, currency string, deadline *time.Time) (*models.Task, error)
	FundAndPublish(ctx context.Context, taskID, actorID uuid.UUID) error
	IncreaseBounty(ctx context.Context, taskID, actorID uuid.UUID, delta money.Cents) error
	Start(ctx context.Context, taskID, actorID uuid.UUID) error
	Submit(ctx context.Context, taskID, actorID uuid.UUID, deliverable json.RawMessage, flagged bool) error
	Approve(ctx context.Context, taskID, actorID uuid.UUID) error
	Cancel(ctx context.Context, taskID, actorID uuid.UUID) error
}

// Assignments is the application surface.
type Assignments interface {
	Apply(ctx context.Context, taskID, workerID uuid.UUID, proposal string, estimatedDays int) (*models.Application, error)
	Accept(ctx context.Context, taskID, applicationID, actorID uuid.UUID) error
	ListForTask(ctx context.Context, taskID, actorID uuid.UUID) ([]*models.Application, error)
}

// Disputes is the dispute surface.
type Disputes interface {
	Open(ctx context.Context, taskID, actorID uuid.UUID, reason string, evidence json.RawMessage) (*models.Dispute, error)
	Resolve(ctx context.Context, taskID uuid.UUID, resolver *models.Account, resolution string) (*models.Dispute, error)
}

// TaskReader is the read-only task store used for GETs.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListOpen(ctx context.Context, category string) ([]*models.Task, error)
}

// AuditReader serves transition history.
type AuditReader interface {
	History(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.StateLog, error)
}

// TaskHandler serves the /v1/tasks endpoints.
type TaskHandler struct {
	Engine      Engine
	Assignments Assignments
	Disputes    Disputes
	Tasks       TaskReader
	Audit       AuditReader
	Validator   *validation.Validator
	Logger      *slog.Logger
}

// --- POST /v1/tasks ---

type createTaskRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Requirements json.RawMessage `json:"requirements"`
	Category     string          `json:"category"`
	Bounty       string          `json:"bounty"`
	Currency     string          `json:"currency"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.Category == "" {
		http.Error(w, `{"error":"title and category are required"}`, http.StatusBadRequest)
		return
	}
	bounty := middleware.BountyFromCtx(r.Context())
	if bounty <= 0 {
		var err error
		bounty, err = money.Parse(req.Bounty)
		if err != nil || bounty <= 0 {
			http.Error(w, `{"error":"invalid bounty amount"}`, http.StatusBadRequest)
			return
		}
	}
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	if req.Deadline != nil && req.Deadline.Before(time.Now()) {
		http.Error(w, `{"error":"deadline is in the past"}`, http.StatusBadRequest)
		return
	}

	// Hard reject: structured requirements must match the category's schema.
	if err := h.Validator.ValidateRequirements(req.Category, req.Requirements); err != nil {
		if errors.Is(err, validation.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate requirements", "error", err)
		http.Error(w, `{"error":"requirements validation failed"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Engine.CreateDraft(r.Context(), acc.ID, req.Title, req.Description, string(req.Requirements), req.Category, bounty, currency, req.Deadline)
	if err != nil {
		h.Logger.Error("create task", "error", err)
		http.Error(w, `{"error":"failed to create task"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// --- GET /v1/tasks, GET /v1/tasks/{id} ---

func (h *TaskHandler) ListOpenTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.ListOpen(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.Logger.Error("list open tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- GET /v1/tasks/{id}/history ---

func (h *TaskHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	history, err := h.Audit.History(r.Context(), models.EntityTask, taskID)
	if err != nil {
		h.Logger.Error("task history", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []*models.StateLog{}
	}
	writeJSON(w, http.StatusOK, history)
}

// --- POST /v1/tasks/{id}/publish ---

func (h *TaskHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, taskID, actorID uuid.UUID) error {
		return h.Engine.FundAndPublish(ctx, taskID, actorID)
	})
}

// --- POST /v1/tasks/{id}/bounty ---

type increaseBountyRequest struct {
	Amount string `json:"amount"`
}

func (h *TaskHandler) IncreaseBounty(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req increaseBountyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	delta, err := money.Parse(req.Amount)
	if err != nil || delta <= 0 {
		http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
		return
	}
	if err := h.Engine.IncreaseBounty(r.Context(), taskID, acc.ID, delta); err != nil {
		h.writeTransitionError(w, taskID, err)
		return
	}
	h.respondWithTask(w, r, taskID)
}

// --- POST /v1/tasks/{id}/applications, GET /v1/tasks/{id}/applications ---

type applyRequest struct {
	Proposal      string `json:"proposal"`
	EstimatedDays int    `json:"estimated_days"`
}

func (h *TaskHandler) Apply(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	app, err := h.Assignments.Apply(r.Context(), taskID, acc.ID, req.Proposal, req.EstimatedDays)
	if err != nil {
		switch {
		case errors.Is(err, assignment.ErrAlreadyApplied):
			http.Error(w, `{"error":"already applied"}`, http.StatusConflict)
		case errors.Is(err, assignment.ErrTaskNotOpen):
			http.Error(w, `{"error":"task is not accepting applications"}`, http.StatusConflict)
		case errors.Is(err, assignment.ErrOwnTask):
			http.Error(w, `{"error":"cannot apply to your own task"}`, http.StatusForbidden)
		default:
			h.Logger.Error("apply", "task_id", taskID, "error", err)
			http.Error(w, `{"error":"failed to apply"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *TaskHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	apps, err := h.Assignments.ListForTask(r.Context(), taskID, acc.ID)
	if err != nil {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// --- POST /v1/tasks/{id}/accept ---

type acceptRequest struct {
	ApplicationID string `json:"application_id"`
}

func (h *TaskHandler) AcceptApplication(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	appID, err := uuid.Parse(req.ApplicationID)
	if err != nil {
		http.Error(w, `{"error":"invalid application_id"}`, http.StatusBadRequest)
		return
	}
	if err := h.Assignments.Accept(r.Context(), taskID, appID, acc.ID); err != nil {
		h.writeTransitionError(w, taskID, err)
		return
	}
	h.respondWithTask(w, r, taskID)
}

// --- POST /v1/tasks/{id}/start ---

func (h *TaskHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Start)
}

// --- POST /v1/tasks/{id}/submit ---

type submitRequest struct {
	Deliverable json.RawMessage `json:"deliverable"`
}

func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	// Soft flag: a deliverable that misses the category schema is flagged
	// and stored, never rejected.
	flagged := false
	if task, err := h.Tasks.GetByID(r.Context(), taskID); err == nil {
		if valErr := h.Validator.ValidateDeliverable(task.Category, req.Deliverable); valErr != nil {
			flagged = true
			h.Logger.Warn("deliverable failed schema validation", "task_id", taskID, "error", valErr)
		}
	}

	if err := h.Engine.Submit(r.Context(), taskID, acc.ID, req.Deliverable, flagged); err != nil {
		h.writeTransitionError(w, taskID, err)
		return
	}
	h.respondWithTask(w, r, taskID)
}

// --- POST /v1/tasks/{id}/approve, /cancel ---

func (h *TaskHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Approve)
}

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Cancel)
}

// --- POST /v1/tasks/{id}/dispute ---

type openDisputeRequest struct {
	Reason   string          `json:"reason"`
	Evidence json.RawMessage `json:"evidence,omitempty"`
}

func (h *TaskHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	d, err := h.Disputes.Open(r.Context(), taskID, acc.ID, req.Reason, req.Evidence)
	if err != nil {
		if errors.Is(err, dispute.ErrAlreadyDisputed) {
			http.Error(w, `{"error":"task already has an open dispute"}`, http.StatusConflict)
			return
		}
		h.writeTransitionError(w, taskID, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// --- POST /v1/tasks/{id}/resolve ---

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (h *TaskHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	d, err := h.Disputes.Resolve(r.Context(), taskID, acc, req.Resolution)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrNotMediator):
			http.Error(w, `{"error":"only a mediator may resolve disputes"}`, http.StatusForbidden)
		case errors.Is(err, dispute.ErrNoOpenDispute):
			http.Error(w, `{"error":"no open dispute"}`, http.StatusNotFound)
		default:
			h.writeTransitionError(w, taskID, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- helpers ---

// transition runs a body-less lifecycle operation and responds with the
// refreshed task.
func (h *TaskHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, taskID, actorID uuid.UUID) error) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	if err := op(r.Context(), taskID, acc.ID); err != nil {
		h.writeTransitionError(w, taskID, err)
		return
	}
	h.respondWithTask(w, r, taskID)
}

// writeTransitionError maps engine errors onto HTTP statuses: validation
// rejections are 4xx with the reason, conflicts 409, money problems 402.
func (h *TaskHandler) writeTransitionError(w http.ResponseWriter, taskID uuid.UUID, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotOwner),
		errors.Is(err, lifecycle.ErrNotAssignedWorker),
		errors.Is(err, lifecycle.ErrResolverIsParty):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrTerminalState),
		errors.Is(err, lifecycle.ErrLateSubmission):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrTaskNotOpen),
		errors.Is(err, lifecycle.ErrStateChanged),
		errors.Is(err, lifecycle.ErrDisputeFrozen),
		errors.Is(err, lifecycle.ErrNeedsReconciliation):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient funds"})
	case errors.Is(err, gateway.ErrDeclined):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "payment declined"})
	case errors.Is(err, gateway.ErrAmbiguous):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment status unknown, reconciliation scheduled"})
	default:
		h.Logger.Error("transition failed", "task_id", taskID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *TaskHandler) respondWithTask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("reload task", "task_id", taskID, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID.String()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
