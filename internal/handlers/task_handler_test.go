package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
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

// --- mocks ---

type mockEngine struct {
	createdTask      *models.Task
	createErr        error
	submitted        json.RawMessage
	submittedFlagged bool

	calls map[string]int
	errs  map[string]error
}

func newMockEngine() *mockEngine {
	return &mockEngine{calls: map[string]int{}, errs: map[string]error{}}
}

func (m *mockEngine) record(op string) error {
	m.calls[op]++
	return m.errs[op]
}

func (m *mockEngine) CreateDraft(ctx context.Context, clientID uuid.UUID, title, description, requirements, category string, bounty money.Cents, currency string, deadline *time.Time) (*models.Task, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.createdTask = &models.Task{
		ID:           uuid.New(),
		ClientID:     clientID,
		Title:        title,
		Description:  description,
		Requirements: requirements,
		Category:     category,
		BountyCents:  bounty,
		Currency:     currency,
		Status:       models.TaskStatusDraft,
		Deadline:     deadline,
	}
	return m.createdTask, nil
}

func (m *mockEngine) FundAndPublish(ctx context.Context, taskID, actorID uuid.UUID) error {
	return m.record("publish")
}
func (m *mockEngine) IncreaseBounty(ctx context.Context, taskID, actorID uuid.UUID, delta money.Cents) error {
	return m.record("bounty")
}
func (m *mockEngine) Start(ctx context.Context, taskID, actorID uuid.UUID) error {
	return m.record("start")
}
func (m *mockEngine) Submit(ctx context.Context, taskID, actorID uuid.UUID, deliverable json.RawMessage, flagged bool) error {
	m.submitted = deliverable
	m.submittedFlagged = flagged
	return m.record("submit")
}
func (m *mockEngine) Approve(ctx context.Context, taskID, actorID uuid.UUID) error {
	return m.record("approve")
}
func (m *mockEngine) Cancel(ctx context.Context, taskID, actorID uuid.UUID) error {
	return m.record("cancel")
}

type mockAssignments struct {
	applyErr  error
	acceptErr error
	listErr   error
	apps      []*models.Application
}

func (m *mockAssignments) Apply(ctx context.Context, taskID, workerID uuid.UUID, proposal string, estimatedDays int) (*models.Application, error) {
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return &models.Application{ID: uuid.New(), TaskID: taskID, WorkerID: workerID, Proposal: proposal, Status: models.ApplicationStatusPending}, nil
}
func (m *mockAssignments) Accept(ctx context.Context, taskID, applicationID, actorID uuid.UUID) error {
	return m.acceptErr
}
func (m *mockAssignments) ListForTask(ctx context.Context, taskID, actorID uuid.UUID) ([]*models.Application, error) {
	return m.apps, m.listErr
}

type mockDisputes struct {
	openErr    error
	resolveErr error
}

func (m *mockDisputes) Open(ctx context.Context, taskID, actorID uuid.UUID, reason string, evidence json.RawMessage) (*models.Dispute, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &models.Dispute{ID: uuid.New(), TaskID: taskID, OpenedBy: actorID, Reason: reason, Status: models.DisputeStatusOpen}, nil
}
func (m *mockDisputes) Resolve(ctx context.Context, taskID uuid.UUID, resolver *models.Account, resolution string) (*models.Dispute, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	return &models.Dispute{ID: uuid.New(), TaskID: taskID, Status: models.DisputeStatusResolved, Resolution: &resolution}, nil
}

type mockTasks struct {
	tasks map[uuid.UUID]*models.Task
}

func (m *mockTasks) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return t, nil
}
func (m *mockTasks) ListOpen(ctx context.Context, category string) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range m.tasks {
		if t.Status == models.TaskStatusOpen && (category == "" || t.Category == category) {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockAudit struct {
	logs []*models.StateLog
}

func (m *mockAudit) History(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.StateLog, error) {
	return m.logs, nil
}

// --- fixture ---

type handlerEnv struct {
	h      *TaskHandler
	engine *mockEngine
	apps   *mockAssignments
	disp   *mockDisputes
	tasks  *mockTasks
	audit  *mockAudit
	acc    *models.Account
}

func testValidator(t *testing.T) *validation.Validator {
	t.Helper()
	dir := t.TempDir()
	schema := `{
		"requirements_schema": {
			"type": "object",
			"required": ["summary"],
			"properties": {"summary": {"type": "string", "minLength": 1}}
		},
		"deliverable_schema": {
			"type": "object",
			"required": ["url"],
			"properties": {"url": {"type": "string"}}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "backend.json"), []byte(schema), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := validation.NewValidator(dir)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	env := &handlerEnv{
		engine: newMockEngine(),
		apps:   &mockAssignments{},
		disp:   &mockDisputes{},
		tasks:  &mockTasks{tasks: map[uuid.UUID]*models.Task{}},
		audit:  &mockAudit{},
		acc:    &models.Account{ID: uuid.New(), Email: "client@example.com", Role: models.RoleClient},
	}
	env.h = &TaskHandler{
		Engine:      env.engine,
		Assignments: env.apps,
		Disputes:    env.disp,
		Tasks:       env.tasks,
		Audit:       env.audit,
		Validator:   testValidator(t),
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
	return env
}

func (env *handlerEnv) seedTask(status string) *models.Task {
	task := &models.Task{
		ID:          uuid.New(),
		ClientID:    env.acc.ID,
		Title:       "Fix flaky CI",
		Category:    "backend",
		BountyCents: 10_000,
		Currency:    "usd",
		Status:      status,
	}
	env.tasks.tasks[task.ID] = task
	return task
}

func (env *handlerEnv) request(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(middleware.WithAccount(req.Context(), env.acc))
	return req
}

func withPathID(req *http.Request, id uuid.UUID) *http.Request {
	req.SetPathValue("id", id.String())
	return req
}

// --- tests ---

func TestCreateTask(t *testing.T) {
	env := newHandlerEnv(t)
	req := env.request(http.MethodPost, "/v1/tasks", map[string]any{
		"title":        "Fix flaky CI",
		"category":     "backend",
		"bounty":       "100.00",
		"requirements": map[string]string{"summary": "make the build green"},
	})
	rec := httptest.NewRecorder()
	env.h.CreateTask(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.engine.createdTask == nil {
		t.Fatal("expected a task to be created")
	}
	if env.engine.createdTask.BountyCents != 10_000 {
		t.Errorf("bounty = %d, want 10000", env.engine.createdTask.BountyCents)
	}
	if env.engine.createdTask.Status != models.TaskStatusDraft {
		t.Errorf("status = %s, want DRAFT", env.engine.createdTask.Status)
	}
}

func TestCreateTaskRejectsBadRequirements(t *testing.T) {
	env := newHandlerEnv(t)
	req := env.request(http.MethodPost, "/v1/tasks", map[string]any{
		"title":        "Fix flaky CI",
		"category":     "backend",
		"bounty":       "100.00",
		"requirements": map[string]int{"wrong": 1},
	})
	rec := httptest.NewRecorder()
	env.h.CreateTask(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if env.engine.createdTask != nil {
		t.Error("task should not have been created")
	}
}

func TestCreateTaskInvalidBounty(t *testing.T) {
	env := newHandlerEnv(t)
	for _, bounty := range []string{"", "-5.00", "0", "abc"} {
		req := env.request(http.MethodPost, "/v1/tasks", map[string]any{
			"title":        "Fix flaky CI",
			"category":     "backend",
			"bounty":       bounty,
			"requirements": map[string]string{"summary": "x"},
		})
		rec := httptest.NewRecorder()
		env.h.CreateTask(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("bounty %q: status = %d, want 400", bounty, rec.Code)
		}
	}
}

func TestCreateTaskPastDeadline(t *testing.T) {
	env := newHandlerEnv(t)
	past := time.Now().Add(-time.Hour)
	req := env.request(http.MethodPost, "/v1/tasks", map[string]any{
		"title":        "Fix flaky CI",
		"category":     "backend",
		"bounty":       "100.00",
		"requirements": map[string]string{"summary": "x"},
		"deadline":     past,
	})
	rec := httptest.NewRecorder()
	env.h.CreateTask(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusOpen)

	req := withPathID(env.request(http.MethodGet, "/v1/tasks/"+task.ID.String(), nil), task.ID)
	rec := httptest.NewRecorder()
	env.h.GetTask(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got models.Task
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != task.ID {
		t.Errorf("id = %s, want %s", got.ID, task.ID)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	env := newHandlerEnv(t)
	req := withPathID(env.request(http.MethodGet, "/v1/tasks/x", nil), uuid.New())
	rec := httptest.NewRecorder()
	env.h.GetTask(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListOpenTasksFiltersCategory(t *testing.T) {
	env := newHandlerEnv(t)
	env.seedTask(models.TaskStatusOpen)
	other := env.seedTask(models.TaskStatusOpen)
	other.Category = "design"
	env.seedTask(models.TaskStatusDraft)

	req := env.request(http.MethodGet, "/v1/tasks?category=backend", nil)
	rec := httptest.NewRecorder()
	env.h.ListOpenTasks(rec, req)

	var got []*models.Task
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tasks, want 1", len(got))
	}
	if got[0].Category != "backend" {
		t.Errorf("category = %s", got[0].Category)
	}
}

func TestPublish(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusDraft)

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/publish", nil), task.ID)
	rec := httptest.NewRecorder()
	env.h.Publish(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.engine.calls["publish"] != 1 {
		t.Errorf("publish called %d times", env.engine.calls["publish"])
	}
}

func TestPublishErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{lifecycle.ErrNotOwner, http.StatusForbidden},
		{lifecycle.ErrStateChanged, http.StatusConflict},
		{lifecycle.ErrNeedsReconciliation, http.StatusConflict},
		{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
		{fmt.Errorf("card declined: %w", gateway.ErrDeclined), http.StatusPaymentRequired},
		{fmt.Errorf("gateway timeout: %w", gateway.ErrAmbiguous), http.StatusBadGateway},
		{errors.New("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		env := newHandlerEnv(t)
		task := env.seedTask(models.TaskStatusDraft)
		env.engine.errs["publish"] = tc.err

		req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/publish", nil), task.ID)
		rec := httptest.NewRecorder()
		env.h.Publish(rec, req)

		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestIncreaseBounty(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusOpen)

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/bounty", map[string]string{"amount": "50.00"}), task.ID)
	rec := httptest.NewRecorder()
	env.h.IncreaseBounty(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.engine.calls["bounty"] != 1 {
		t.Error("IncreaseBounty was not called")
	}
}

func TestIncreaseBountyRejectsNegative(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusOpen)

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/bounty", map[string]string{"amount": "-10.00"}), task.ID)
	rec := httptest.NewRecorder()
	env.h.IncreaseBounty(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.engine.calls["bounty"] != 0 {
		t.Error("engine should not have been called")
	}
}

func TestApply(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusOpen)

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/applications", map[string]any{
		"proposal":       "I can fix this in two days",
		"estimated_days": 2,
	}), task.ID)
	rec := httptest.NewRecorder()
	env.h.Apply(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestApplyConflicts(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{assignment.ErrAlreadyApplied, http.StatusConflict},
		{assignment.ErrTaskNotOpen, http.StatusConflict},
		{assignment.ErrOwnTask, http.StatusForbidden},
	}
	for _, tc := range cases {
		env := newHandlerEnv(t)
		task := env.seedTask(models.TaskStatusOpen)
		env.apps.applyErr = tc.err

		req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/applications", map[string]any{"proposal": "hi"}), task.ID)
		rec := httptest.NewRecorder()
		env.h.Apply(rec, req)

		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestAcceptApplication(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusOpen)
	appID := uuid.New()

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/accept", map[string]string{"application_id": appID.String()}), task.ID)
	rec := httptest.NewRecorder()
	env.h.AcceptApplication(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAcceptLostRace(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusOpen)
	env.apps.acceptErr = lifecycle.ErrTaskNotOpen

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/accept", map[string]string{"application_id": uuid.New().String()}), task.ID)
	rec := httptest.NewRecorder()
	env.h.AcceptApplication(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestSubmitSoftValidation(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusInProgress)

	// Deliverable misses the schema's required "url" but must still go
	// through, stored and flagged rather than rejected.
	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/submit", map[string]any{
		"deliverable": map[string]string{"notes": "done"},
	}), task.ID)
	rec := httptest.NewRecorder()
	env.h.Submit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.engine.calls["submit"] != 1 {
		t.Error("Submit was not called")
	}
	if len(env.engine.submitted) == 0 {
		t.Error("deliverable was not forwarded for storage")
	}
	if !env.engine.submittedFlagged {
		t.Error("schema miss should mark the deliverable flagged")
	}
}

func TestSubmitValidDeliverableUnflagged(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusInProgress)

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/submit", map[string]any{
		"deliverable": map[string]string{"url": "https://files.example.com/report.pdf"},
	}), task.ID)
	rec := httptest.NewRecorder()
	env.h.Submit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.engine.submittedFlagged {
		t.Error("conforming deliverable should not be flagged")
	}
}

func TestSubmitLate(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusInProgress)
	env.engine.errs["submit"] = lifecycle.ErrLateSubmission

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/submit", map[string]any{
		"deliverable": map[string]string{"url": "https://example.com"},
	}), task.ID)
	rec := httptest.NewRecorder()
	env.h.Submit(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestApproveDisputeFrozen(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusDisputed)
	env.engine.errs["approve"] = lifecycle.ErrDisputeFrozen

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/approve", nil), task.ID)
	rec := httptest.NewRecorder()
	env.h.Approve(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCancelTerminal(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusCompleted)
	env.engine.errs["cancel"] = lifecycle.ErrTerminalState

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/cancel", nil), task.ID)
	rec := httptest.NewRecorder()
	env.h.Cancel(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestOpenDispute(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusSubmitted)

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/dispute", map[string]string{"reason": "deliverable is incomplete"}), task.ID)
	rec := httptest.NewRecorder()
	env.h.OpenDispute(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestOpenSecondDispute(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusDisputed)
	env.disp.openErr = dispute.ErrAlreadyDisputed

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/dispute", map[string]string{"reason": "again"}), task.ID)
	rec := httptest.NewRecorder()
	env.h.OpenDispute(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestResolveDisputeRequiresMediator(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusDisputed)
	env.disp.resolveErr = dispute.ErrNotMediator

	req := withPathID(env.request(http.MethodPost, "/v1/tasks/{id}/resolve", map[string]string{"resolution": models.ResolutionReleaseToWorker}), task.ID)
	rec := httptest.NewRecorder()
	env.h.ResolveDispute(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestGetHistory(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusOpen)
	env.audit.logs = []*models.StateLog{
		{EntityType: models.EntityTask, EntityID: task.ID, OldState: models.TaskStatusDraft, NewState: models.TaskStatusOpen},
	}

	req := withPathID(env.request(http.MethodGet, "/v1/tasks/{id}/history", nil), task.ID)
	rec := httptest.NewRecorder()
	env.h.GetHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []*models.StateLog
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].NewState != models.TaskStatusOpen {
		t.Errorf("unexpected history: %+v", got)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	env := newHandlerEnv(t)
	task := env.seedTask(models.TaskStatusDraft)

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/{id}/publish", nil)
	req.SetPathValue("id", task.ID.String())
	rec := httptest.NewRecorder()
	env.h.Publish(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
