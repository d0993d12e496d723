package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/audit"
	"github.com/bountyboard/backend/internal/auth"
	"github.com/bountyboard/backend/internal/dashboard"
	"github.com/bountyboard/backend/internal/handlers"
	"github.com/bountyboard/backend/internal/metrics"
	"github.com/bountyboard/backend/internal/middleware"
	"github.com/bountyboard/backend/internal/money"
	"github.com/bountyboard/backend/internal/repository"
	"github.com/bountyboard/backend/internal/validation"
)

type routeDeps struct {
	engine      handlers.Engine
	assignments handlers.Assignments
	disputes    handlers.Disputes
	auth        auth.Service
	authHandler *auth.Handler
	dashboard   *dashboard.Handler
	accounts    *repository.AccountRepo
	tasks       *repository.TaskRepo
	payments    *repository.PaymentRepo
	audit       *audit.Log
	validator   *validation.Validator
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// registerRoutes mounts every endpoint. Middleware chain:
// JWTAuth -> (BountyCheck on POST /v1/tasks only) -> handler.
func registerRoutes(mux *http.ServeMux, d routeDeps) {
	th := &handlers.TaskHandler{
		Engine:      d.engine,
		Assignments: d.assignments,
		Disputes:    d.disputes,
		Tasks:       d.tasks,
		Audit:       d.audit,
		Validator:   d.validator,
		Logger:      d.logger,
	}

	authn := middleware.JWTAuth(d.auth, d.accounts)
	bountyCheck := middleware.BountyCheck(func(ctx context.Context, clientID uuid.UUID) (money.Cents, error) {
		return d.payments.SumHeldByClientSince(ctx, clientID, 86400)
	})

	// Public
	mux.HandleFunc("POST /v1/auth/register", d.authHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", d.authHandler.Login)
	mux.Handle("GET /metrics", d.metrics.Handler())

	// Tasks
	mux.Handle("POST /v1/tasks", authn(bountyCheck(http.HandlerFunc(th.CreateTask))))
	mux.Handle("GET /v1/tasks", authn(http.HandlerFunc(th.ListOpenTasks)))
	mux.Handle("GET /v1/tasks/{id}", authn(http.HandlerFunc(th.GetTask)))
	mux.Handle("GET /v1/tasks/{id}/history", authn(http.HandlerFunc(th.GetHistory)))
	mux.Handle("POST /v1/tasks/{id}/publish", authn(http.HandlerFunc(th.Publish)))
	mux.Handle("POST /v1/tasks/{id}/bounty", authn(http.HandlerFunc(th.IncreaseBounty)))
	mux.Handle("POST /v1/tasks/{id}/applications", authn(http.HandlerFunc(th.Apply)))
	mux.Handle("GET /v1/tasks/{id}/applications", authn(http.HandlerFunc(th.ListApplications)))
	mux.Handle("POST /v1/tasks/{id}/accept", authn(http.HandlerFunc(th.AcceptApplication)))
	mux.Handle("POST /v1/tasks/{id}/start", authn(http.HandlerFunc(th.Start)))
	mux.Handle("POST /v1/tasks/{id}/submit", authn(http.HandlerFunc(th.Submit)))
	mux.Handle("POST /v1/tasks/{id}/approve", authn(http.HandlerFunc(th.Approve)))
	mux.Handle("POST /v1/tasks/{id}/cancel", authn(http.HandlerFunc(th.Cancel)))
	mux.Handle("POST /v1/tasks/{id}/dispute", authn(http.HandlerFunc(th.OpenDispute)))
	mux.Handle("POST /v1/tasks/{id}/resolve", authn(http.HandlerFunc(th.ResolveDispute)))

	// Account
	mux.Handle("GET /v1/account/me", authn(http.HandlerFunc(d.dashboard.GetMe)))
	mux.Handle("PATCH /v1/account/settings", authn(http.HandlerFunc(d.dashboard.UpdateSettings)))
	mux.Handle("GET /v1/account/ledger", authn(http.HandlerFunc(d.dashboard.ListLedger)))
	mux.Handle("POST /v1/account/withdraw", authn(http.HandlerFunc(d.dashboard.Withdraw)))
	mux.Handle("GET /v1/account/tasks", authn(http.HandlerFunc(d.dashboard.ListMyTasks)))
	mux.Handle("GET /v1/account/applications", authn(http.HandlerFunc(d.dashboard.ListMyApplications)))
}
