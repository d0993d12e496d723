package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/bountyboard/backend/internal/assignment"
	"github.com/bountyboard/backend/internal/audit"
	"github.com/bountyboard/backend/internal/auth"
	"github.com/bountyboard/backend/internal/config"
	"github.com/bountyboard/backend/internal/dashboard"
	"github.com/bountyboard/backend/internal/dispute"
	"github.com/bountyboard/backend/internal/gateway"
	"github.com/bountyboard/backend/internal/jobs"
	"github.com/bountyboard/backend/internal/ledger"
	"github.com/bountyboard/backend/internal/lifecycle"
	"github.com/bountyboard/backend/internal/metrics"
	"github.com/bountyboard/backend/internal/repository"
	"github.com/bountyboard/backend/internal/validation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	appRepo := repository.NewApplicationRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	balanceRepo := repository.NewBalanceRepo(pool)
	entryRepo := repository.NewEntryRepo(pool)
	disputeRepo := repository.NewDisputeRepo(pool)
	stateLogRepo := repository.NewStateLogRepo(pool)

	ledgerSvc := ledger.NewService(pool, balanceRepo, paymentRepo, entryRepo)
	auditLog := audit.NewLog(stateLogRepo)

	var gw gateway.Gateway
	if cfg.Gateway.BaseURL == "" || cfg.Gateway.BaseURL == "stub" {
		slog.Warn("Payment gateway stubbed, no real money moves")
		gw = gateway.NewStub()
	} else {
		gw = gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.MaxRetries, cfg.Gateway.Timeout, logger)
	}

	engine := lifecycle.New(pool, taskRepo, appRepo, paymentRepo, ledgerSvc, gw, auditLog, cfg.FeePolicy(), cfg.AllowLateSubmissions, logger)

	m := metrics.New()
	engine.Metrics = m

	// Job inserts are wired after the River client exists (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn func(ctx context.Context, args river.JobArgs) error
	enqueue := func(ctx context.Context, args river.JobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, args)
	}
	engine.EnqueueReconcile = func(ctx context.Context, paymentID uuid.UUID) error {
		return enqueue(ctx, jobs.ReconcilePaymentArgs{PaymentID: paymentID})
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewReconcilePaymentWorker(engine, logger))
	river.AddWorker(workers, jobs.NewExpireStalePaymentsWorker(paymentRepo, engine, logger))
	river.AddWorker(workers, jobs.NewPayoutWorker(gw, ledgerSvc, logger))

	staleCutoff := int(cfg.PendingPaymentTimeout / time.Second)
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(5*time.Minute),
				func() (river.JobArgs, *river.InsertOpts) {
					return jobs.ExpireStalePaymentsArgs{OlderThanSeconds: staleCutoff}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args river.JobArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Services
	authSvc := auth.NewService(accountRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	assignSvc := assignment.NewService(appRepo, taskRepo, engine, logger)
	disputeSvc := dispute.NewService(disputeRepo, engine, logger)

	validator, err := validation.NewValidator(cfg.SchemaDir)
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	dashHandler := dashboard.NewHandler(accountRepo, balanceRepo, entryRepo, taskRepo, appRepo, ledgerSvc,
		func(ctx context.Context, tx pgx.Tx, args jobs.PayoutArgs) error {
			_, err := riverClient.InsertTx(ctx, tx, args, nil)
			return err
		},
		logger)

	mux := http.NewServeMux()
	registerRoutes(mux, routeDeps{
		engine:      engine,
		assignments: assignSvc,
		disputes:    disputeSvc,
		auth:        authSvc,
		authHandler: authHandler,
		dashboard:   dashHandler,
		accounts:    accountRepo,
		tasks:       taskRepo,
		payments:    paymentRepo,
		audit:       auditLog,
		validator:   validator,
		metrics:     m,
		logger:      logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
