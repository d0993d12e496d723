package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyboard/backend/internal/jobs"
	"github.com/bountyboard/backend/internal/ledger"
	"github.com/bountyboard/backend/internal/middleware"
	"github.com/bountyboard/backend/internal/models"
	"github.com/bountyboard/backend/internal/money"
	"github.com/bountyboard/backend/internal/repository"
)

// WithdrawLedger debits available balance and records the withdrawal entry.
// The enqueue callback runs inside the withdrawal's transaction.
type WithdrawLedger interface {
	RecordWithdrawal(ctx context.Context, userID uuid.UUID, amount money.Cents, enqueue func(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error) (uuid.UUID, error)
}

// EnqueuePayoutFunc inserts the payout job in the caller's transaction, so
// the job commits together with the withdrawal debit.
type EnqueuePayoutFunc func(ctx context.Context, tx pgx.Tx, args jobs.PayoutArgs) error

// Handler serves the account surface: profile, balances, the ledger,
// withdrawals, and the caller's tasks and applications.
type Handler struct {
	accountR      *repository.AccountRepo
	balanceR      *repository.BalanceRepo
	entryR        *repository.EntryRepo
	taskR         *repository.TaskRepo
	appR          *repository.ApplicationRepo
	ledger        WithdrawLedger
	enqueuePayout EnqueuePayoutFunc
	log           *slog.Logger
}

func NewHandler(
	accountR *repository.AccountRepo,
	balanceR *repository.BalanceRepo,
	entryR *repository.EntryRepo,
	taskR *repository.TaskRepo,
	appR *repository.ApplicationRepo,
	led WithdrawLedger,
	enqueuePayout EnqueuePayoutFunc,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accountR:      accountR,
		balanceR:      balanceR,
		entryR:        entryR,
		taskR:         taskR,
		appR:          appR,
		ledger:        led,
		enqueuePayout: enqueuePayout,
		log:           log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	bal, err := h.balanceR.Get(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("get balance failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                  acc.ID,
		"email":               acc.Email,
		"display_name":        acc.DisplayName,
		"role":                acc.Role,
		"available_cents":     bal.AvailableCents,
		"pending_cents":       bal.PendingCents,
		"max_bounty_per_task": acc.MaxBountyPerTask,
		"max_spend_per_day":   acc.MaxSpendPerDay,
		"created_at":          acc.CreatedAt,
	})
}

// PATCH /v1/account/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		DisplayName      *string `json:"display_name"`
		Email            *string `json:"email"`
		MaxBountyPerTask *int64  `json:"max_bounty_per_task"`
		MaxSpendPerDay   *int64  `json:"max_spend_per_day"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.DisplayName != nil {
		acc.DisplayName = *body.DisplayName
	}
	if body.Email != nil {
		acc.Email = *body.Email
	}
	if body.MaxBountyPerTask != nil {
		acc.MaxBountyPerTask = body.MaxBountyPerTask
	}
	if body.MaxSpendPerDay != nil {
		acc.MaxSpendPerDay = body.MaxSpendPerDay
	}
	if err := h.accountR.Update(r.Context(), acc); err != nil {
		h.log.Error("update settings failed", "error", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /v1/account/ledger
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.entryR.ListByAccount(r.Context(), acc.ID, limit)
	if err != nil {
		h.log.Error("list ledger failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// POST /v1/account/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	amount, err := money.Parse(body.Amount)
	if err != nil || amount <= 0 {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	withdrawalID, err := h.ledger.RecordWithdrawal(r.Context(), acc.ID, amount,
		func(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error {
			return h.enqueuePayout(ctx, tx, jobs.PayoutArgs{
				WithdrawalID: entryID,
				UserID:       acc.ID,
				AmountCents:  amount,
			})
		})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			http.Error(w, "insufficient funds", http.StatusPaymentRequired)
			return
		}
		// An enqueue failure rolls the debit back with everything else.
		h.log.Error("record withdrawal failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"withdrawal_id": withdrawalID,
		"amount_cents":  amount,
	})
}

// GET /v1/account/tasks
func (h *Handler) ListMyTasks(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var (
		tasks []*models.Task
		err   error
	)
	if acc.Role == models.RoleWorker {
		tasks, err = h.taskR.ListByWorker(r.Context(), acc.ID)
	} else {
		tasks, err = h.taskR.ListByClient(r.Context(), acc.ID)
	}
	if err != nil {
		h.log.Error("list my tasks failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GET /v1/account/applications
func (h *Handler) ListMyApplications(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	apps, err := h.appR.ListByWorker(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list my applications failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}
