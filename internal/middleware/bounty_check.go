package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/money"
)

const ctxBountyKey contextKey = "parsed_bounty"

// parsedBounty is stored in context so the handler can read the amount
// without re-parsing the body.
type parsedBounty struct {
	BountyCents money.Cents
}

// BountyFromCtx returns the bounty parsed by BountyCheck, or 0 if not set.
func BountyFromCtx(ctx context.Context) money.Cents {
	if b, ok := ctx.Value(ctxBountyKey).(*parsedBounty); ok {
		return b.BountyCents
	}
	return 0
}

// DailySpendFunc computes the account's escrow holds over the trailing day.
type DailySpendFunc func(ctx context.Context, clientID uuid.UUID) (money.Cents, error)

// BountyCheck validates the request's bounty amount against the account's
// per-task and daily limits. Reads the body to extract "bounty", then
// replaces r.Body so downstream handlers can re-read it.
func BountyCheck(dailySpend DailySpendFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek struct {
				Bounty string `json:"bounty"`
			}
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			amount, err := money.Parse(peek.Bounty)
			if err != nil {
				http.Error(w, `{"error":"invalid bounty amount"}`, http.StatusBadRequest)
				return
			}
			if amount <= 0 {
				http.Error(w, `{"error":"bounty must be > 0"}`, http.StatusBadRequest)
				return
			}

			if acc.MaxBountyPerTask != nil && int64(amount) > *acc.MaxBountyPerTask {
				http.Error(w, fmt.Sprintf(`{"error":"bounty %d exceeds per-task limit %d"}`, amount, *acc.MaxBountyPerTask), http.StatusForbidden)
				return
			}

			if acc.MaxSpendPerDay != nil {
				spent, err := dailySpend(r.Context(), acc.ID)
				if err != nil {
					http.Error(w, `{"error":"failed to check daily spend"}`, http.StatusInternalServerError)
					return
				}
				if int64(spent+amount) > *acc.MaxSpendPerDay {
					http.Error(w, fmt.Sprintf(`{"error":"daily spend %d + bounty %d exceeds daily limit %d"}`, spent, amount, *acc.MaxSpendPerDay), http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxBountyKey, &parsedBounty{BountyCents: amount})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
