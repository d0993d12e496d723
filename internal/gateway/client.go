package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/money"
)

const defaultTimeout = 10 * time.Second

// Client talks to the processor's HTTP API. Every logical operation carries an
// Idempotency-Key header that stays stable across retries, so a retried call
// can never move money twice.
type Client struct {
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient returns a Client with bounded retries and the default timeout.
func NewClient(baseURL string, maxRetries int, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

var _ Gateway = (*Client)(nil)

type createHoldRequest struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *Client) CreateHold(ctx context.Context, amount money.Cents, currency string, metadata map[string]string) (*Intent, error) {
	body := createHoldRequest{AmountCents: int64(amount), Currency: currency, Metadata: metadata}
	var intent Intent
	if err := c.post(ctx, "/v1/holds", uuid.NewString(), body, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("processor returned empty intent id")
	}
	return &intent, nil
}

func (c *Client) ConfirmHold(ctx context.Context, intentID string) (string, error) {
	return c.statusOp(ctx, fmt.Sprintf("/v1/holds/%s/confirm", intentID), intentID+":confirm")
}

func (c *Client) Capture(ctx context.Context, intentID string) (string, error) {
	return c.statusOp(ctx, fmt.Sprintf("/v1/holds/%s/capture", intentID), intentID+":capture")
}

func (c *Client) Refund(ctx context.Context, intentID string) (string, error) {
	return c.statusOp(ctx, fmt.Sprintf("/v1/holds/%s/refund", intentID), intentID+":refund")
}

func (c *Client) Payout(ctx context.Context, userID uuid.UUID, amount money.Cents, reference string) (string, error) {
	body := map[string]any{"user_id": userID.String(), "amount_cents": int64(amount), "reference": reference}
	var resp struct {
		PayoutID string `json:"payout_id"`
		Status   string `json:"status"`
	}
	if err := c.post(ctx, "/v1/payouts", reference, body, &resp); err != nil {
		return "", err
	}
	if resp.Status == StatusFailed {
		return "", ErrDeclined
	}
	return resp.PayoutID, nil
}

func (c *Client) IntentStatus(ctx context.Context, intentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/holds/"+intentID, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAmbiguous, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("intent lookup returned %d", resp.StatusCode)
	}
	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", err
	}
	return sr.Status, nil
}

// statusOp posts to a hold sub-resource and interprets the reported status.
func (c *Client) statusOp(ctx context.Context, path, idemKey string) (string, error) {
	var sr statusResponse
	if err := c.post(ctx, path, idemKey, struct{}{}, &sr); err != nil {
		return "", err
	}
	if sr.Status == StatusFailed {
		return sr.Status, ErrDeclined
	}
	return sr.Status, nil
}

// post sends a JSON request with the given idempotency key, retrying network
// errors and 5xx responses up to MaxRetries. A 4xx is a definitive decline; a
// final timeout surfaces as ErrAmbiguous.
func (c *Client) post(ctx context.Context, path, idemKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrAmbiguous, ctx.Err())
			case <-time.After(time.Duration(attempt-1) * 250 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idemKey)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			c.Logger.Warn("gateway call failed, retrying", "path", path, "attempt", attempt, "error", err)
			continue
		}

		func() {
			defer resp.Body.Close()
			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				lastErr = json.NewDecoder(resp.Body).Decode(out)
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("processor returned %d", resp.StatusCode)
				c.Logger.Warn("gateway 5xx, retrying", "path", path, "attempt", attempt, "status", resp.StatusCode)
			default:
				lastErr = fmt.Errorf("%w: processor returned %d", ErrDeclined, resp.StatusCode)
			}
		}()

		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrDeclined) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", ErrAmbiguous, lastErr)
}
