package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeProcessor records requests and serves scripted responses.
type fakeProcessor struct {
	mu       sync.Mutex
	requests []*http.Request
	idemKeys []string
	// failures is how many 500s to serve before succeeding.
	failures int
	decline  bool
}

func (f *fakeProcessor) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.idemKeys = append(f.idemKeys, r.Header.Get("Idempotency-Key"))
		fail := f.failures > 0
		if fail {
			f.failures--
		}
		decline := f.decline
		f.mu.Unlock()

		if decline {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/holds":
			_ = json.NewEncoder(w).Encode(Intent{ID: "pi_test", ClientSecret: "sec"})
		default:
			_ = json.NewEncoder(w).Encode(statusResponse{Status: StatusHeld})
		}
	}
}

func newTestClient(t *testing.T, f *fakeProcessor, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, retries, 2*time.Second, nil)
}

func TestCreateHold(t *testing.T) {
	f := &fakeProcessor{}
	c := newTestClient(t, f, 3)

	intent, err := c.CreateHold(context.Background(), 10000, "USD", map[string]string{"task_id": "t1"})
	if err != nil {
		t.Fatalf("CreateHold: %v", err)
	}
	if intent.ID != "pi_test" {
		t.Errorf("intent id: got %q", intent.ID)
	}
	if len(f.requests) != 1 {
		t.Errorf("expected 1 request, got %d", len(f.requests))
	}
	if f.idemKeys[0] == "" {
		t.Error("missing Idempotency-Key header")
	}
}

func TestRetriesKeepIdempotencyKey(t *testing.T) {
	f := &fakeProcessor{failures: 2}
	c := newTestClient(t, f, 3)

	status, err := c.ConfirmHold(context.Background(), "pi_test")
	if err != nil {
		t.Fatalf("ConfirmHold after retries: %v", err)
	}
	if status != StatusHeld {
		t.Errorf("status: got %q", status)
	}
	if len(f.idemKeys) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(f.idemKeys))
	}
	for i := 1; i < len(f.idemKeys); i++ {
		if f.idemKeys[i] != f.idemKeys[0] {
			t.Errorf("idempotency key changed across retries: %q vs %q", f.idemKeys[i], f.idemKeys[0])
		}
	}
}

func TestDeclineIsNotRetried(t *testing.T) {
	f := &fakeProcessor{decline: true}
	c := newTestClient(t, f, 3)

	_, err := c.Capture(context.Background(), "pi_test")
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if len(f.requests) != 1 {
		t.Errorf("decline should not be retried: got %d requests", len(f.requests))
	}
}

func TestExhaustedRetriesAreAmbiguous(t *testing.T) {
	f := &fakeProcessor{failures: 10}
	c := newTestClient(t, f, 2)

	_, err := c.Refund(context.Background(), "pi_test")
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous after exhausted retries, got %v", err)
	}
	if len(f.requests) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(f.requests))
	}
}
