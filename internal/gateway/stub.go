package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bountyboard/backend/internal/money"
)

// Stub is an in-memory Gateway for local development and tests. Failure modes
// can be injected per operation.
type Stub struct {
	mu      sync.Mutex
	intents map[string]string // intent id -> status

	FailConfirm bool
	FailCapture bool
	FailRefund  bool
	FailPayout  bool
	// AmbiguousConfirm makes ConfirmHold report ErrAmbiguous while still
	// moving the intent to HELD processor-side, mimicking a lost response.
	AmbiguousConfirm bool
}

// NewStub returns an empty stub gateway.
func NewStub() *Stub {
	return &Stub{intents: make(map[string]string)}
}

var _ Gateway = (*Stub)(nil)

func (s *Stub) CreateHold(_ context.Context, amount money.Cents, currency string, _ map[string]string) (*Intent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrDeclined)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "pi_" + uuid.NewString()
	s.intents[id] = StatusPending
	return &Intent{ID: id, ClientSecret: "secret_" + id}, nil
}

func (s *Stub) ConfirmHold(_ context.Context, intentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intentID]; !ok {
		return "", fmt.Errorf("unknown intent %q", intentID)
	}
	if s.FailConfirm {
		s.intents[intentID] = StatusFailed
		return StatusFailed, ErrDeclined
	}
	s.intents[intentID] = StatusHeld
	if s.AmbiguousConfirm {
		return "", ErrAmbiguous
	}
	return StatusHeld, nil
}

func (s *Stub) Capture(_ context.Context, intentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCapture {
		return StatusFailed, ErrDeclined
	}
	if s.intents[intentID] == StatusReleased {
		return StatusReleased, nil // idempotent re-capture
	}
	s.intents[intentID] = StatusReleased
	return StatusReleased, nil
}

func (s *Stub) Refund(_ context.Context, intentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRefund {
		return StatusFailed, ErrDeclined
	}
	s.intents[intentID] = StatusRefunded
	return StatusRefunded, nil
}

func (s *Stub) Payout(_ context.Context, _ uuid.UUID, _ money.Cents, _ string) (string, error) {
	if s.FailPayout {
		return "", ErrDeclined
	}
	return "po_" + uuid.NewString(), nil
}

func (s *Stub) IntentStatus(_ context.Context, intentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.intents[intentID]
	if !ok {
		return "", fmt.Errorf("unknown intent %q", intentID)
	}
	return st, nil
}
