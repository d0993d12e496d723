package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyboard/backend/internal/models"
)

type mockRepo struct {
	entries []*models.StateLog
}

func (m *mockRepo) AppendTx(_ context.Context, _ pgx.Tx, e *models.StateLog) error {
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockRepo) LastHash(_ context.Context, _ pgx.Tx, entityType string, entityID uuid.UUID) (string, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].EntityType == entityType && m.entries[i].EntityID == entityID {
			return m.entries[i].Hash, nil
		}
	}
	return "", nil
}

func (m *mockRepo) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID) ([]*models.StateLog, error) {
	var out []*models.StateLog
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestAppendBuildsChain(t *testing.T) {
	repo := &mockRepo{}
	log := NewLog(repo)
	ctx := context.Background()
	task := uuid.New()
	actor := uuid.New()

	e1, err := log.Append(ctx, nil, models.EntityTask, task, models.TaskStatusDraft, models.TaskStatusOpen, actor)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e1.PrevHash != "" {
		t.Errorf("first entry prev_hash should be empty, got %q", e1.PrevHash)
	}
	if e1.Hash == "" {
		t.Error("entry hash should not be empty")
	}

	e2, err := log.Append(ctx, nil, models.EntityTask, task, models.TaskStatusOpen, models.TaskStatusAssigned, actor)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("second entry should link to first: got %q, want %q", e2.PrevHash, e1.Hash)
	}

	if err := log.Verify(ctx, models.EntityTask, task); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	repo := &mockRepo{}
	log := NewLog(repo)
	ctx := context.Background()
	task := uuid.New()
	actor := uuid.New()

	for _, tr := range [][2]string{
		{models.TaskStatusDraft, models.TaskStatusOpen},
		{models.TaskStatusOpen, models.TaskStatusAssigned},
		{models.TaskStatusAssigned, models.TaskStatusInProgress},
	} {
		if _, err := log.Append(ctx, nil, models.EntityTask, task, tr[0], tr[1], actor); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Rewrite history: pretend the task was never assigned.
	repo.entries[1].NewState = models.TaskStatusCancelled

	if err := log.Verify(ctx, models.EntityTask, task); !errors.Is(err, ErrChainBroken) {
		t.Errorf("expected ErrChainBroken, got %v", err)
	}
}

func TestChainsAreScopedPerEntity(t *testing.T) {
	repo := &mockRepo{}
	log := NewLog(repo)
	ctx := context.Background()
	actor := uuid.New()
	taskA, taskB := uuid.New(), uuid.New()

	ea, err := log.Append(ctx, nil, models.EntityTask, taskA, models.TaskStatusDraft, models.TaskStatusOpen, actor)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := log.Append(ctx, nil, models.EntityTask, taskB, models.TaskStatusDraft, models.TaskStatusOpen, actor)
	if err != nil {
		t.Fatal(err)
	}
	if eb.PrevHash != "" {
		t.Errorf("taskB's first entry must not link to taskA's chain (prev %q)", eb.PrevHash)
	}
	if ea.Hash == eb.Hash {
		t.Error("distinct entries should have distinct hashes")
	}
}
