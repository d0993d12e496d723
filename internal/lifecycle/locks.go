package lifecycle

import (
	"sync"

	"github.com/google/uuid"
)

// TaskLocks serializes transitions per task id. The lock is held across any
// gateway call inside a transition, so no other transition on the same task
// can start while money movement is in flight. Locks on different tasks are
// fully independent.
type TaskLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

// NewTaskLocks returns an empty lock table.
func NewTaskLocks() *TaskLocks {
	return &TaskLocks{locks: make(map[uuid.UUID]*taskLock)}
}

// Acquire blocks until the task's lock is held and returns the release func.
// Entries are reference-counted and removed when unused, so the table does
// not grow with the number of tasks ever seen.
func (t *TaskLocks) Acquire(taskID uuid.UUID) func() {
	t.mu.Lock()
	l, ok := t.locks[taskID]
	if !ok {
		l = &taskLock{}
		t.locks[taskID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, taskID)
		}
		t.mu.Unlock()
	}
}
