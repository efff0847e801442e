package coord

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TaskState describes where a task is in its lifecycle.
type TaskState string

const (
	// TaskStateRunning means the task has been created and not yet finished.
	TaskStateRunning TaskState = "running"

	// TaskStateCompleted means the task finished its work normally.
	TaskStateCompleted TaskState = "completed"

	// TaskStateCancelled means the task was cancelled before completing.
	TaskStateCancelled TaskState = "cancelled"
)

// IsTerminal returns true if the state is a final state.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateCancelled
}

// Task is a handle for one cooperative unit of work tracked by the
// coordinators. The handle is keyed by a generated ID; coordinator maps hold
// the handle itself, and observers hold only the ID.
//
// A task derives its context from the parent passed to NewTask, so cancelling
// the parent cancels the task. Cancellation is cooperative: the unit of work
// must watch Context().Done() (or Done()) and stop itself.
type Task struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state TaskState
	done  chan struct{}
}

// NewTask creates a running task bound to the parent context.
func NewTask(parent context.Context) *Task {
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		id:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		state:  TaskStateRunning,
		done:   make(chan struct{}),
	}

	// Mirror parent cancellation into the task state.
	go t.watchContext()

	return t
}

// ID returns the task's generated identifier.
func (t *Task) ID() string {
	return t.id
}

// Context returns the task's context. The unit of work should pass this to
// its blocking calls so cancellation reaches them.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Done returns a channel that is closed when the task reaches a terminal
// state, whether completed or cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cancel moves the task to the cancelled state and cancels its context.
// It returns true if this call performed the transition, false if the task
// had already finished.
func (t *Task) Cancel() bool {
	return t.finish(TaskStateCancelled)
}

// Complete moves the task to the completed state. It returns true if this
// call performed the transition, false if the task had already finished.
func (t *Task) Complete() bool {
	return t.finish(TaskStateCompleted)
}

// finish performs the single transition to a terminal state. The first
// caller wins; every later call is a no-op.
func (t *Task) finish(next TaskState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsTerminal() {
		return false
	}

	t.state = next
	t.cancel()
	close(t.done)
	return true
}

// watchContext turns a context cancellation into a task cancellation. If the
// task finishes first the watcher just exits.
func (t *Task) watchContext() {
	select {
	case <-t.ctx.Done():
		t.finish(TaskStateCancelled)
	case <-t.done:
	}
}
