package coord

import (
	"context"
	"testing"
	"time"
)

// waitForDone fails the test if the task does not reach a terminal state
// within the timeout.
func waitForDone(t *testing.T, task *Task, timeout time.Duration) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(timeout):
		t.Fatalf("Task %s did not finish within %s", task.ID(), timeout)
	}
}

// expectStillRunning fails the test if the task finishes within the grace
// window.
func expectStillRunning(t *testing.T, task *Task, grace time.Duration) {
	t.Helper()
	select {
	case <-task.Done():
		t.Fatalf("Expected task %s to keep running, finished as %s", task.ID(), task.State())
	case <-time.After(grace):
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask(context.Background())

	if task.ID() == "" {
		t.Error("Expected non-empty task ID")
	}

	if task.State() != TaskStateRunning {
		t.Errorf("Expected state %s, got %s", TaskStateRunning, task.State())
	}

	select {
	case <-task.Done():
		t.Error("Expected done channel to be open for a running task")
	default:
	}

	if task.Context().Err() != nil {
		t.Errorf("Expected live context, got: %v", task.Context().Err())
	}
}

func TestTask_Complete(t *testing.T) {
	task := NewTask(context.Background())

	if !task.Complete() {
		t.Fatal("Expected first Complete to perform the transition")
	}

	waitForDone(t, task, time.Second)

	if task.State() != TaskStateCompleted {
		t.Errorf("Expected state %s, got %s", TaskStateCompleted, task.State())
	}

	// The first transition wins; later calls are no-ops.
	if task.Complete() {
		t.Error("Expected second Complete to be a no-op")
	}
	if task.Cancel() {
		t.Error("Expected Cancel after Complete to be a no-op")
	}
	if task.State() != TaskStateCompleted {
		t.Errorf("Expected state to stay %s, got %s", TaskStateCompleted, task.State())
	}
}

func TestTask_Cancel(t *testing.T) {
	task := NewTask(context.Background())

	if !task.Cancel() {
		t.Fatal("Expected first Cancel to perform the transition")
	}

	waitForDone(t, task, time.Second)

	if task.State() != TaskStateCancelled {
		t.Errorf("Expected state %s, got %s", TaskStateCancelled, task.State())
	}

	if task.Context().Err() == nil {
		t.Error("Expected task context to be cancelled")
	}
}

func TestTask_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := NewTask(ctx)

	cancel()

	waitForDone(t, task, time.Second)

	if task.State() != TaskStateCancelled {
		t.Errorf("Expected state %s after parent cancellation, got %s", TaskStateCancelled, task.State())
	}
}

func TestTask_CompleteBeatsParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := NewTask(ctx)
	task.Complete()
	waitForDone(t, task, time.Second)

	cancel()

	if task.State() != TaskStateCompleted {
		t.Errorf("Expected state %s, got %s", TaskStateCompleted, task.State())
	}
}

func TestTaskState_IsTerminal(t *testing.T) {
	if TaskStateRunning.IsTerminal() {
		t.Error("Expected running to be non-terminal")
	}
	if !TaskStateCompleted.IsTerminal() {
		t.Error("Expected completed to be terminal")
	}
	if !TaskStateCancelled.IsTerminal() {
		t.Error("Expected cancelled to be terminal")
	}
}
