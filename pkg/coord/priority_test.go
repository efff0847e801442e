package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
)

func newTestPriorityCoordinator() *PriorityCoordinator {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	return NewPriorityCoordinator(logger, nil, nil)
}

func TestAcquire_Unowned(t *testing.T) {
	pc := newTestPriorityCoordinator()

	if err := pc.Acquire(context.Background(), "db-writer", "checkout", 5); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	owner, held := pc.Owner("db-writer")
	if !held || owner != "checkout" {
		t.Errorf("Expected owner checkout, got %q (held=%v)", owner, held)
	}

	eff, held := pc.EffectivePriority("db-writer")
	if !held || eff != 5 {
		t.Errorf("Expected effective priority 5, got %d (held=%v)", eff, held)
	}

	if n := pc.WaiterCount("db-writer"); n != 0 {
		t.Errorf("Expected 0 waiters, got %d", n)
	}
}

func TestAcquire_AlreadyHeld(t *testing.T) {
	pc := newTestPriorityCoordinator()
	ctx := context.Background()

	if err := pc.Acquire(ctx, "db-writer", "checkout", 5); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	err := pc.Acquire(ctx, "db-writer", "checkout", 5)
	if err == nil {
		t.Fatal("Expected error for re-acquiring a held resource, got nil")
	}
	if !errors.Is(err, ErrAlreadyHeld) {
		t.Errorf("Expected ErrAlreadyHeld, got: %v", err)
	}
	if !arch.IsUsage(err) {
		t.Errorf("Expected usage error class, got: %v", err)
	}
	if !arch.HasCode(err, arch.ErrCodeAlreadyHeld) {
		t.Errorf("Expected code %s, got: %v", arch.ErrCodeAlreadyHeld, err)
	}

	owner, _ := pc.Owner("db-writer")
	if owner != "checkout" {
		t.Errorf("Expected ownership unchanged, got %q", owner)
	}
}

func TestAcquire_InvalidInput(t *testing.T) {
	pc := newTestPriorityCoordinator()
	ctx := context.Background()

	if err := pc.Acquire(ctx, "", "checkout", 5); err == nil || !arch.IsUsage(err) {
		t.Errorf("Expected usage error for empty resource, got: %v", err)
	}
	if err := pc.Acquire(ctx, "db-writer", "", 5); err == nil || !arch.IsUsage(err) {
		t.Errorf("Expected usage error for empty requester, got: %v", err)
	}
}

func TestRelease_NotHeld(t *testing.T) {
	pc := newTestPriorityCoordinator()

	err := pc.Release("db-writer", "checkout")
	if err == nil {
		t.Fatal("Expected error for releasing an unheld resource, got nil")
	}
	if !errors.Is(err, ErrNotHeld) {
		t.Errorf("Expected ErrNotHeld, got: %v", err)
	}
	if !arch.HasCode(err, arch.ErrCodeNotHeld) {
		t.Errorf("Expected code %s, got: %v", arch.ErrCodeNotHeld, err)
	}
}

func TestRelease_NotOwner(t *testing.T) {
	pc := newTestPriorityCoordinator()

	if err := pc.Acquire(context.Background(), "db-writer", "checkout", 5); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	err := pc.Release("db-writer", "catalog")
	if err == nil {
		t.Fatal("Expected error for releasing someone else's resource, got nil")
	}
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got: %v", err)
	}
	if !arch.HasCode(err, arch.ErrCodeNotOwner) {
		t.Errorf("Expected code %s, got: %v", arch.ErrCodeNotOwner, err)
	}

	owner, _ := pc.Owner("db-writer")
	if owner != "checkout" {
		t.Errorf("Expected ownership unchanged, got %q", owner)
	}
}

func TestRelease_NoWaiters(t *testing.T) {
	pc := newTestPriorityCoordinator()

	pc.Acquire(context.Background(), "db-writer", "checkout", 5)
	if err := pc.Release("db-writer", "checkout"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, held := pc.Owner("db-writer"); held {
		t.Error("Expected resource to be unowned after release")
	}
	if _, held := pc.EffectivePriority("db-writer"); held {
		t.Error("Expected no effective priority for an unowned resource")
	}
}

func TestPriorityOrderedHandOff(t *testing.T) {
	pc := newTestPriorityCoordinator()
	ctx := context.Background()

	// A holds with low priority; B (high) and C (medium) arrive in that order.
	if err := pc.Acquire(ctx, "db-writer", "A", 1); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	granted := make(chan string, 2)

	go func() {
		if err := pc.Acquire(ctx, "db-writer", "B", 10); err == nil {
			granted <- "B"
		}
	}()
	waitForCondition(t, time.Second, "B to queue", func() bool {
		return pc.WaiterCount("db-writer") == 1
	})

	go func() {
		if err := pc.Acquire(ctx, "db-writer", "C", 5); err == nil {
			granted <- "C"
		}
	}()
	waitForCondition(t, time.Second, "C to queue", func() bool {
		return pc.WaiterCount("db-writer") == 2
	})

	// Hand-off follows priority, not arrival order.
	if err := pc.Release("db-writer", "A"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	select {
	case got := <-granted:
		if got != "B" {
			t.Fatalf("Expected B granted first, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the first hand-off")
	}

	owner, _ := pc.Owner("db-writer")
	if owner != "B" {
		t.Errorf("Expected owner B, got %q", owner)
	}
	if n := pc.WaiterCount("db-writer"); n != 1 {
		t.Errorf("Expected 1 remaining waiter, got %d", n)
	}

	if err := pc.Release("db-writer", "B"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	select {
	case got := <-granted:
		if got != "C" {
			t.Fatalf("Expected C granted second, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the second hand-off")
	}

	if err := pc.Release("db-writer", "C"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, held := pc.Owner("db-writer"); held {
		t.Error("Expected resource to be unowned at the end")
	}
}

func TestHandOff_FIFOAmongEqualPriorities(t *testing.T) {
	pc := newTestPriorityCoordinator()
	ctx := context.Background()

	if err := pc.Acquire(ctx, "db-writer", "A", 5); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	granted := make(chan string, 2)

	go func() {
		if err := pc.Acquire(ctx, "db-writer", "first", 5); err == nil {
			granted <- "first"
		}
	}()
	waitForCondition(t, time.Second, "first to queue", func() bool {
		return pc.WaiterCount("db-writer") == 1
	})

	go func() {
		if err := pc.Acquire(ctx, "db-writer", "second", 5); err == nil {
			granted <- "second"
		}
	}()
	waitForCondition(t, time.Second, "second to queue", func() bool {
		return pc.WaiterCount("db-writer") == 2
	})

	if err := pc.Release("db-writer", "A"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	select {
	case got := <-granted:
		if got != "first" {
			t.Fatalf("Expected first-in-first-out among equals, got %s first", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the hand-off")
	}
}

func TestPriorityInheritance(t *testing.T) {
	pc := newTestPriorityCoordinator()
	ctx := context.Background()

	if err := pc.Acquire(ctx, "db-writer", "A", 1); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	granted := make(chan struct{})
	go func() {
		if err := pc.Acquire(ctx, "db-writer", "B", 10); err == nil {
			close(granted)
		}
	}()
	waitForCondition(t, time.Second, "B to queue", func() bool {
		return pc.WaiterCount("db-writer") == 1
	})

	// A's effective priority is boosted to the highest waiter's priority.
	eff, _ := pc.EffectivePriority("db-writer")
	if eff != 10 {
		t.Errorf("Expected effective priority 10 while B waits, got %d", eff)
	}

	if err := pc.Release("db-writer", "A"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the hand-off")
	}

	// The new owner runs at its own priority.
	eff, _ = pc.EffectivePriority("db-writer")
	if eff != 10 {
		t.Errorf("Expected effective priority 10 for B, got %d", eff)
	}

	pc.Release("db-writer", "B")
}

func TestPriorityInheritance_FollowsBlockedOwner(t *testing.T) {
	pc := newTestPriorityCoordinator()
	ctx := context.Background()

	// Z holds r2; A holds r1 and is itself queued behind r2.
	if err := pc.Acquire(ctx, "r2", "Z", 2); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := pc.Acquire(ctx, "r1", "A", 1); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	aGot := make(chan struct{})
	go func() {
		if err := pc.Acquire(ctx, "r2", "A", 1); err == nil {
			close(aGot)
		}
	}()
	waitForCondition(t, time.Second, "A to queue behind r2", func() bool {
		return pc.WaiterCount("r2") == 1
	})

	// B's wait on r1 boosts A, and through A's blocked-on record, Z.
	bGot := make(chan struct{})
	go func() {
		if err := pc.Acquire(ctx, "r1", "B", 10); err == nil {
			close(bGot)
		}
	}()
	waitForCondition(t, time.Second, "B to queue behind r1", func() bool {
		return pc.WaiterCount("r1") == 1
	})

	if eff, _ := pc.EffectivePriority("r1"); eff != 10 {
		t.Errorf("Expected effective priority 10 on r1, got %d", eff)
	}
	if eff, _ := pc.EffectivePriority("r2"); eff != 10 {
		t.Errorf("Expected inherited priority 10 on r2, got %d", eff)
	}

	// Unwind: Z passes r2 to A, whose boost does not outlive the hand-off.
	if err := pc.Release("r2", "Z"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	select {
	case <-aGot:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for A to acquire r2")
	}

	if eff, _ := pc.EffectivePriority("r2"); eff != 1 {
		t.Errorf("Expected effective priority 1 after hand-off to A, got %d", eff)
	}

	pc.Release("r2", "A")
	if err := pc.Release("r1", "A"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	select {
	case <-bGot:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for B to acquire r1")
	}
	pc.Release("r1", "B")
}

func TestAcquire_CancelledWaiter(t *testing.T) {
	pc := newTestPriorityCoordinator()
	ctx := context.Background()

	if err := pc.Acquire(ctx, "db-writer", "A", 1); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- pc.Acquire(waitCtx, "db-writer", "B", 10)
	}()
	waitForCondition(t, time.Second, "B to queue", func() bool {
		return pc.WaiterCount("db-writer") == 1
	})

	if eff, _ := pc.EffectivePriority("db-writer"); eff != 10 {
		t.Errorf("Expected boosted priority 10, got %d", eff)
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the cancelled acquisition to return")
	}

	// The withdrawn waiter leaves no residue: queue empty, boost reverted.
	if n := pc.WaiterCount("db-writer"); n != 0 {
		t.Errorf("Expected 0 waiters after cancellation, got %d", n)
	}
	if eff, _ := pc.EffectivePriority("db-writer"); eff != 1 {
		t.Errorf("Expected effective priority back to 1, got %d", eff)
	}

	if err := pc.Release("db-writer", "A"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, held := pc.Owner("db-writer"); held {
		t.Error("Expected resource to be unowned after release with no waiters")
	}
}

func TestOwner_UnknownResource(t *testing.T) {
	pc := newTestPriorityCoordinator()

	if _, held := pc.Owner("ghost"); held {
		t.Error("Expected unknown resource to be unowned")
	}
	if _, held := pc.EffectivePriority("ghost"); held {
		t.Error("Expected no effective priority for an unknown resource")
	}
	if n := pc.WaiterCount("ghost"); n != 0 {
		t.Errorf("Expected 0 waiters for an unknown resource, got %d", n)
	}
}
