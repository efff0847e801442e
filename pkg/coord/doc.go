// Package coord provides the runtime coordination services of the Keel
// framework: scope-linked cancellation, deadlock detection for cross-scope
// calls, and priority-ordered resource ownership.
//
// # Overview
//
// Where pkg/arch checks the static shape of a component system, coord
// manages its runtime behavior. Three independent services are provided:
//
//   - CancellationCoordinator: links owner scopes to dependent tasks, so
//     cancelling an owner cancels everything registered under it
//   - DeadlockGuard: bounds the wait on cross-scope calls and reports a
//     DeadlockError when a call never resolves
//   - PriorityCoordinator: exclusive ownership of named resources with
//     priority-ordered hand-off and priority inheritance
//
// # Task Model
//
// A Task is the handle for one cooperative unit of work. It wraps a derived
// context, so cancelling the parent context cancels the task, and exposes a
// Done channel that closes when the task reaches a terminal state:
//
//	task := coord.NewTask(ctx)
//	go func() {
//	    defer task.Complete()
//	    work(task.Context())
//	}()
//
// Cancellation is cooperative: the unit of work must watch its context and
// stop itself. Tasks are keyed by generated IDs; coordinator bookkeeping is
// a keyed table, and removal is a keyed delete.
//
// # Cancellation Propagation
//
// Register an owner task for a scope and dependent tasks under it:
//
//	c.RegisterOwnerTask(ownerTask, "checkout")
//	c.RegisterDependentTask(depTask, "checkout-worker", "checkout")
//
// When the owner task is cancelled, a monitor propagates: every task under
// every dependent scope of "checkout" is cancelled, and the owner's
// bookkeeping is cleared, all in one step. UnregisterScope is the
// non-cancelling teardown for ordinary shutdown.
//
// # Deadlock Detection
//
// Detect races an operation against a timer:
//
//	value, err := coord.Detect(ctx, 5*time.Second, func(ctx context.Context) (string, error) {
//	    return callOtherScope(ctx)
//	})
//	if coord.IsDeadlock(err) {
//	    // the call never resolved
//	}
//
// The operation's own outcome always wins when both resolve together; a
// timer that merely lost the race is never reported as a deadlock.
//
// # Resource Ownership
//
// Acquire suspends while a resource is held elsewhere; Release hands the
// resource to the highest-priority waiter in the same step:
//
//	if err := pc.Acquire(ctx, "db-writer", "checkout", 10); err != nil {
//	    return err
//	}
//	defer pc.Release("db-writer", "checkout")
//
// While a higher-priority requester waits, the current owner's effective
// priority is raised to match it, following the owner through any resource
// it is itself blocked on.
//
// # Error Classification
//
// Misuse of mutation calls returns classified usage errors wrapping the
// package sentinels, so both forms of inspection work:
//
//	if errors.Is(err, coord.ErrNotOwner) { ... }
//	if arch.IsUsage(err) { ... }
//
// The deadlock timeout is the one runtime anomaly and surfaces as a
// *DeadlockError.
//
// # Thread Safety
//
// Each coordinator serializes its operations behind a single mutex; any
// number of goroutines may call into one instance concurrently, and none
// ever observes a partially applied mutation.
package coord
