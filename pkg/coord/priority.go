package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
	"github.com/keelframework/keel/pkg/telemetry"
)

// Sentinel errors for resource acquisition misuse. They are wrapped in
// classified usage errors, so both errors.Is against the sentinel and
// arch.IsUsage against the wrapper match.
var (
	// ErrAlreadyHeld is returned when a requester acquires a resource it
	// already holds.
	ErrAlreadyHeld = errors.New("resource already held by requester")

	// ErrNotHeld is returned when a resource is released but nobody holds it.
	ErrNotHeld = errors.New("resource is not held")

	// ErrNotOwner is returned when a resource is released by a requester
	// that does not hold it.
	ErrNotOwner = errors.New("resource is held by another owner")
)

// ownership records the current holder of a resource. The effective priority
// starts at the holder's own priority and is raised by priority inheritance
// while higher-priority requesters wait.
type ownership struct {
	holder    string
	base      int
	effective int
}

// waiter is one queued acquisition request. Queues are kept ordered, highest
// priority first and first-in-first-out among equal priorities, so the next
// grant is always the queue head. The priority field is the queue priority:
// it starts as the requester's own priority and can be raised when the
// requester inherits a boost.
type waiter struct {
	requester string
	priority  int
	grant     chan struct{}
}

// PriorityCoordinator hands out exclusive ownership of named resources.
// Contended acquisitions queue in priority order, releases hand ownership to
// the highest-priority waiter, and a waiting high-priority requester raises
// the current owner's effective priority (priority inheritance), following
// the owner through any resource it is itself blocked on.
//
// A single mutex serializes every operation; no caller ever observes a
// resource that is simultaneously unowned and wanted.
type PriorityCoordinator struct {
	mu sync.Mutex

	// owners maps resource -> current ownership record
	owners map[string]*ownership

	// waiters maps resource -> ordered queue of pending requests
	waiters map[string][]*waiter

	// waitingOn maps requester -> resource it is blocked on, for walking
	// inheritance chains
	waitingOn map[string]string

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// NewPriorityCoordinator creates a priority coordinator. The metrics and
// events sinks may be nil.
func NewPriorityCoordinator(
	logger zerolog.Logger,
	metrics *telemetry.Metrics,
	events *telemetry.EventPublisher,
) *PriorityCoordinator {
	return &PriorityCoordinator{
		owners:    make(map[string]*ownership),
		waiters:   make(map[string][]*waiter),
		waitingOn: make(map[string]string),
		logger:    logger.With().Str("component", "priority-coordinator").Logger(),
		metrics:   metrics,
		events:    events,
	}
}

// Acquire requests exclusive ownership of a resource.
//
// An unowned resource is granted immediately. A resource the requester
// already holds returns ErrAlreadyHeld. Otherwise the caller is enqueued by
// priority (first-in-first-out among equals), the owner's effective priority
// is boosted if this request outranks it, and the call suspends until
// ownership transfers or ctx is cancelled. On cancellation the waiter is
// withdrawn; a grant that raced the cancellation is passed to the next
// waiter instead of being lost.
func (pc *PriorityCoordinator) Acquire(ctx context.Context, resource, requester string, priority int) error {
	if resource == "" || requester == "" {
		return arch.NewUsageError("resource and requester must be non-empty", nil).
			WithCode(arch.ErrCodeInvalidInput).
			WithOperation("Acquire")
	}

	pc.mu.Lock()
	own, held := pc.owners[resource]
	if !held {
		pc.owners[resource] = &ownership{holder: requester, base: priority, effective: priority}
		pc.mu.Unlock()

		pc.logger.Debug().
			Str("resource", resource).
			Str("requester", requester).
			Int("priority", priority).
			Msg("Resource granted")

		pc.metrics.RecordAcquisition("granted")
		if pc.events != nil {
			pc.events.PublishResourceGranted(resource, requester)
		}
		return nil
	}

	if own.holder == requester {
		pc.mu.Unlock()
		pc.metrics.RecordAcquisition("rejected")
		return arch.NewUsageError(
			fmt.Sprintf("requester %s already holds resource %s", requester, resource),
			ErrAlreadyHeld,
		).WithCode(arch.ErrCodeAlreadyHeld).WithOperation("Acquire")
	}

	w := &waiter{requester: requester, priority: priority, grant: make(chan struct{})}
	pc.enqueueLocked(resource, w)
	pc.waitingOn[requester] = resource
	pc.boostLocked(resource, priority)
	waiting := len(pc.waiters[resource])
	holder := own.holder
	pc.mu.Unlock()

	pc.logger.Debug().
		Str("resource", resource).
		Str("requester", requester).
		Str("holder", holder).
		Int("priority", priority).
		Int("waiters", waiting).
		Msg("Waiting for resource")

	pc.metrics.RecordAcquisition("queued")
	pc.metrics.SetResourceWaiters(resource, float64(waiting))

	start := time.Now()
	select {
	case <-w.grant:
		pc.metrics.ObserveAcquireWait(resource, time.Since(start))
		if pc.events != nil {
			pc.events.PublishResourceGranted(resource, requester)
		}
		return nil

	case <-ctx.Done():
		pc.mu.Lock()
		select {
		case <-w.grant:
			// The grant won the race: we own the resource but the caller is
			// gone, so hand it straight to the next waiter.
			pc.handOffLocked(resource)
			pc.mu.Unlock()
			pc.metrics.RecordAcquisition("cancelled")
			return ctx.Err()
		default:
		}
		pc.removeWaiterLocked(resource, w)
		delete(pc.waitingOn, requester)
		pc.recomputeLocked(resource)
		waiting := len(pc.waiters[resource])
		pc.mu.Unlock()

		pc.logger.Debug().
			Str("resource", resource).
			Str("requester", requester).
			Msg("Acquisition cancelled while waiting")

		pc.metrics.RecordAcquisition("cancelled")
		pc.metrics.SetResourceWaiters(resource, float64(waiting))
		return ctx.Err()
	}
}

// Release gives up ownership of a resource.
//
// Releasing an unowned resource returns ErrNotHeld; releasing a resource
// held by someone else returns ErrNotOwner. When waiters exist, the
// highest-priority one (first-in-first-out among equals) is installed as the
// new owner and signalled inside the same critical section, so the resource
// is never simultaneously unowned and wanted.
func (pc *PriorityCoordinator) Release(resource, requester string) error {
	if resource == "" || requester == "" {
		return arch.NewUsageError("resource and requester must be non-empty", nil).
			WithCode(arch.ErrCodeInvalidInput).
			WithOperation("Release")
	}

	pc.mu.Lock()
	own, held := pc.owners[resource]
	if !held {
		pc.mu.Unlock()
		return arch.NewUsageError(
			fmt.Sprintf("resource %s is not held", resource),
			ErrNotHeld,
		).WithCode(arch.ErrCodeNotHeld).WithOperation("Release")
	}
	if own.holder != requester {
		holder := own.holder
		pc.mu.Unlock()
		return arch.NewUsageError(
			fmt.Sprintf("resource %s is held by %s, not %s", resource, holder, requester),
			ErrNotOwner,
		).WithCode(arch.ErrCodeNotOwner).WithOperation("Release")
	}

	next := pc.handOffLocked(resource)
	waiting := len(pc.waiters[resource])
	pc.mu.Unlock()

	if next != nil {
		pc.logger.Debug().
			Str("resource", resource).
			Str("from", requester).
			Str("to", next.requester).
			Int("priority", next.priority).
			Msg("Resource handed off")
	} else {
		pc.logger.Debug().
			Str("resource", resource).
			Str("requester", requester).
			Msg("Resource released")
	}

	pc.metrics.SetResourceWaiters(resource, float64(waiting))
	if pc.events != nil {
		pc.events.PublishResourceReleased(resource, requester)
	}

	return nil
}

// Owner returns the current holder of a resource, if any.
func (pc *PriorityCoordinator) Owner(resource string) (string, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	own, held := pc.owners[resource]
	if !held {
		return "", false
	}
	return own.holder, true
}

// EffectivePriority returns the holder's priority after inheritance, if the
// resource is held.
func (pc *PriorityCoordinator) EffectivePriority(resource string) (int, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	own, held := pc.owners[resource]
	if !held {
		return 0, false
	}
	return own.effective, true
}

// WaiterCount returns the number of requests queued behind a resource.
func (pc *PriorityCoordinator) WaiterCount(resource string) int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.waiters[resource])
}

// enqueueLocked inserts a waiter keeping the queue ordered: highest priority
// first, first-in-first-out among equal priorities. Callers must hold pc.mu.
func (pc *PriorityCoordinator) enqueueLocked(resource string, w *waiter) {
	queue := pc.waiters[resource]

	pos := len(queue)
	for i, existing := range queue {
		if w.priority > existing.priority {
			pos = i
			break
		}
	}

	queue = append(queue, nil)
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = w
	pc.waiters[resource] = queue
}

// removeWaiterLocked withdraws a waiter from a queue. Callers must hold pc.mu.
func (pc *PriorityCoordinator) removeWaiterLocked(resource string, w *waiter) {
	queue := pc.waiters[resource]
	for i, cand := range queue {
		if cand == w {
			copy(queue[i:], queue[i+1:])
			queue = queue[:len(queue)-1]
			if len(queue) == 0 {
				delete(pc.waiters, resource)
			} else {
				pc.waiters[resource] = queue
			}
			return
		}
	}
}

// handOffLocked transfers ownership away from the current holder: the queue
// head becomes the new owner and is signalled, or the ownership record is
// destroyed when nobody waits. Callers must hold pc.mu.
func (pc *PriorityCoordinator) handOffLocked(resource string) *waiter {
	queue := pc.waiters[resource]
	if len(queue) == 0 {
		delete(pc.owners, resource)
		delete(pc.waiters, resource)
		return nil
	}

	next := queue[0]
	queue = queue[1:]
	if len(queue) == 0 {
		delete(pc.waiters, resource)
	} else {
		pc.waiters[resource] = queue
	}

	delete(pc.waitingOn, next.requester)
	pc.owners[resource] = &ownership{
		holder:    next.requester,
		base:      next.priority,
		effective: next.priority,
	}

	// The new owner inherits from whoever is still queued behind it.
	pc.recomputeLocked(resource)

	close(next.grant)
	return next
}

// boostLocked applies priority inheritance: the owner's effective priority is
// raised to the highest waiting priority, and the boost follows the owner
// through any resource it is itself blocked on. The visited set stops the
// walk if blocked-on records form a loop. Callers must hold pc.mu.
func (pc *PriorityCoordinator) boostLocked(resource string, priority int) {
	visited := make(map[string]bool)

	for resource != "" && !visited[resource] {
		visited[resource] = true

		own := pc.owners[resource]
		if own == nil {
			return
		}

		if queue := pc.waiters[resource]; len(queue) > 0 && queue[0].priority > priority {
			priority = queue[0].priority
		}
		if priority <= own.effective {
			return
		}

		from := own.effective
		own.effective = priority

		pc.logger.Debug().
			Str("resource", resource).
			Str("owner", own.holder).
			Int("from", from).
			Int("to", priority).
			Msg("Priority inherited")

		pc.metrics.RecordPriorityBoost()
		if pc.events != nil {
			pc.events.PublishPriorityBoosted(resource, own.holder, from, priority)
		}

		resource = pc.waitingOn[own.holder]
	}
}

// recomputeLocked resets a holder's effective priority to its base, then
// re-applies inheritance from the current queue head. Used after a waiter
// leaves the queue. Callers must hold pc.mu.
func (pc *PriorityCoordinator) recomputeLocked(resource string) {
	own := pc.owners[resource]
	if own == nil {
		return
	}

	effective := own.base
	if queue := pc.waiters[resource]; len(queue) > 0 && queue[0].priority > effective {
		effective = queue[0].priority
	}
	own.effective = effective
}
