package coord

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
	"github.com/keelframework/keel/pkg/telemetry"
)

// CancellationCoordinator links the lifetime of owner scopes to the dependent
// tasks registered under them. When an owner scope's task is cancelled, every
// task registered under the owner's dependent scopes is cancelled as well,
// and all bookkeeping for the owner is cleared in the same step.
//
// All maps are guarded by a single mutex: every operation on a coordinator
// executes one at a time, so concurrent callers never observe a partially
// applied mutation.
type CancellationCoordinator struct {
	mu sync.Mutex

	// ownerTasks maps owner scope -> task ID -> task
	ownerTasks map[string]map[string]*Task

	// dependents maps owner scope -> set of dependent scope names
	dependents map[string]map[string]struct{}

	// dependentTasks maps dependent scope -> task ID -> task
	dependentTasks map[string]map[string]*Task

	// propagations counts completed cancellation propagations
	propagations uint64

	// tasksCancelled counts dependent tasks cancelled by propagation
	tasksCancelled uint64

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// CoordinatorStats reports a point-in-time snapshot of a coordinator's
// bookkeeping, plus its lifetime propagation counters.
type CoordinatorStats struct {
	OwnerScopes     int    `json:"owner_scopes"`
	DependentScopes int    `json:"dependent_scopes"`
	OwnerTasks      int    `json:"owner_tasks"`
	DependentTasks  int    `json:"dependent_tasks"`
	Propagations    uint64 `json:"propagations"`
	TasksCancelled  uint64 `json:"tasks_cancelled"`
}

// NewCancellationCoordinator creates a cancellation coordinator. The metrics
// and events sinks may be nil.
func NewCancellationCoordinator(
	logger zerolog.Logger,
	metrics *telemetry.Metrics,
	events *telemetry.EventPublisher,
) *CancellationCoordinator {
	return &CancellationCoordinator{
		ownerTasks:     make(map[string]map[string]*Task),
		dependents:     make(map[string]map[string]struct{}),
		dependentTasks: make(map[string]map[string]*Task),
		logger:         logger.With().Str("component", "cancellation-coordinator").Logger(),
		metrics:        metrics,
		events:         events,
	}
}

// RegisterOwnerTask records a task under an owner scope and starts a monitor
// that waits for the task to finish. If the task finishes cancelled, the
// monitor propagates cancellation for the owner scope.
func (c *CancellationCoordinator) RegisterOwnerTask(task *Task, ownerScope string) error {
	if task == nil {
		return arch.NewUsageError("task is nil", nil).
			WithCode(arch.ErrCodeInvalidInput).
			WithOperation("RegisterOwnerTask")
	}
	if ownerScope == "" {
		return arch.NewUsageError("owner scope is empty", nil).
			WithCode(arch.ErrCodeInvalidInput).
			WithOperation("RegisterOwnerTask")
	}

	c.mu.Lock()
	scope, exists := c.ownerTasks[ownerScope]
	if !exists {
		scope = make(map[string]*Task)
		c.ownerTasks[ownerScope] = scope
		c.metrics.IncActiveScopes()
	}
	scope[task.ID()] = task
	c.mu.Unlock()

	c.logger.Debug().
		Str("scope", ownerScope).
		Str("task_id", task.ID()).
		Msg("Owner task registered")

	if !exists && c.events != nil {
		c.events.PublishScopeRegistered(ownerScope)
	}

	go c.monitorOwnerTask(task, ownerScope)

	return nil
}

// RegisterDependentTask records a task under a dependent scope and associates
// the dependent scope with its owner, so cancellation of the owner reaches
// the task.
func (c *CancellationCoordinator) RegisterDependentTask(task *Task, dependentScope, ownerScope string) error {
	if task == nil {
		return arch.NewUsageError("task is nil", nil).
			WithCode(arch.ErrCodeInvalidInput).
			WithOperation("RegisterDependentTask")
	}
	if dependentScope == "" || ownerScope == "" {
		return arch.NewUsageError("dependent and owner scopes must be non-empty", nil).
			WithCode(arch.ErrCodeInvalidInput).
			WithOperation("RegisterDependentTask")
	}

	c.mu.Lock()
	if _, ok := c.dependents[ownerScope]; !ok {
		c.dependents[ownerScope] = make(map[string]struct{})
	}
	c.dependents[ownerScope][dependentScope] = struct{}{}

	if _, ok := c.dependentTasks[dependentScope]; !ok {
		c.dependentTasks[dependentScope] = make(map[string]*Task)
	}
	c.dependentTasks[dependentScope][task.ID()] = task
	c.mu.Unlock()

	c.logger.Debug().
		Str("scope", dependentScope).
		Str("owner", ownerScope).
		Str("task_id", task.ID()).
		Msg("Dependent task registered")

	return nil
}

// PropagateCancellation cancels every task registered under every dependent
// scope of the owner, then clears the owner's bookkeeping. Cancellation and
// cleanup happen in one critical section, so no caller can observe an owner
// whose dependents are only partially cancelled. It returns the number of
// tasks this call cancelled.
func (c *CancellationCoordinator) PropagateCancellation(ownerScope string) int {
	c.mu.Lock()
	cancelled := c.propagateLocked(ownerScope)
	c.mu.Unlock()

	c.logger.Info().
		Str("scope", ownerScope).
		Int("tasks_cancelled", cancelled).
		Msg("Cancellation propagated")

	c.metrics.RecordCancellationPropagated(cancelled)
	if c.events != nil {
		c.events.PublishCancellationPropagated(ownerScope, cancelled)
	}

	return cancelled
}

// propagateLocked does the actual propagation. Callers must hold c.mu.
func (c *CancellationCoordinator) propagateLocked(ownerScope string) int {
	cancelled := 0
	for dep := range c.dependents[ownerScope] {
		for _, task := range c.dependentTasks[dep] {
			if task.Cancel() {
				cancelled++
			}
		}
		delete(c.dependentTasks, dep)
	}
	delete(c.dependents, ownerScope)

	if _, ok := c.ownerTasks[ownerScope]; ok {
		delete(c.ownerTasks, ownerScope)
		c.metrics.DecActiveScopes()
	}

	c.propagations++
	c.tasksCancelled += uint64(cancelled)

	return cancelled
}

// UnregisterScope tears down an owner scope without cancelling anything.
// It clears the owner's tasks, its dependent associations, and the task
// tables of those dependents. Used on ordinary shutdown, where the dependent
// tasks are expected to finish on their own.
func (c *CancellationCoordinator) UnregisterScope(ownerScope string) {
	c.mu.Lock()
	for dep := range c.dependents[ownerScope] {
		delete(c.dependentTasks, dep)
	}
	delete(c.dependents, ownerScope)

	if _, ok := c.ownerTasks[ownerScope]; ok {
		delete(c.ownerTasks, ownerScope)
		c.metrics.DecActiveScopes()
	}
	c.mu.Unlock()

	c.logger.Debug().Str("scope", ownerScope).Msg("Scope unregistered")

	if c.events != nil {
		c.events.PublishScopeUnregistered(ownerScope)
	}
}

// monitorOwnerTask waits for an owner task to finish and propagates
// cancellation if it finished cancelled. A scope can be torn down and
// registered again while an old monitor is still waiting, so the monitor
// first checks that this exact task is still registered; a stale monitor
// from an earlier registration never fires on the re-registered scope.
func (c *CancellationCoordinator) monitorOwnerTask(task *Task, ownerScope string) {
	<-task.Done()

	if task.State() != TaskStateCancelled {
		c.mu.Lock()
		if tasks, ok := c.ownerTasks[ownerScope]; ok {
			delete(tasks, task.ID())
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	tasks, ok := c.ownerTasks[ownerScope]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, ok := tasks[task.ID()]; !ok {
		c.mu.Unlock()
		return
	}
	cancelled := c.propagateLocked(ownerScope)
	c.mu.Unlock()

	c.logger.Warn().
		Str("scope", ownerScope).
		Str("task_id", task.ID()).
		Int("tasks_cancelled", cancelled).
		Msg("Owner task cancelled, propagating to dependents")

	c.metrics.RecordCancellationPropagated(cancelled)
	if c.events != nil {
		c.events.PublishScopeCancelled(ownerScope)
		c.events.PublishCancellationPropagated(ownerScope, cancelled)
	}
}

// OwnerScopes returns the registered owner scopes in sorted order.
func (c *CancellationCoordinator) OwnerScopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedScopeKeys(c.ownerTasks)
}

// DependentScopes returns the dependent scopes associated with an owner in
// sorted order.
func (c *CancellationCoordinator) DependentScopes(ownerScope string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	deps := make([]string, 0, len(c.dependents[ownerScope]))
	for dep := range c.dependents[ownerScope] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// TaskCount returns the number of tasks registered under a scope, counting
// both owner and dependent registrations.
func (c *CancellationCoordinator) TaskCount(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ownerTasks[scope]) + len(c.dependentTasks[scope])
}

// Stats returns a snapshot of the coordinator's bookkeeping.
func (c *CancellationCoordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CoordinatorStats{
		OwnerScopes:     len(c.ownerTasks),
		DependentScopes: len(c.dependentTasks),
		Propagations:    c.propagations,
		TasksCancelled:  c.tasksCancelled,
	}
	for _, tasks := range c.ownerTasks {
		stats.OwnerTasks += len(tasks)
	}
	for _, tasks := range c.dependentTasks {
		stats.DependentTasks += len(tasks)
	}
	return stats
}

// sortedScopeKeys returns the keys of a scope map in sorted order.
func sortedScopeKeys(m map[string]map[string]*Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
