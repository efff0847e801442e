package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Keel system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ValidationID is the associated validation run ID, if applicable.
	ValidationID string `json:"validation_id,omitempty"`

	// Scope is the associated cancellation scope, if applicable.
	Scope string `json:"scope,omitempty"`

	// Resource is the associated coordinated resource, if applicable.
	Resource string `json:"resource,omitempty"`

	// Component is the associated architectural component, if applicable.
	Component string `json:"component,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeValidationStarted      = "validation.started"
	EventTypeValidationCompleted    = "validation.completed"
	EventTypeValidationFailed       = "validation.failed"
	EventTypeCycleDetected          = "graph.cycle_detected"
	EventTypeFlowViolation          = "flow.violation"
	EventTypePolicyViolation        = "policy.violation"
	EventTypeScopeRegistered        = "scope.registered"
	EventTypeScopeCancelled         = "scope.cancelled"
	EventTypeScopeUnregistered      = "scope.unregistered"
	EventTypeCancellationPropagated = "scope.cancellation_propagated"
	EventTypeDeadlockDetected       = "deadlock.detected"
	EventTypeResourceGranted        = "resource.granted"
	EventTypeResourceReleased       = "resource.released"
	EventTypePriorityBoosted        = "resource.priority_boosted"
	EventTypeError                  = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishValidationStarted publishes a validation started event.
func (ep *EventPublisher) PublishValidationStarted(validationID string, componentCount int) error {
	return ep.Publish(Event{
		Type:         EventTypeValidationStarted,
		Source:       "graph",
		ValidationID: validationID,
		Message:      fmt.Sprintf("Validation %s started over %d components", validationID, componentCount),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"component_count": componentCount,
		},
	})
}

// PublishValidationCompleted publishes a validation completed event.
func (ep *EventPublisher) PublishValidationCompleted(validationID string, valid bool, duration time.Duration) error {
	level := EventLevelInfo
	if !valid {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:         EventTypeValidationCompleted,
		Source:       "graph",
		ValidationID: validationID,
		Message:      fmt.Sprintf("Validation %s completed (valid=%t)", validationID, valid),
		Level:        level,
		Data: map[string]interface{}{
			"valid":    valid,
			"duration": duration.Seconds(),
		},
	})
}

// PublishValidationFailed publishes a validation failed event.
func (ep *EventPublisher) PublishValidationFailed(validationID, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeValidationFailed,
		Source:       "graph",
		ValidationID: validationID,
		Message:      fmt.Sprintf("Validation %s failed: %s", validationID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishCycleDetected publishes a cycle detected event.
func (ep *EventPublisher) PublishCycleDetected(validationID, kind, cycle string) error {
	return ep.Publish(Event{
		Type:         EventTypeCycleDetected,
		Source:       "graph",
		ValidationID: validationID,
		Message:      fmt.Sprintf("Dependency cycle detected in %s graph: %s", kind, cycle),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"kind":  kind,
			"cycle": cycle,
		},
	})
}

// PublishFlowViolation publishes a layer flow violation event.
func (ep *EventPublisher) PublishFlowViolation(fromLayer, toLayer, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeFlowViolation,
		Source:  "flow",
		Message: fmt.Sprintf("Flow violation %s -> %s: %s", fromLayer, toLayer, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"from_layer": fromLayer,
			"to_layer":   toLayer,
			"reason":     reason,
		},
	})
}

// PublishPolicyViolation publishes a rule pack violation event.
func (ep *EventPublisher) PublishPolicyViolation(policy, component, severity, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypePolicyViolation,
		Source:    "policy_engine",
		Component: component,
		Message:   fmt.Sprintf("Policy violation on component %s: %s - %s", component, policy, reason),
		Level:     EventLevelError,
		Data: map[string]interface{}{
			"policy":   policy,
			"severity": severity,
			"reason":   reason,
		},
	})
}

// PublishScopeRegistered publishes a scope registered event.
func (ep *EventPublisher) PublishScopeRegistered(scope string) error {
	return ep.Publish(Event{
		Type:    EventTypeScopeRegistered,
		Source:  "coordinator",
		Scope:   scope,
		Message: fmt.Sprintf("Owner scope %s registered", scope),
		Level:   EventLevelInfo,
	})
}

// PublishScopeCancelled publishes a scope cancelled event.
func (ep *EventPublisher) PublishScopeCancelled(scope string) error {
	return ep.Publish(Event{
		Type:    EventTypeScopeCancelled,
		Source:  "coordinator",
		Scope:   scope,
		Message: fmt.Sprintf("Owner scope %s cancelled", scope),
		Level:   EventLevelWarning,
	})
}

// PublishScopeUnregistered publishes a scope unregistered event for a
// non-cancelling teardown.
func (ep *EventPublisher) PublishScopeUnregistered(scope string) error {
	return ep.Publish(Event{
		Type:    EventTypeScopeUnregistered,
		Source:  "coordinator",
		Scope:   scope,
		Message: fmt.Sprintf("Owner scope %s unregistered", scope),
		Level:   EventLevelInfo,
	})
}

// PublishCancellationPropagated publishes a cancellation propagated event.
func (ep *EventPublisher) PublishCancellationPropagated(ownerScope string, taskCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeCancellationPropagated,
		Source:  "coordinator",
		Scope:   ownerScope,
		Message: fmt.Sprintf("Cancellation propagated from scope %s to %d tasks", ownerScope, taskCount),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"task_count": taskCount,
		},
	})
}

// PublishDeadlockDetected publishes a deadlock detected event.
func (ep *EventPublisher) PublishDeadlockDetected(operation string, timeout time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeDeadlockDetected,
		Source:  "guard",
		Message: fmt.Sprintf("Operation %s exceeded deadlock timeout of %s", operation, timeout),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"operation": operation,
			"timeout":   timeout.Seconds(),
		},
	})
}

// PublishResourceGranted publishes a resource granted event.
func (ep *EventPublisher) PublishResourceGranted(resource, requester string) error {
	return ep.Publish(Event{
		Type:     EventTypeResourceGranted,
		Source:   "coordinator",
		Resource: resource,
		Message:  fmt.Sprintf("Resource %s granted to %s", resource, requester),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"requester": requester,
		},
	})
}

// PublishResourceReleased publishes a resource released event.
func (ep *EventPublisher) PublishResourceReleased(resource, owner string) error {
	return ep.Publish(Event{
		Type:     EventTypeResourceReleased,
		Source:   "coordinator",
		Resource: resource,
		Message:  fmt.Sprintf("Resource %s released by %s", resource, owner),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"owner": owner,
		},
	})
}

// PublishPriorityBoosted publishes a priority inheritance event.
func (ep *EventPublisher) PublishPriorityBoosted(resource, owner string, fromPriority, toPriority int) error {
	return ep.Publish(Event{
		Type:     EventTypePriorityBoosted,
		Source:   "coordinator",
		Resource: resource,
		Message: fmt.Sprintf("Owner %s of resource %s boosted from priority %d to %d",
			owner, resource, fromPriority, toPriority),
		Level: EventLevelInfo,
		Data: map[string]interface{}{
			"owner":         owner,
			"from_priority": fromPriority,
			"to_priority":   toPriority,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByValidationID creates a filter that only allows events for a specific validation run.
func FilterByValidationID(validationID string) EventFilter {
	return func(event Event) bool {
		return event.ValidationID == validationID
	}
}

// FilterByScope creates a filter that only allows events for a specific scope.
func FilterByScope(scope string) EventFilter {
	return func(event Event) bool {
		return event.Scope == scope
	}
}

// FilterByResource creates a filter that only allows events for a specific resource.
func FilterByResource(resource string) EventFilter {
	return func(event Event) bool {
		return event.Resource == resource
	}
}
