// Package telemetry provides comprehensive observability instrumentation for Keel.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging Keel validation and coordination operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "keel"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("graph")
//	logger = logger.WithValidationID("val-123").WithComponentID("checkout")
//	logger.Info("Starting dependency validation")
//	logger.WithError(err).Error("Validation failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into validation flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    telemetry.AttrValidationID.String(validationID),
//	    telemetry.AttrGraphKind.String("capability"),
//	)
//
//	// Record events
//	span.AddEvent("cycle.search.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track validation and coordination behavior:
//
//	// Record a validation run
//	tel.Metrics.RecordValidation(result.Valid, duration)
//	tel.Metrics.RecordCycleDetected("capability")
//
//	// Record flow policy outcomes
//	tel.Metrics.RecordFlowViolation("context", "capability")
//
//	// Record coordination activity
//	tel.Metrics.RecordAcquisition("granted")
//	tel.Metrics.RecordDeadlockTimeout("cross_scope_call")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishValidationCompleted(validationID, result.Valid, duration)
//	tel.Events.PublishCycleDetected(validationID, "context", "a -> b -> a")
//	tel.Events.PublishResourceGranted("db-writer", "checkout")
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByValidationID,
// FilterByScope, FilterByResource
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "graph.validate",
//	    telemetry.AttrValidationID.String(validationID))
//	defer ic.End(err)
//
//	ic.Logger.Info("Validating dependency graph")
//
//	// Validation run context
//	ctx = telemetry.WithValidationContext(ctx, validationID, componentCount)
//	defer telemetry.EndValidationContext(ctx, validationID, result.Valid, err)
//
//	// Policy evaluation context
//	ctx = telemetry.WithPolicyContext(ctx, "layer_rules")
//	defer telemetry.EndPolicyContext(ctx, outcome, err)
//
//	// Guarded operation
//	err := telemetry.RecordGuardedOperation(ctx, "cross_scope_call", func() error {
//	    return callRemoteScope(ctx)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "keel",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//   - All buffered events are published
//   - All pending traces are exported
//   - Metrics are finalized
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - keel_validations_total{result}
//   - keel_validation_duration_seconds{result}
//   - keel_cycles_detected_total{kind}
//   - keel_cache_requests_total{operation} / keel_cache_hits_total{operation}
//   - keel_flow_violations_total{from_layer,to_layer}
//   - keel_policy_evaluations_total{outcome} / keel_policy_violations_total{policy,severity}
//   - keel_active_scopes / keel_cancellations_propagated_total
//   - keel_deadlock_timeouts_total{operation}
//   - keel_resource_acquisitions_total{outcome}
//   - keel_resource_acquire_wait_seconds{resource}
//   - keel_priority_boosts_total / keel_resource_waiters{resource}
//
// # Best Practices
//
//  1. Always use context to propagate telemetry
//  2. Use component-specific loggers for clarity
//  3. Add meaningful attributes to spans
//  4. Record both success and failure metrics
//  5. Use appropriate log levels
//  6. Filter events to avoid overwhelming subscribers
//  7. Configure sampling for high-volume systems
//  8. Always call defer span.End() after starting a span
//  9. Shut down gracefully to avoid data loss
package telemetry
