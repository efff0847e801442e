package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/telemetry"
)

// DefaultDeadlockTimeout is the guard timeout used when none is configured.
const DefaultDeadlockTimeout = 30 * time.Second

// DeadlockError reports an operation that did not resolve within its
// timeout. It is the one condition this package surfaces as an error rather
// than a structured result, because an unresponsive cross-scope call is a
// runtime anomaly, not a policy decision.
type DeadlockError struct {
	// Timeout is the window the operation failed to resolve within.
	Timeout time.Duration

	// Operation names the guarded operation, when known.
	Operation string
}

// Error implements the error interface.
func (e *DeadlockError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("deadlock detected: operation %q did not resolve within %s", e.Operation, e.Timeout)
	}
	return fmt.Sprintf("deadlock detected: operation did not resolve within %s", e.Timeout)
}

// IsDeadlock returns true if err is, or wraps, a deadlock timeout.
func IsDeadlock(err error) bool {
	var de *DeadlockError
	return errors.As(err, &de)
}

// opResult carries an operation's outcome across the result channel.
type opResult[T any] struct {
	value T
	err   error
}

// Detect runs op and waits at most timeout for it to resolve.
//
// If the operation resolves first, its result and error are returned
// unchanged and the timer is discarded. If the timer fires first, the
// operation's derived context is cancelled and a *DeadlockError is returned.
// The two can resolve in the same instant; the operation's real outcome
// always wins when it is available, so a timer that merely lost the race is
// never reported as a deadlock.
//
// Cancelling ctx surfaces ctx.Err(), not a deadlock. The timeout abandons
// only the wait: side effects the operation already started are stopped
// cooperatively through the cancelled context, or not at all.
func Detect[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	return detect(ctx, timeout, "", op)
}

func detect[T any](ctx context.Context, timeout time.Duration, operation string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the operation goroutine never leaks waiting on a reader
	// that already gave up.
	resCh := make(chan opResult[T], 1)
	go func() {
		value, err := op(opCtx)
		resCh <- opResult[T]{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		// The operation may have resolved in the instant the timer fired.
		// One final poll decides: a present result wins over the timeout.
		select {
		case res := <-resCh:
			return res.value, res.err
		default:
		}
		return zero, &DeadlockError{Timeout: timeout, Operation: operation}
	}
}

// DeadlockGuard wraps cross-scope calls with a default timeout and records
// timeouts to telemetry.
type DeadlockGuard struct {
	// timeout is the default window an operation is allowed
	timeout time.Duration

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// NewDeadlockGuard creates a guard with the given default timeout. A zero or
// negative timeout selects DefaultDeadlockTimeout. The metrics and events
// sinks may be nil.
func NewDeadlockGuard(
	timeout time.Duration,
	logger zerolog.Logger,
	metrics *telemetry.Metrics,
	events *telemetry.EventPublisher,
) *DeadlockGuard {
	if timeout <= 0 {
		timeout = DefaultDeadlockTimeout
	}

	return &DeadlockGuard{
		timeout: timeout,
		logger:  logger.With().Str("component", "deadlock-guard").Logger(),
		metrics: metrics,
		events:  events,
	}
}

// Timeout returns the guard's default timeout.
func (g *DeadlockGuard) Timeout() time.Duration {
	return g.timeout
}

// Perform runs fn under the guard's default timeout.
func (g *DeadlockGuard) Perform(ctx context.Context, operation string, fn func(context.Context) error) error {
	return g.PerformWithTimeout(ctx, operation, g.timeout, fn)
}

// PerformWithTimeout runs fn, allowing at most timeout for it to resolve.
// A deadlock timeout is logged and recorded; the returned error is the
// operation's own error, ctx.Err(), or a *DeadlockError.
func (g *DeadlockGuard) PerformWithTimeout(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	if timeout <= 0 {
		timeout = g.timeout
	}

	start := time.Now()
	_, err := detect(ctx, timeout, operation, func(opCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(opCtx)
	})

	var de *DeadlockError
	if errors.As(err, &de) {
		g.logger.Error().
			Str("operation", operation).
			Dur("timeout", timeout).
			Dur("elapsed", time.Since(start)).
			Msg("Deadlock detected")

		g.metrics.RecordDeadlockTimeout(operation)
		if g.events != nil {
			g.events.PublishDeadlockDetected(operation, timeout)
		}
	}

	return err
}
