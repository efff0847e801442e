// Package arch implements the architectural constraint layer for Keel.
// It validates component dependency graphs and enforces the layer flow policy.
package arch

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for reporting and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassStructural indicates a graph-shape violation.
	// Examples: dependency cycles, self-dependencies.
	ErrorClassStructural ErrorClass = "structural"

	// ErrorClassPolicy indicates a layer flow policy violation.
	// Examples: upward dependencies, context reaching into a capability.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassUsage indicates an API misuse by the caller.
	// Examples: releasing a resource owned by someone else, unknown graph kind.
	ErrorClassUsage ErrorClass = "usage"

	// ErrorClassRuntime indicates a genuine runtime anomaly.
	// Examples: deadlock timeouts, policy engine evaluation failures.
	ErrorClassRuntime ErrorClass = "runtime"
)

// ArchError represents a classified error with context.
// nolint:revive // ArchError is intentionally named to distinguish from standard errors
type ArchError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Component is the component or resource ID that caused the error, if applicable.
	Component string `json:"component,omitempty"`

	// Kind is the graph kind involved, if applicable.
	Kind GraphKind `json:"kind,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ArchError) Error() string {
	var base string
	switch {
	case e.Component != "" && e.Operation != "":
		base = fmt.Sprintf("[%s] %s (component=%s, operation=%s)",
			e.Class, e.Message, e.Component, e.Operation)
	case e.Component != "":
		base = fmt.Sprintf("[%s] %s (component=%s)", e.Class, e.Message, e.Component)
	default:
		base = fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ArchError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ArchError) Is(target error) bool {
	t, ok := target.(*ArchError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewStructuralError creates a new structural error.
func NewStructuralError(message string, err error) *ArchError {
	return &ArchError{
		Class:   ErrorClassStructural,
		Message: message,
		Err:     err,
	}
}

// NewPolicyError creates a new policy error.
func NewPolicyError(message string, err error) *ArchError {
	return &ArchError{
		Class:   ErrorClassPolicy,
		Message: message,
		Err:     err,
	}
}

// NewUsageError creates a new usage error.
func NewUsageError(message string, err error) *ArchError {
	return &ArchError{
		Class:   ErrorClassUsage,
		Message: message,
		Err:     err,
	}
}

// NewRuntimeError creates a new runtime error.
func NewRuntimeError(message string, err error) *ArchError {
	return &ArchError{
		Class:   ErrorClassRuntime,
		Message: message,
		Err:     err,
	}
}

// WithComponent adds component context to an error.
func (e *ArchError) WithComponent(componentID string) *ArchError {
	e.Component = componentID
	return e
}

// WithKind adds graph kind context to an error.
func (e *ArchError) WithKind(kind GraphKind) *ArchError {
	e.Kind = kind
	return e
}

// WithOperation adds operation context to an error.
func (e *ArchError) WithOperation(operation string) *ArchError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *ArchError) WithCode(code string) *ArchError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *ArchError) WithDetail(key string, value interface{}) *ArchError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsStructural returns true if the error is classified as structural.
func IsStructural(err error) bool {
	var e *ArchError
	if errors.As(err, &e) {
		return e.Class == ErrorClassStructural
	}
	return false
}

// IsPolicy returns true if the error is classified as a policy violation.
func IsPolicy(err error) bool {
	var e *ArchError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPolicy
	}
	return false
}

// IsUsage returns true if the error is classified as an API misuse.
func IsUsage(err error) bool {
	var e *ArchError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUsage
	}
	return false
}

// IsRuntime returns true if the error is classified as a runtime anomaly.
func IsRuntime(err error) bool {
	var e *ArchError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRuntime
	}
	return false
}

// HasCode returns true if the error carries the given error code.
func HasCode(err error, code string) bool {
	var e *ArchError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Common error codes.
const (
	ErrCodeCycleDetected      = "CYCLE_DETECTED"
	ErrCodeForbiddenDirection = "FORBIDDEN_DIRECTION"
	ErrCodeUnknownLayer       = "UNKNOWN_LAYER"
	ErrCodeContextIsolation   = "CONTEXT_ISOLATION"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotOwner           = "NOT_OWNER"
	ErrCodeNotHeld            = "NOT_HELD"
	ErrCodeAlreadyHeld        = "ALREADY_HELD"
	ErrCodeDeadlockTimeout    = "DEADLOCK_TIMEOUT"
	ErrCodeManifestInvalid    = "MANIFEST_INVALID"
	ErrCodePolicyEvalFailed   = "POLICY_EVAL_FAILED"
)
