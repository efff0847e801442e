package policy

import (
	"strings"
	"time"

	"github.com/keelframework/keel/pkg/arch"
)

// Severity grades how serious a policy violation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation at this severity fails the
// evaluation. Info and warning findings are advisory.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// ParseSeverity maps a string to a known severity level. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, true
	default:
		return "", false
	}
}

// Policy is a single named Rego policy known to the engine.
type Policy struct {
	// Name identifies the policy. Builtin packs use fixed names; loaded
	// policies take the file basename.
	Name string `json:"name"`

	// Description is a human-readable summary, extracted from the
	// leading comment block for .rego files.
	Description string `json:"description,omitempty"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Severity is the default severity for violations whose deny result
	// does not carry its own.
	Severity Severity `json:"severity"`

	// Enabled controls whether the engine evaluates the policy.
	Enabled bool `json:"enabled"`

	// Tags classify the policy for listing and filtering.
	Tags []string `json:"tags,omitempty"`

	// Metadata carries free-form annotations such as the source path.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyViolation is a single deny finding produced by a policy.
type PolicyViolation struct {
	// Policy names the policy that produced the finding.
	Policy string `json:"policy"`

	// Component is the component the finding is about, when known.
	Component string `json:"component,omitempty"`

	// Message is the human-readable diagnostic.
	Message string `json:"message"`

	// Severity grades the finding.
	Severity Severity `json:"severity"`

	DetectedAt time.Time `json:"detected_at"`
}

// PolicyResult is the outcome of evaluating all enabled policies
// against a manifest.
type PolicyResult struct {
	// Allowed is false when any violation carries a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations lists every deny finding across all policies.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings records policies that failed to evaluate. A broken
	// policy never blocks the result.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies names the enabled policies that ran, sorted.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is the wall-clock time the evaluation took.
	Duration time.Duration `json:"duration"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyInput is the document handed to Rego as input. The engine
// evaluates each policy against two shapes: a per-component view with
// Component set, and a whole-graph view with Components, Edges, and
// Stats set. Rules guard on the field they need so only the matching
// shape fires.
type PolicyInput struct {
	// Component is the single component under evaluation.
	Component *ComponentView `json:"component,omitempty"`

	// Components lists every component in the manifest.
	Components []ComponentView `json:"components,omitempty"`

	// Edges lists every declared dependency edge.
	Edges []arch.Edge `json:"edges,omitempty"`

	// Stats summarizes the graph.
	Stats *GraphSummary `json:"stats,omitempty"`

	// Context describes the evaluation itself.
	Context *PolicyContext `json:"context"`
}

// ComponentView is the policy-facing shape of a manifest component.
type ComponentView struct {
	Name         string            `json:"name"`
	Layer        string            `json:"layer"`
	Contexts     []string          `json:"contexts,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Dependencies []string          `json:"dependencies"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// GraphSummary carries whole-graph counters for rules that reason
// about scale rather than individual edges.
type GraphSummary struct {
	Components        int            `json:"components"`
	Edges             int            `json:"edges"`
	ComponentsByLayer map[string]int `json:"components_by_layer,omitempty"`
}

// PolicyContext describes the evaluation to the policies.
type PolicyContext struct {
	// Environment names the deployment environment, when the caller
	// knows it.
	Environment string `json:"environment,omitempty"`

	// Operation is the action being policy-checked, e.g. "validate".
	Operation string `json:"operation,omitempty"`

	// DryRun is true when findings will be reported but not enforced.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation started.
	Timestamp time.Time `json:"timestamp"`
}
