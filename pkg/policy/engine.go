package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
	"github.com/keelframework/keel/pkg/manifest"
)

// Engine compiles Rego policies and evaluates them against manifests.
// The builtin packs are loaded at construction; additional policies come
// from LoadPolicies. Safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	pkg      string
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the builtin packs loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, err
	}

	return e, nil
}

// EvaluateManifest runs every enabled policy against the manifest. Each
// policy sees two input shapes: one per component, and one whole-graph
// view carrying all components, edges, and summary counters. Rules guard
// on input.component or input.components so only the matching shape
// produces findings.
func (e *Engine) EvaluateManifest(ctx context.Context, m *manifest.Manifest, pctx *PolicyContext) (*PolicyResult, error) {
	if m == nil {
		return nil, arch.NewUsageError("manifest must not be nil", nil).
			WithCode(arch.ErrCodeInvalidInput).
			WithOperation("evaluate-manifest")
	}

	start := time.Now()

	if pctx == nil {
		pctx = &PolicyContext{Operation: "validate"}
	}
	if pctx.Timestamp.IsZero() {
		pctx.Timestamp = start
	}

	components, edges := manifestViews(m)
	stats := summarize(components, edges)

	inputs := make([]*PolicyInput, 0, len(components)+1)
	for i := range components {
		inputs = append(inputs, &PolicyInput{Component: &components[i], Context: pctx})
	}
	inputs = append(inputs, &PolicyInput{
		Components: components,
		Edges:      edges,
		Stats:      &stats,
		Context:    pctx,
	})

	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []PolicyViolation
	var warnings []string
	evaluated := make([]string, 0, len(e.policies))

	for _, name := range e.sortedPolicyNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		evaluated = append(evaluated, name)

		for _, input := range inputs {
			found, err := e.evaluatePolicy(ctx, cp, input)
			if err != nil {
				e.logger.Error().Err(err).
					Str("policy", name).
					Msg("Policy evaluation failed")
				warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
				break
			}
			violations = append(violations, found...)
		}
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity.Blocks() {
			allowed = false
			break
		}
	}

	duration := time.Since(start)
	e.logger.Debug().
		Str("project", m.Project.Name).
		Int("policies", len(evaluated)).
		Int("violations", len(violations)).
		Dur("duration", duration).
		Msg("Manifest policy evaluation completed")

	return &PolicyResult{
		Allowed:           allowed,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedPolicies: evaluated,
		Duration:          duration,
		EvaluatedAt:       time.Now(),
	}, nil
}

// LoadPolicies loads and compiles policies from files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return err
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// evaluatePolicy runs one prepared deny query against one input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// createViolation converts a deny result into a PolicyViolation. String
// results become the message; object results may override the message,
// severity, and component.
func (e *Engine) createViolation(policy *Policy, result interface{}, input *PolicyInput) PolicyViolation {
	violation := PolicyViolation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}
	if input.Component != nil {
		violation.Component = input.Component.Name
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			if parsed, found := ParseSeverity(sev); found {
				violation.Severity = parsed
			}
		}
		if component, ok := v["component"].(string); ok {
			violation.Component = component
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy parses the policy, prepares its deny query, and
// stores the result. Callers must hold the write lock.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return arch.NewUsageError(fmt.Sprintf("parsing policy %s", policy.Name), err).
			WithCode(arch.ErrCodePolicyEvalFailed)
	}

	pkg := strings.TrimPrefix(module.Package.Path.String(), "data.")
	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return arch.NewUsageError(fmt.Sprintf("compiling policy %s", policy.Name), err).
			WithCode(arch.ErrCodePolicyEvalFailed)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		pkg:      pkg,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", pkg).
		Msg("Policy compiled")

	return nil
}

// loadBuiltinPolicies compiles and stores the builtin packs.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("compiling builtin policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(builtins)).
		Msg("Builtin policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, arch.NewUsageError(fmt.Sprintf("policy not found: %s", name), nil)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedPolicyNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and restores the builtin
// packs. Policies loaded from disk must be loaded again afterwards.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

	return e.loadBuiltinPolicies(ctx)
}

// ReplacePolicies swaps the loaded policy set for the builtin packs plus
// the given policies. Used by watch pipelines to apply a reload.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return err
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return err
		}
	}

	return nil
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return arch.NewUsageError(fmt.Sprintf("policy not found: %s", name), nil)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return arch.NewUsageError(fmt.Sprintf("policy not found: %s", name), nil)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}

// sortedPolicyNames returns the policy names in ascending order. Callers
// must hold at least the read lock.
func (e *Engine) sortedPolicyNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// manifestViews flattens a manifest into the component and edge shapes
// handed to Rego.
func manifestViews(m *manifest.Manifest) ([]ComponentView, []arch.Edge) {
	components := make([]ComponentView, 0, len(m.Components))
	var edges []arch.Edge

	for _, c := range m.Components {
		components = append(components, ComponentView{
			Name:         c.Name,
			Layer:        string(c.Layer),
			Contexts:     c.Contexts,
			Capabilities: c.Capabilities,
			Dependencies: c.Dependencies(),
			Labels:       c.Labels,
		})
		for _, target := range c.Contexts {
			edges = append(edges, arch.Edge{From: c.Name, To: target, Kind: arch.GraphKindContext})
		}
		for _, target := range c.Capabilities {
			edges = append(edges, arch.Edge{From: c.Name, To: target, Kind: arch.GraphKindCapability})
		}
	}

	return components, edges
}

// summarize computes whole-graph counters for the policy input.
func summarize(components []ComponentView, edges []arch.Edge) GraphSummary {
	byLayer := make(map[string]int)
	for i := range components {
		byLayer[components[i].Layer]++
	}

	return GraphSummary{
		Components:        len(components),
		Edges:             len(edges),
		ComponentsByLayer: byLayer,
	}
}
