// Package arch implements the architectural constraint layer for Keel.
//
// # Overview
//
// Keel validates that the dependencies declared between framework
// components form no cycles and flow only in permitted directions. The
// package provides pure, synchronous validators consumed at configuration
// and build time:
//
//  1. DependencyGraph - two parallel named-component graphs (capability and
//     context kind) with cycle detection, topological ordering, and
//     reachability queries, memoized between mutations
//  2. FlowPolicy - the fixed table of permitted dependency directions
//     between the six architectural layers
//  3. DependencyAnalyzer - whole-edge-set analysis over layers (per-edge
//     policy check plus acyclicity)
//  4. Isolation checkers - the shared context isolation rule enforced at
//     four points: declared pairs, named modules, raw import text, and
//     YAML module descriptors
//
// # Layers
//
// Six layers with a strict, mostly-downstream-only dependency policy:
//
//   - Orchestrator (0): coordinates top-level application flow
//   - Context (1): owns a feature's data; may depend only on Client/Context
//   - Client (2): wraps a capability and owns its State
//   - Capability (3): leaf services; no outgoing dependencies in practice
//   - State: terminal, owned by exactly one Client
//   - Presentation: terminal, bound by exactly one Context
//
// # Validation Model
//
// Structural and policy violations are reported as structured results
// (ValidationResult, InvalidDependency, ModuleReport), never panics, so
// advisory callers cannot be disrupted. API misuse returns a classified
// *ArchError; see the error codes in errors.go.
//
// # Thread Safety
//
// DependencyGraph serializes all operations through an internal mutex.
// FlowPolicy, DependencyAnalyzer, and the isolation checkers are stateless
// or operate on caller-owned data and are safe for concurrent use.
//
// # Example Usage
//
// Validate a component graph and obtain an activation order:
//
//	graph := arch.NewDependencyGraph()
//	_ = graph.AddDependency("checkout", "catalog", arch.GraphKindContext)
//	_ = graph.AddDependency("payments", "payments-api", arch.GraphKindCapability)
//
//	if result := graph.Validate(); !result.Valid {
//	    log.Fatal(result.Message)
//	}
//	order, err := graph.TopologicalSortKind(arch.GraphKindCapability)
//
// Check a single direction against the layer policy:
//
//	policy := arch.NewFlowPolicy()
//	policy.Validate(arch.LayerContext, arch.LayerCapability) // false
//	policy.Validate(arch.LayerClient, arch.LayerState)       // true
package arch
