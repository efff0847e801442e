package arch

import (
	"fmt"
	"strings"
)

// DependencyAnalyzer checks a whole set of layer-level dependency edges
// against the flow policy, where the DependencyGraph checks named
// components. It answers whether the edge set flows in one direction only:
// every edge individually permitted and no cycle among the layers.
type DependencyAnalyzer struct {
	policy *FlowPolicy
	edges  []FlowEdge
}

// NewDependencyAnalyzer creates an analyzer over a copy of the given edges.
func NewDependencyAnalyzer(edges []FlowEdge) *DependencyAnalyzer {
	return &DependencyAnalyzer{
		policy: NewFlowPolicy(),
		edges:  append([]FlowEdge(nil), edges...),
	}
}

// IsUnidirectional returns true only if every edge passes the flow policy
// and the edge set as a whole is acyclic.
func (a *DependencyAnalyzer) IsUnidirectional() bool {
	for _, edge := range a.edges {
		if !a.policy.Validate(edge.From, edge.To) {
			return false
		}
	}
	return a.isAcyclic()
}

// isAcyclic runs Kahn's algorithm over the layer graph formed by the edges.
func (a *DependencyAnalyzer) isAcyclic() bool {
	adj := make(map[string]map[string]bool)
	for _, edge := range a.edges {
		from, to := string(edge.From), string(edge.To)
		if adj[from] == nil {
			adj[from] = make(map[string]bool)
		}
		adj[from][to] = true
		if adj[to] == nil {
			adj[to] = make(map[string]bool)
		}
	}

	_, err := topoSort(adj, "")
	return err == nil
}

// FindInvalidDependencies evaluates every edge against the flow policy
// without short-circuiting and returns each violation with its diagnostic.
func (a *DependencyAnalyzer) FindInvalidDependencies() []InvalidDependency {
	invalid := make([]InvalidDependency, 0)
	for _, edge := range a.edges {
		if msg := a.policy.ErrorMessage(edge.From, edge.To); msg != "" {
			invalid = append(invalid, InvalidDependency{Edge: edge, Reason: msg})
		}
	}
	return invalid
}

// Visualize renders the edge set as an adjacency listing, alphabetically
// sorted on both sides so the output is stable across runs.
func (a *DependencyAnalyzer) Visualize() string {
	adj := make(map[string]map[string]bool)
	for _, edge := range a.edges {
		from := string(edge.From)
		if adj[from] == nil {
			adj[from] = make(map[string]bool)
		}
		adj[from][string(edge.To)] = true
	}

	var sb strings.Builder
	for _, from := range sortedKeys(adj) {
		sb.WriteString(fmt.Sprintf("%s -> %s\n", from, strings.Join(sortedKeys(adj[from]), ", ")))
	}
	return sb.String()
}
