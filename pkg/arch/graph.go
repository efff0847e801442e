package arch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// graphKinds lists the parallel graphs in a fixed validation order.
var graphKinds = []GraphKind{GraphKindCapability, GraphKindContext}

// DependencyGraph maintains two parallel dependency graphs, one per graph
// kind, and answers acyclicity, ordering, and reachability queries about
// them. Query results are memoized and invalidated on mutation.
//
// All operations are safe for concurrent use. Mutations are serialized by
// an internal mutex so callers never observe a partially applied change.
type DependencyGraph struct {
	mu sync.Mutex

	// graphs maps each kind to its adjacency structure: node ID to the set
	// of node IDs it depends on. A node may exist with an empty set when it
	// was only ever added as a dependency target.
	graphs map[GraphKind]map[string]map[string]bool

	// Memoized query results. The four slots (validation, combined sort,
	// and the two per-kind sorts) are invalidated together on any mutation.
	cachedValidation *ValidationResult
	cachedSorts      map[GraphKind]*sortResult
	cachedCombined   *sortResult

	// Statistics.
	edgeCount   int
	validations int
	sorts       int
	cacheHits   int
}

// sortResult memoizes a topological sort outcome, including the cyclic case.
type sortResult struct {
	order []string
	err   error
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		graphs:      newGraphs(),
		cachedSorts: make(map[GraphKind]*sortResult),
	}
}

// newGraphs allocates the per-kind adjacency structures.
func newGraphs() map[GraphKind]map[string]map[string]bool {
	graphs := make(map[GraphKind]map[string]map[string]bool, len(graphKinds))
	for _, kind := range graphKinds {
		graphs[kind] = make(map[string]map[string]bool)
	}
	return graphs
}

// AddDependency inserts the edge from -> to into the graph of the given
// kind and ensures to exists as a node even if it has no dependencies of
// its own. Re-adding an existing edge is a no-op and does not invalidate
// memoized results.
func (g *DependencyGraph) AddDependency(from, to string, kind GraphKind) error {
	if from == "" || to == "" {
		return NewUsageError("dependency endpoints must be non-empty", nil).
			WithCode(ErrCodeInvalidInput).WithOperation("add_dependency")
	}
	if err := kind.Validate(); err != nil {
		return NewUsageError("unknown graph kind", err).
			WithCode(ErrCodeInvalidInput).WithOperation("add_dependency")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	adj := g.graphs[kind]
	if adj[from] == nil {
		adj[from] = make(map[string]bool)
	}
	if adj[from][to] {
		// Set semantics: the edge is already present, nothing changed.
		return nil
	}
	adj[from][to] = true
	if adj[to] == nil {
		adj[to] = make(map[string]bool)
	}

	g.edgeCount++
	g.invalidate()
	return nil
}

// RemoveDependency deletes the edge from -> to from the graph of the given
// kind. Both endpoints remain present as nodes. Removing an edge that does
// not exist is a usage error.
func (g *DependencyGraph) RemoveDependency(from, to string, kind GraphKind) error {
	if err := kind.Validate(); err != nil {
		return NewUsageError("unknown graph kind", err).
			WithCode(ErrCodeInvalidInput).WithOperation("remove_dependency")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	adj := g.graphs[kind]
	if !adj[from][to] {
		return NewUsageError(fmt.Sprintf("no dependency from %s to %s", from, to), nil).
			WithCode(ErrCodeInvalidInput).WithKind(kind).WithOperation("remove_dependency")
	}
	delete(adj[from], to)

	g.edgeCount--
	g.invalidate()
	return nil
}

// Validate reports whether both graphs are acyclic. The result is memoized
// and remains valid until the next mutation.
//
// On a cache miss every node is first scanned for a self-loop, the cheapest
// and most common degenerate cycle; the scan returns immediately with a
// single-node cycle when one is found. Otherwise a depth-first traversal
// runs per graph kind, recording every back-edge that closes a loop, and
// cycles from both kinds are merged into one result.
func (g *DependencyGraph) Validate() *ValidationResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.validations++
	if g.cachedValidation != nil {
		g.cacheHits++
		return g.cachedValidation
	}

	result := g.computeValidation()
	g.cachedValidation = result
	return result
}

// computeValidation performs the uncached validation work.
func (g *DependencyGraph) computeValidation() *ValidationResult {
	for _, kind := range graphKinds {
		adj := g.graphs[kind]
		for _, node := range sortedKeys(adj) {
			if adj[node][node] {
				cycle := Cycle{Nodes: []string{node}, Kind: kind}
				return &ValidationResult{
					Valid:   false,
					Cycles:  []Cycle{cycle},
					Message: fmt.Sprintf("dependency cycle detected: %s", cycle),
				}
			}
		}
	}

	cycles := make([]Cycle, 0)
	for _, kind := range graphKinds {
		cycles = append(cycles, g.findCycles(kind)...)
	}

	switch len(cycles) {
	case 0:
		return &ValidationResult{Valid: true}
	case 1:
		return &ValidationResult{
			Valid:   false,
			Cycles:  cycles,
			Message: fmt.Sprintf("dependency cycle detected: %s", cycles[0]),
		}
	default:
		return &ValidationResult{
			Valid:   false,
			Cycles:  cycles,
			Message: fmt.Sprintf("%d dependency cycles detected across graphs", len(cycles)),
		}
	}
}

// findCycles runs a depth-first search over one graph kind and returns
// every cycle closed by a back-edge during the traversal.
func (g *DependencyGraph) findCycles(kind GraphKind) []Cycle {
	adj := g.graphs[kind]
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	cycles := make([]Cycle, 0)
	for _, node := range sortedKeys(adj) {
		if !visited[node] {
			cycles = append(cycles, findCyclesFrom(adj, kind, node, visited, recStack, path)...)
		}
	}
	return cycles
}

// findCyclesFrom performs the DFS step for a single node, tracking the
// current path and the on-recursion-stack set.
func findCyclesFrom(
	adj map[string]map[string]bool,
	kind GraphKind,
	node string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []Cycle {
	visited[node] = true
	recStack[node] = true
	path = append(path, node)

	cycles := make([]Cycle, 0)
	for _, dep := range sortedKeys(adj[node]) {
		if !visited[dep] {
			cycles = append(cycles, findCyclesFrom(adj, kind, dep, visited, recStack, path)...)
		} else if recStack[dep] {
			// Found a cycle - the cycle is the path slice starting at the
			// repeated node.
			cycleStart := -1
			for i, id := range path {
				if id == dep {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				nodes := make([]string, len(path)-cycleStart)
				copy(nodes, path[cycleStart:])
				cycles = append(cycles, Cycle{Nodes: nodes, Kind: kind})
			}
		}
	}

	recStack[node] = false
	return cycles
}

// TopologicalSort returns an ordering over the union of both graphs, or an
// error if the union contains a cycle. See TopologicalSortKind for the
// ordering contract.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sorts++
	if g.cachedCombined != nil {
		g.cacheHits++
		return g.cachedCombined.order, g.cachedCombined.err
	}

	merged := make(map[string]map[string]bool)
	for _, kind := range graphKinds {
		for node, deps := range g.graphs[kind] {
			if merged[node] == nil {
				merged[node] = make(map[string]bool)
			}
			for dep := range deps {
				merged[node][dep] = true
			}
		}
	}

	order, err := topoSort(merged, "")
	g.cachedCombined = &sortResult{order: order, err: err}
	return order, err
}

// TopologicalSortKind returns an ordering over one graph kind, or an error
// if that graph contains a cycle.
//
// The order lists dependents before their dependencies: for an edge A -> B
// (A depends on B), A appears before B. This is a fixed contract; callers
// wanting a dependencies-first order reverse the result.
func (g *DependencyGraph) TopologicalSortKind(kind GraphKind) ([]string, error) {
	if err := kind.Validate(); err != nil {
		return nil, NewUsageError("unknown graph kind", err).
			WithCode(ErrCodeInvalidInput).WithOperation("topological_sort")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sorts++
	if cached, ok := g.cachedSorts[kind]; ok {
		g.cacheHits++
		return cached.order, cached.err
	}

	order, err := topoSort(g.graphs[kind], kind)
	g.cachedSorts[kind] = &sortResult{order: order, err: err}
	return order, err
}

// topoSort runs Kahn's algorithm over one adjacency structure: in-degree
// per node is its dependency count, zero-in-degree nodes seed the queue,
// and emitting a node decrements every node that depends on it. The raw
// output therefore lists dependencies before dependents and is reversed
// before returning. Iteration is in sorted node order for determinism.
func topoSort(adj map[string]map[string]bool, kind GraphKind) ([]string, error) {
	if len(adj) == 0 {
		return []string{}, nil
	}

	inDegree := make(map[string]int, len(adj))
	dependents := make(map[string][]string)
	for node, deps := range adj {
		inDegree[node] = len(deps)
		for dep := range deps {
			dependents[dep] = append(dependents[dep], node)
		}
	}
	for dep := range dependents {
		sort.Strings(dependents[dep])
	}

	queue := make([]string, 0)
	for _, node := range sortedKeys(adj) {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]string, 0, len(adj))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(adj) {
		err := NewStructuralError("dependency graph contains a cycle", nil).
			WithCode(ErrCodeCycleDetected)
		if kind != "" {
			err = err.WithKind(kind)
		}
		return nil, err
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	return order, nil
}

// WouldCreateCycle reports whether adding the edge from -> to would close a
// cycle in the graph of the given kind. It is a read-only advisory check:
// it never errors and does not touch the memoized results.
func (g *DependencyGraph) WouldCreateCycle(from, to string, kind GraphKind) bool {
	if from == to {
		return true
	}
	if kind.Validate() != nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Breadth-first reachability: if to can already reach from through
	// existing edges, the new edge would close a loop.
	adj := g.graphs[kind]
	visited := make(map[string]bool)
	queue := []string{to}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == from {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true

		for dep := range adj[node] {
			if !visited[dep] {
				queue = append(queue, dep)
			}
		}
	}
	return false
}

// Components returns every node known to either graph, sorted.
func (g *DependencyGraph) Components() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedKeys(g.nodeSet())
}

// Dependencies returns the sorted direct dependencies of a node in the
// graph of the given kind. Unknown nodes and kinds yield an empty slice.
func (g *DependencyGraph) Dependencies(node string, kind GraphKind) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedKeys(g.graphs[kind][node])
}

// Stats returns usage counters for the graph.
func (g *DependencyGraph) Stats() GraphStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GraphStats{
		Dependencies: g.edgeCount,
		Nodes:        len(g.nodeSet()),
		Validations:  g.validations,
		Sorts:        g.sorts,
		CacheHits:    g.cacheHits,
	}
	if total := g.validations + g.sorts; total > 0 {
		stats.CacheHitRate = float64(g.cacheHits) / float64(total)
	}
	return stats
}

// Reset clears both graphs, all memoized results, and the statistics.
func (g *DependencyGraph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.graphs = newGraphs()
	g.edgeCount = 0
	g.validations = 0
	g.sorts = 0
	g.cacheHits = 0
	g.invalidate()
}

// invalidate drops all four memo slots. Callers must hold mu.
func (g *DependencyGraph) invalidate() {
	g.cachedValidation = nil
	g.cachedCombined = nil
	g.cachedSorts = make(map[GraphKind]*sortResult)
}

// nodeSet returns the union of nodes across both graphs. Callers must hold mu.
func (g *DependencyGraph) nodeSet() map[string]bool {
	nodes := make(map[string]bool)
	for _, kind := range graphKinds {
		for node := range g.graphs[kind] {
			nodes[node] = true
		}
	}
	return nodes
}

// ToDOT generates a DOT format representation of both graphs for
// visualization. The output can be rendered with Graphviz tools.
func (g *DependencyGraph) ToDOT() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, node := range sortedKeys(g.nodeSet()) {
		sb.WriteString(fmt.Sprintf("  %q;\n", node))
	}
	sb.WriteString("\n")

	for _, kind := range graphKinds {
		adj := g.graphs[kind]
		style := getKindStyle(kind)
		for _, node := range sortedKeys(adj) {
			for _, dep := range sortedKeys(adj[node]) {
				sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", node, dep, style))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// getKindStyle returns a DOT style string for a graph kind's edges.
func getKindStyle(kind GraphKind) string {
	switch kind {
	case GraphKindCapability:
		return "style=solid, color=black"
	case GraphKindContext:
		return "style=dashed, color=blue"
	default:
		return "style=solid, color=black"
	}
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
