package arch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Layer identifies the architectural layer a component belongs to.
type Layer string

const (
	// LayerOrchestrator coordinates top-level application flow.
	LayerOrchestrator Layer = "orchestrator"

	// LayerContext owns a feature's data and drives its presentation.
	LayerContext Layer = "context"

	// LayerClient wraps access to a capability and owns its state.
	LayerClient Layer = "client"

	// LayerCapability provides a leaf service (storage, network, sensors).
	LayerCapability Layer = "capability"

	// LayerState holds observable state owned by a client.
	LayerState Layer = "state"

	// LayerPresentation renders data provided by a context.
	LayerPresentation Layer = "presentation"
)

// Level returns the position of the layer in the downstream ordering.
// Orchestrator is 0 and capability is 3; the two terminal layers sit
// below the ordered stack. Unknown layers return -1.
func (l Layer) Level() int {
	switch l {
	case LayerOrchestrator:
		return 0
	case LayerContext:
		return 1
	case LayerClient:
		return 2
	case LayerCapability:
		return 3
	case LayerState:
		return 4
	case LayerPresentation:
		return 5
	default:
		return -1
	}
}

// IsTerminal returns true for layers that may not declare outgoing
// dependencies.
func (l Layer) IsTerminal() bool {
	return l == LayerState || l == LayerPresentation
}

// Validate checks if the layer is one of the six known layers.
func (l Layer) Validate() error {
	switch l {
	case LayerOrchestrator, LayerContext, LayerClient,
		LayerCapability, LayerState, LayerPresentation:
		return nil
	default:
		return fmt.Errorf("unknown layer: %s", l)
	}
}

// ParseLayer converts a string into a Layer, accepting any casing.
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToLower(strings.TrimSpace(s)))
	if err := l.Validate(); err != nil {
		return "", err
	}
	return l, nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (l Layer) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(l))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (l *Layer) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*l = Layer(str)
	return l.Validate()
}

// GraphKind selects which of the two parallel dependency graphs an edge
// belongs to.
type GraphKind string

const (
	// GraphKindCapability tracks dependencies between capability-level services.
	GraphKindCapability GraphKind = "capability"

	// GraphKindContext tracks dependencies between feature contexts.
	GraphKindContext GraphKind = "context"
)

// Validate checks if the graph kind is valid.
func (k GraphKind) Validate() error {
	switch k {
	case GraphKindCapability, GraphKindContext:
		return nil
	default:
		return fmt.Errorf("invalid graph kind: %s", k)
	}
}

// Edge is a single directed dependency edge in one of the two graphs.
type Edge struct {
	// From is the dependent node, the one declaring the dependency.
	From string `json:"from"`

	// To is the node being depended on.
	To string `json:"to"`

	// Kind is the graph the edge belongs to.
	Kind GraphKind `json:"kind"`
}

// Cycle is an ordered sequence of node identifiers that closes a loop,
// tagged with the graph it was found in. Nodes lists each member once;
// the closing edge from the last node back to the first is implied.
type Cycle struct {
	// Nodes are the members of the cycle in traversal order.
	Nodes []string `json:"nodes"`

	// Kind is the graph the cycle was found in.
	Kind GraphKind `json:"kind"`
}

// String renders the cycle with the loop closed, e.g. "A -> B -> C -> A".
func (c Cycle) String() string {
	if len(c.Nodes) == 0 {
		return ""
	}
	return strings.Join(c.Nodes, " -> ") + " -> " + c.Nodes[0]
}

// ValidationResult reports the outcome of a structural graph validation.
// Results are immutable and remain valid until the next graph mutation.
type ValidationResult struct {
	// Valid is true when no cycle exists in either graph.
	Valid bool `json:"valid"`

	// Cycles enumerates every detected cycle across both graph kinds.
	Cycles []Cycle `json:"cycles,omitempty"`

	// Message is a human-readable diagnostic, empty when the graph is valid.
	Message string `json:"message,omitempty"`
}

// GraphStats captures usage counters for a dependency graph instance.
type GraphStats struct {
	// Dependencies is the number of edges across both graph kinds.
	Dependencies int `json:"dependencies"`

	// Nodes is the number of distinct nodes across both graph kinds.
	Nodes int `json:"nodes"`

	// Validations counts Validate calls since creation or the last reset.
	Validations int `json:"validations"`

	// Sorts counts topological sort calls since creation or the last reset.
	Sorts int `json:"sorts"`

	// CacheHits counts queries answered from a memoized result.
	CacheHits int `json:"cache_hits"`

	// CacheHitRate is CacheHits divided by the total query count.
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// FlowEdge is a directed dependency between two architectural layers,
// the unit the DependencyAnalyzer reasons over.
type FlowEdge struct {
	// From is the layer declaring the dependency.
	From Layer `json:"from"`

	// To is the layer being depended on.
	To Layer `json:"to"`
}

// InvalidDependency describes an edge that violates the flow policy.
type InvalidDependency struct {
	// Edge is the offending edge.
	Edge FlowEdge `json:"edge"`

	// Reason is the policy diagnostic explaining why the edge is forbidden.
	Reason string `json:"reason"`
}
