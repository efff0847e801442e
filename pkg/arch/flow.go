package arch

import "fmt"

// FlowPolicy validates dependency directions between architectural layers.
//
// The four stacked layers are totally ordered, Orchestrator(0) < Context(1)
// < Client(2) < Capability(3), and the general rule permits a dependency
// only from a lower level to a strictly higher one. State and Presentation
// are terminal layers reachable through named exceptions: State is owned by
// Client, Presentation is bound by Context, and neither may depend outward.
// Context is additionally isolated to Client and Context targets, so a
// context can never reach a capability directly.
type FlowPolicy struct{}

// NewFlowPolicy creates a flow policy over the fixed layer table.
func NewFlowPolicy() *FlowPolicy {
	return &FlowPolicy{}
}

// Validate reports whether a dependency from one layer to another is
// permitted by the policy table.
func (p *FlowPolicy) Validate(from, to Layer) bool {
	return p.ErrorMessage(from, to) == ""
}

// ErrorMessage returns the diagnostic for a forbidden dependency, chosen by
// the first rule that rejects it, or the empty string when the dependency
// is permitted. Rules are evaluated in a fixed order: unknown layers,
// terminal sources, the State and Presentation ownership exceptions,
// context isolation, then the general strictly-downstream rule.
func (p *FlowPolicy) ErrorMessage(from, to Layer) string {
	if from.Validate() != nil || to.Validate() != nil {
		return fmt.Sprintf("unknown layer in dependency %s -> %s", from, to)
	}
	if from.IsTerminal() {
		return fmt.Sprintf("%s is a terminal layer and may not depend on anything", from)
	}
	if to == LayerState {
		if from == LayerClient {
			return ""
		}
		return fmt.Sprintf("only client may own state: %s -> state is forbidden", from)
	}
	if to == LayerPresentation {
		if from == LayerContext {
			return ""
		}
		return fmt.Sprintf("only context may bind presentation: %s -> presentation is forbidden", from)
	}
	if from == LayerContext {
		if contextMayDependOn(to) {
			return ""
		}
		return fmt.Sprintf("context may depend only on client or context: context -> %s is forbidden", to)
	}
	if from.Level() < to.Level() {
		return ""
	}
	return fmt.Sprintf("dependency must flow downstream: %s (level %d) may not depend on %s (level %d)",
		from, from.Level(), to, to.Level())
}
