package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies. Each pack checks one
// structural property of the dependency graph; the hard layering rules
// are enforced by the graph validator first, and re-checked here so
// custom evaluation pipelines get the same answer.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		knownLayersPolicy(),
		capabilityFanInPolicy(),
		orphanComponentsPolicy(),
		terminalAccessPolicy(),
		godComponentsPolicy(),
	}
}

// knownLayersPolicy rejects components whose layer is not one of the six
// recognized layers.
func knownLayersPolicy() Policy {
	return Policy{
		Name:        "known-layers",
		Description: "Requires every component to declare one of the six recognized layers",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builtin", "layers"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package keel.policies.layers

import rego.v1

known_layers := {"orchestrator", "context", "client", "capability", "state", "presentation"}

deny contains violation if {
	input.component
	component := input.component

	not component.layer in known_layers
	violation := {
		"message": sprintf("Component %s declares unknown layer %q", [component.name, component.layer]),
		"severity": "error",
		"component": component.name,
	}
}`,
	}
}

// capabilityFanInPolicy flags capabilities that an unusually large number
// of components depend on.
func capabilityFanInPolicy() Policy {
	return Policy{
		Name:        "capability-fan-in",
		Description: "Flags capabilities whose dependent count is above the advisory threshold",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"builtin", "coupling"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package keel.policies.fanin

import rego.v1

max_dependents := 5

deny contains violation if {
	input.components
	some component in input.components
	component.layer == "capability"

	dependents := {e.from | some e in input.edges; e.kind == "capability"; e.to == component.name}
	count(dependents) > max_dependents
	violation := {
		"message": sprintf("Capability %s has %d dependents, above the advisory threshold of %d",
			[component.name, count(dependents), max_dependents]),
		"severity": "warning",
		"component": component.name,
	}
}`,
	}
}

// orphanComponentsPolicy reports components that no dependency edge
// touches in either direction.
func orphanComponentsPolicy() Policy {
	return Policy{
		Name:        "orphan-components",
		Description: "Reports declared components that participate in no dependency",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"builtin", "hygiene"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package keel.policies.orphans

import rego.v1

has_edge(name) if {
	some e in input.edges
	e.from == name
}

has_edge(name) if {
	some e in input.edges
	e.to == name
}

deny contains violation if {
	input.components
	some component in input.components

	not has_edge(component.name)
	violation := {
		"message": sprintf("Component %s has no dependencies and no dependents", [component.name]),
		"severity": "info",
		"component": component.name,
	}
}`,
	}
}

// terminalAccessPolicy re-checks state and presentation ownership: state
// is reachable only from clients, presentation only from contexts.
func terminalAccessPolicy() Policy {
	return Policy{
		Name:        "terminal-access",
		Description: "Restricts state access to clients and presentation access to contexts",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builtin", "layers"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package keel.policies.terminal

import rego.v1

layer_of := {c.name: c.layer | some c in input.components}

deny contains violation if {
	some e in input.edges
	layer_of[e.to] == "state"
	layer_of[e.from] != "client"

	violation := {
		"message": sprintf("Component %s (%s) reaches state component %s, only clients may",
			[e.from, layer_of[e.from], e.to]),
		"severity": "error",
		"component": e.from,
	}
}

deny contains violation if {
	some e in input.edges
	layer_of[e.to] == "presentation"
	layer_of[e.from] != "context"

	violation := {
		"message": sprintf("Component %s (%s) reaches presentation component %s, only contexts may",
			[e.from, layer_of[e.from], e.to]),
		"severity": "error",
		"component": e.from,
	}
}`,
	}
}

// godComponentsPolicy flags components that fan out to too many direct
// dependencies.
func godComponentsPolicy() Policy {
	return Policy{
		Name:        "god-components",
		Description: "Flags components whose direct dependency count is above the advisory threshold",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"builtin", "coupling"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package keel.policies.god

import rego.v1

max_dependencies := 8

deny contains violation if {
	input.component
	component := input.component

	count(component.dependencies) > max_dependencies
	violation := {
		"message": sprintf("Component %s declares %d direct dependencies, above the advisory threshold of %d",
			[component.name, count(component.dependencies), max_dependencies]),
		"severity": "warning",
		"component": component.name,
	}
}`,
	}
}
