package manifest

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
)

// Project identifies the system a manifest describes.
type Project struct {
	// Name is the project name.
	Name string `json:"name" validate:"required"`

	// Version is the manifest version.
	Version string `json:"version,omitempty"`
}

// Component is one architectural component declared in a manifest: its
// layer plus its dependencies in both graph kinds.
type Component struct {
	// Name is the component name, unique within the manifest.
	Name string `json:"name" validate:"required"`

	// Layer is the component's architectural layer.
	Layer arch.Layer `json:"layer" validate:"required,oneof=orchestrator context client capability state presentation"`

	// Contexts names the components this one depends on in the context
	// graph.
	Contexts []string `json:"contexts,omitempty"`

	// Capabilities names the components this one depends on in the
	// capability graph.
	Capabilities []string `json:"capabilities,omitempty"`

	// Description is an optional human-readable summary.
	Description string `json:"description,omitempty"`

	// Labels are key-value pairs for organizing components.
	Labels map[string]string `json:"labels,omitempty"`
}

// Dependencies returns the component's declared dependency targets across
// both graph kinds, context targets first.
func (c Component) Dependencies() []string {
	deps := make([]string, 0, len(c.Contexts)+len(c.Capabilities))
	deps = append(deps, c.Contexts...)
	deps = append(deps, c.Capabilities...)
	return deps
}

// Manifest is the fully parsed architecture manifest.
type Manifest struct {
	// Project is the project declaration.
	Project Project `json:"project"`

	// Components are all components defined in the manifest, in
	// declaration order with generator output appended.
	Components []Component `json:"components"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the manifest was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a manifest error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the manifest path to the error (e.g., "components.checkout").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// String renders the error with its location prefix when one is known.
func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if loc != "" && e.Path != "" {
		loc = loc + " " + e.Path
	} else if e.Path != "" {
		loc = e.Path
	}
	if loc == "" {
		return fmt.Sprintf("%s: %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Severity, loc, e.Message)
}

// Valid reports whether the manifest parsed without errors.
func (m *Manifest) Valid() bool {
	return len(m.Errors) == 0
}

// Component returns the named component.
func (m *Manifest) Component(name string) (Component, bool) {
	for _, c := range m.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// ComponentNames returns the names of all components in sorted order.
func (m *Manifest) ComponentNames() []string {
	names := make([]string, len(m.Components))
	for i, c := range m.Components {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// LayerOf returns the layer of the named component. Manifest satisfies
// the arch.LayerRegistry interface so it can back the import scanner.
func (m *Manifest) LayerOf(name string) (arch.Layer, bool) {
	c, ok := m.Component(name)
	if !ok {
		return "", false
	}
	return c.Layer, true
}

// Graph builds the two-kind dependency graph from the manifest's
// component declarations. Context targets populate the context graph and
// capability targets the capability graph. Components that declare no
// dependency and are not depended on do not appear in the graph.
func (m *Manifest) Graph(logger zerolog.Logger) (*arch.DependencyGraph, error) {
	log := logger.With().Str("component", "manifest").Logger()

	graph := arch.NewDependencyGraph()
	for _, c := range m.Components {
		for _, target := range c.Contexts {
			if err := graph.AddDependency(c.Name, target, arch.GraphKindContext); err != nil {
				return nil, err
			}
		}
		for _, target := range c.Capabilities {
			if err := graph.AddDependency(c.Name, target, arch.GraphKindCapability); err != nil {
				return nil, err
			}
		}
	}

	stats := graph.Stats()
	log.Debug().
		Int("components", len(m.Components)).
		Int("edges", stats.Dependencies).
		Msg("Dependency graph built")

	return graph, nil
}

// FlowEdges projects the manifest's component dependencies into layer
// pairs for flow analysis. Edges whose target is not a declared component
// are skipped; duplicates collapse to one edge. The result is ordered by
// layer level for deterministic reporting.
func (m *Manifest) FlowEdges() []arch.FlowEdge {
	layers := make(map[string]arch.Layer, len(m.Components))
	for _, c := range m.Components {
		layers[c.Name] = c.Layer
	}

	seen := make(map[arch.FlowEdge]bool)
	var edges []arch.FlowEdge
	for _, c := range m.Components {
		for _, target := range c.Dependencies() {
			toLayer, ok := layers[target]
			if !ok {
				continue
			}
			edge := arch.FlowEdge{From: c.Layer, To: toLayer}
			if seen[edge] {
				continue
			}
			seen[edge] = true
			edges = append(edges, edge)
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From.Level() != edges[j].From.Level() {
			return edges[i].From.Level() < edges[j].From.Level()
		}
		return edges[i].To.Level() < edges[j].To.Level()
	})

	return edges
}

// Modules adapts the manifest's components into named modules for the
// context isolation checker.
func (m *Manifest) Modules() []arch.Module {
	modules := make([]arch.Module, len(m.Components))
	for i, c := range m.Components {
		modules[i] = arch.Module{
			Name:       c.Name,
			Layer:      c.Layer,
			References: c.Dependencies(),
		}
	}
	return modules
}
