package manifest

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func shopManifest() *Manifest {
	return &Manifest{
		Project: Project{Name: "shop", Version: "1.0.0"},
		Components: []Component{
			{Name: "app", Layer: arch.LayerOrchestrator, Contexts: []string{"checkout", "catalog"}},
			{Name: "checkout", Layer: arch.LayerContext, Contexts: []string{"catalog"}},
			{Name: "catalog", Layer: arch.LayerContext},
			{Name: "payments", Layer: arch.LayerClient, Capabilities: []string{"payments-api"}},
			{Name: "payments-api", Layer: arch.LayerCapability},
		},
	}
}

func TestManifest_Graph(t *testing.T) {
	m := shopManifest()

	graph, err := m.Graph(testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := graph.Validate()
	if !result.Valid {
		t.Errorf("expected valid graph, got: %s", result.Message)
	}

	deps := graph.Dependencies("checkout", arch.GraphKindContext)
	if len(deps) != 1 || deps[0] != "catalog" {
		t.Errorf("expected checkout context deps [catalog], got %v", deps)
	}
	deps = graph.Dependencies("payments", arch.GraphKindCapability)
	if len(deps) != 1 || deps[0] != "payments-api" {
		t.Errorf("expected payments capability deps [payments-api], got %v", deps)
	}
}

func TestManifest_GraphCycle(t *testing.T) {
	m := &Manifest{
		Project: Project{Name: "loop"},
		Components: []Component{
			{Name: "a", Layer: arch.LayerContext, Contexts: []string{"b"}},
			{Name: "b", Layer: arch.LayerContext, Contexts: []string{"a"}},
		},
	}

	graph, err := m.Graph(testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := graph.Validate()
	if result.Valid {
		t.Fatal("expected cycle to invalidate the graph")
	}
	if len(result.Cycles) == 0 {
		t.Fatal("expected at least one reported cycle")
	}
}

func TestManifest_FlowEdges(t *testing.T) {
	m := shopManifest()

	edges := m.FlowEdges()
	want := []arch.FlowEdge{
		{From: arch.LayerOrchestrator, To: arch.LayerContext},
		{From: arch.LayerContext, To: arch.LayerContext},
		{From: arch.LayerClient, To: arch.LayerCapability},
	}

	if len(edges) != len(want) {
		t.Fatalf("expected %d edges, got %d: %v", len(want), len(edges), edges)
	}
	for i, edge := range want {
		if edges[i] != edge {
			t.Errorf("edge %d: expected %v, got %v", i, edge, edges[i])
		}
	}
}

func TestManifest_FlowEdgesSkipsUnknownTargets(t *testing.T) {
	m := &Manifest{
		Components: []Component{
			{Name: "checkout", Layer: arch.LayerContext, Contexts: []string{"ghost"}},
		},
	}

	if edges := m.FlowEdges(); len(edges) != 0 {
		t.Errorf("expected no edges for unknown targets, got %v", edges)
	}
}

func TestManifest_LayerOf(t *testing.T) {
	m := shopManifest()

	layer, ok := m.LayerOf("payments")
	if !ok || layer != arch.LayerClient {
		t.Errorf("expected (client, true), got (%s, %v)", layer, ok)
	}

	if _, ok := m.LayerOf("ghost"); ok {
		t.Error("expected unknown component to report false")
	}

	// Manifest backs the import scanner as its layer registry.
	var registry arch.LayerRegistry = m
	if _, ok := registry.LayerOf("checkout"); !ok {
		t.Error("expected registry lookup to succeed")
	}
}

func TestManifest_Modules(t *testing.T) {
	m := shopManifest()

	modules := m.Modules()
	if len(modules) != len(m.Components) {
		t.Fatalf("expected %d modules, got %d", len(m.Components), len(modules))
	}

	var app arch.Module
	for _, mod := range modules {
		if mod.Name == "app" {
			app = mod
		}
	}
	if app.Layer != arch.LayerOrchestrator {
		t.Errorf("expected app layer orchestrator, got %s", app.Layer)
	}
	if len(app.References) != 2 {
		t.Errorf("expected app references [checkout catalog], got %v", app.References)
	}

	report := arch.CheckModules(modules)
	if !report.Clean {
		t.Errorf("expected clean isolation report, got %+v", report)
	}
}

func TestManifest_ComponentNames(t *testing.T) {
	m := shopManifest()

	names := m.ComponentNames()
	if len(names) != 5 {
		t.Fatalf("expected 5 names, got %d", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("expected sorted names, got %v", names)
		}
	}
}

func TestManifest_Valid(t *testing.T) {
	m := &Manifest{}
	if !m.Valid() {
		t.Error("expected manifest without errors to be valid")
	}

	m.Errors = append(m.Errors, ValidationError{Message: "boom", Severity: "error"})
	if m.Valid() {
		t.Error("expected manifest with errors to be invalid")
	}
}

func TestComponent_Dependencies(t *testing.T) {
	c := Component{
		Name:         "payments",
		Layer:        arch.LayerClient,
		Contexts:     []string{"checkout"},
		Capabilities: []string{"payments-api", "vault"},
	}

	deps := c.Dependencies()
	if len(deps) != 3 {
		t.Fatalf("expected 3 dependencies, got %d", len(deps))
	}
	if deps[0] != "checkout" || deps[2] != "vault" {
		t.Errorf("expected context targets first, got %v", deps)
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		name string
		err  ValidationError
		want string
	}{
		{
			name: "with location",
			err: ValidationError{
				File: "arch.cue", Line: 3, Column: 7,
				Message: "bad layer", Severity: "error",
			},
			want: "error: arch.cue:3:7: bad layer",
		},
		{
			name: "path only",
			err: ValidationError{
				Path: "components.checkout", Message: "duplicate", Severity: "error",
			},
			want: "error: components.checkout: duplicate",
		},
		{
			name: "message only",
			err:  ValidationError{Message: "no CUE files found", Severity: "error"},
			want: "error: no CUE files found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.String()
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if !strings.HasPrefix(got, tt.err.Severity) {
				t.Errorf("expected severity prefix, got %q", got)
			}
		})
	}
}
