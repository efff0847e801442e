package arch

import (
	"strings"
	"testing"
)

func TestDependencyAnalyzer_IsUnidirectional(t *testing.T) {
	analyzer := NewDependencyAnalyzer([]FlowEdge{
		{From: LayerOrchestrator, To: LayerContext},
		{From: LayerContext, To: LayerClient},
		{From: LayerClient, To: LayerCapability},
		{From: LayerClient, To: LayerState},
		{From: LayerContext, To: LayerPresentation},
	})

	if !analyzer.IsUnidirectional() {
		t.Error("Expected the canonical layer stack to be unidirectional")
	}
}

func TestDependencyAnalyzer_IsUnidirectional_PolicyViolation(t *testing.T) {
	analyzer := NewDependencyAnalyzer([]FlowEdge{
		{From: LayerOrchestrator, To: LayerContext},
		{From: LayerCapability, To: LayerClient},
	})

	if analyzer.IsUnidirectional() {
		t.Error("Expected an upward edge to fail the analysis")
	}
}

func TestDependencyAnalyzer_IsUnidirectional_CycleWithValidEdges(t *testing.T) {
	// A context -> context edge passes the per-edge policy but makes the
	// layer graph cyclic, so the set as a whole is not unidirectional.
	analyzer := NewDependencyAnalyzer([]FlowEdge{
		{From: LayerContext, To: LayerContext},
	})

	if analyzer.IsUnidirectional() {
		t.Error("Expected a layer-level cycle to fail the analysis")
	}
}

func TestDependencyAnalyzer_FindInvalidDependencies(t *testing.T) {
	analyzer := NewDependencyAnalyzer([]FlowEdge{
		{From: LayerCapability, To: LayerClient},
		{From: LayerOrchestrator, To: LayerContext},
		{From: LayerContext, To: LayerCapability},
	})

	invalid := analyzer.FindInvalidDependencies()
	if len(invalid) != 2 {
		t.Fatalf("Expected 2 invalid dependencies, got %d: %v", len(invalid), invalid)
	}

	if invalid[0].Edge.From != LayerCapability {
		t.Errorf("Expected input order to be preserved, got %v first", invalid[0].Edge)
	}
	if !strings.Contains(invalid[0].Reason, "downstream") {
		t.Errorf("Expected downstream diagnostic, got: %s", invalid[0].Reason)
	}
	if !strings.Contains(invalid[1].Reason, "client or context") {
		t.Errorf("Expected context isolation diagnostic, got: %s", invalid[1].Reason)
	}
}

func TestDependencyAnalyzer_Visualize(t *testing.T) {
	analyzer := NewDependencyAnalyzer([]FlowEdge{
		{From: LayerOrchestrator, To: LayerContext},
		{From: LayerContext, To: LayerClient},
		{From: LayerOrchestrator, To: LayerClient},
	})

	want := "context -> client\norchestrator -> client, context\n"
	if got := analyzer.Visualize(); got != want {
		t.Errorf("Expected stable sorted listing:\n%q\ngot:\n%q", want, got)
	}

	// Same edges, different declaration order: identical output.
	reordered := NewDependencyAnalyzer([]FlowEdge{
		{From: LayerOrchestrator, To: LayerClient},
		{From: LayerContext, To: LayerClient},
		{From: LayerOrchestrator, To: LayerContext},
	})
	if reordered.Visualize() != want {
		t.Error("Expected visualization to be independent of edge order")
	}
}
