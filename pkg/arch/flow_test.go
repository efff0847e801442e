package arch

import (
	"strings"
	"testing"
)

func TestLayer_Level(t *testing.T) {
	tests := []struct {
		layer Layer
		want  int
	}{
		{LayerOrchestrator, 0},
		{LayerContext, 1},
		{LayerClient, 2},
		{LayerCapability, 3},
		{LayerState, 4},
		{LayerPresentation, 5},
		{Layer("widget"), -1},
	}
	for _, tt := range tests {
		if got := tt.layer.Level(); got != tt.want {
			t.Errorf("Level(%s) = %d, want %d", tt.layer, got, tt.want)
		}
	}
}

func TestParseLayer(t *testing.T) {
	layer, err := ParseLayer(" Client ")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if layer != LayerClient {
		t.Errorf("Expected client, got %s", layer)
	}

	if _, err := ParseLayer("widget"); err == nil {
		t.Error("Expected error for unknown layer")
	}
}

func TestFlowPolicy_Validate_Table(t *testing.T) {
	policy := NewFlowPolicy()

	tests := []struct {
		from Layer
		to   Layer
		want bool
	}{
		// The five pairs every caller relies on.
		{LayerContext, LayerCapability, false},
		{LayerOrchestrator, LayerContext, true},
		{LayerClient, LayerState, true},
		{LayerState, LayerClient, false},
		{LayerPresentation, LayerContext, false},

		// General downstream rule.
		{LayerOrchestrator, LayerClient, true},
		{LayerOrchestrator, LayerCapability, true},
		{LayerClient, LayerCapability, true},
		{LayerCapability, LayerClient, false},
		{LayerClient, LayerContext, false},
		{LayerCapability, LayerOrchestrator, false},

		// Same layer: forbidden except context composition.
		{LayerOrchestrator, LayerOrchestrator, false},
		{LayerClient, LayerClient, false},
		{LayerCapability, LayerCapability, false},
		{LayerContext, LayerContext, true},

		// Context isolation.
		{LayerContext, LayerClient, true},
		{LayerContext, LayerOrchestrator, false},

		// State ownership.
		{LayerOrchestrator, LayerState, false},
		{LayerContext, LayerState, false},
		{LayerCapability, LayerState, false},
		{LayerState, LayerState, false},
		{LayerState, LayerCapability, false},

		// Presentation binding.
		{LayerContext, LayerPresentation, true},
		{LayerOrchestrator, LayerPresentation, false},
		{LayerClient, LayerPresentation, false},
		{LayerPresentation, LayerPresentation, false},
		{LayerPresentation, LayerState, false},

		// Unknown layers.
		{Layer("widget"), LayerClient, false},
		{LayerClient, Layer(""), false},
	}

	for _, tt := range tests {
		if got := policy.Validate(tt.from, tt.to); got != tt.want {
			t.Errorf("Validate(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestFlowPolicy_ErrorMessage(t *testing.T) {
	policy := NewFlowPolicy()

	if msg := policy.ErrorMessage(LayerOrchestrator, LayerContext); msg != "" {
		t.Errorf("Expected empty message for permitted dependency, got: %s", msg)
	}

	msg := policy.ErrorMessage(LayerCapability, LayerClient)
	if !strings.Contains(msg, "level 3") || !strings.Contains(msg, "level 2") {
		t.Errorf("Expected both layer levels in reverse-order diagnostic, got: %s", msg)
	}

	msg = policy.ErrorMessage(LayerContext, LayerCapability)
	if !strings.Contains(msg, "client or context") {
		t.Errorf("Expected context isolation diagnostic, got: %s", msg)
	}

	msg = policy.ErrorMessage(LayerState, LayerClient)
	if !strings.Contains(msg, "terminal") {
		t.Errorf("Expected terminal layer diagnostic, got: %s", msg)
	}

	msg = policy.ErrorMessage(LayerOrchestrator, LayerState)
	if !strings.Contains(msg, "only client may own state") {
		t.Errorf("Expected state ownership diagnostic, got: %s", msg)
	}

	msg = policy.ErrorMessage(LayerClient, LayerPresentation)
	if !strings.Contains(msg, "only context may bind presentation") {
		t.Errorf("Expected presentation binding diagnostic, got: %s", msg)
	}

	msg = policy.ErrorMessage(Layer("widget"), LayerClient)
	if !strings.Contains(msg, "unknown layer") {
		t.Errorf("Expected unknown layer diagnostic, got: %s", msg)
	}
}
