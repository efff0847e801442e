package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateCommand_CleanManifest(t *testing.T) {
	path := writeManifest(t, shopManifest)

	out, err := runCLI(t, "validate", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out)
	}

	wants := []string{
		"Project: shop",
		"manifest: ok",
		"graph: ok",
		"flow: ok",
		"isolation: ok",
		"policy: 5 evaluated, 0 findings",
		"result: PASS",
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestValidateCommand_FlowViolation(t *testing.T) {
	path := writeManifest(t, `
project: {name: "flawed"}

components: {
	app: {layer: "orchestrator", contexts: ["shop"]}
	shop: {layer: "context"}
	pay: {layer: "capability", contexts: ["shop"]}
}
`)

	out, err := runCLI(t, "validate", path)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(out, "flow: 1 forbidden dependencies") {
		t.Errorf("expected one flow violation, got:\n%s", out)
	}
	if !strings.Contains(out, "capability") || !strings.Contains(out, "downstream") {
		t.Errorf("expected flow diagnostic, got:\n%s", out)
	}
	if !strings.Contains(out, "result: FAIL") {
		t.Errorf("expected FAIL result, got:\n%s", out)
	}
}

func TestValidateCommand_ManifestErrors(t *testing.T) {
	path := writeManifest(t, `
project: {name: 42}
components: {checkout: {layer: "context"}}
`)

	out, err := runCLI(t, "validate", path)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(out, "manifest:") || strings.Contains(out, "manifest: ok") {
		t.Errorf("expected manifest problems, got:\n%s", out)
	}
	if !strings.Contains(out, "skipped") {
		t.Errorf("expected later stages to be skipped, got:\n%s", out)
	}
}

func TestValidateCommand_JSONOutput(t *testing.T) {
	path := writeManifest(t, shopManifest)

	out, err := runCLI(t, "validate", path, "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out)
	}

	var report map[string]interface{}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to decode JSON output: %v\noutput:\n%s", err, out)
	}
	if valid, ok := report["valid"].(bool); !ok || !valid {
		t.Errorf("expected valid report, got %v", report["valid"])
	}
	if runID, ok := report["run_id"].(string); !ok || runID == "" {
		t.Error("expected a run id")
	}
	if _, ok := report["policy"]; !ok {
		t.Error("expected policy section in report")
	}
}

func TestValidateCommand_YAMLOutput(t *testing.T) {
	path := writeManifest(t, shopManifest)

	out, err := runCLI(t, "validate", path, "--yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "valid: true") {
		t.Errorf("expected 'valid: true' in YAML output, got:\n%s", out)
	}
	if !strings.Contains(out, "run_id:") {
		t.Errorf("expected JSON-style keys in YAML output, got:\n%s", out)
	}
}

func TestValidateCommand_StrictTreatsWarningsAsFailures(t *testing.T) {
	path := writeManifest(t, `
project: {name: "strict"}

components: {
	shared: {layer: "capability"}
	c0: {layer: "client", capabilities: ["shared"]}
	c1: {layer: "client", capabilities: ["shared"]}
	c2: {layer: "client", capabilities: ["shared"]}
	c3: {layer: "client", capabilities: ["shared"]}
	c4: {layer: "client", capabilities: ["shared"]}
	c5: {layer: "client", capabilities: ["shared"]}
}
`)

	out, err := runCLI(t, "validate", path)
	if err != nil {
		t.Fatalf("expected warnings to pass without --strict: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "capability-fan-in") {
		t.Errorf("expected fan-in warning in output, got:\n%s", out)
	}

	if _, err := runCLI(t, "validate", path, "--strict"); err == nil {
		t.Fatal("expected --strict to fail on warnings")
	} else if !strings.Contains(err.Error(), "strict") {
		t.Errorf("expected strict-mode error, got %v", err)
	}
}

func TestValidateCommand_DescriptorViolations(t *testing.T) {
	manifestPath := writeManifest(t, shopManifest)

	descriptor := `
name: checkout
layer: context
dependencies:
  - name: payments-lib
    layer: capability
`
	descPath := filepath.Join(t.TempDir(), "checkout.yaml")
	if err := os.WriteFile(descPath, []byte(descriptor), 0o644); err != nil {
		t.Fatalf("failed to write descriptor: %v", err)
	}

	out, err := runCLI(t, "validate", manifestPath, "--descriptor", descPath)
	if err == nil {
		t.Fatal("expected descriptor violation to fail validation")
	}
	if !strings.Contains(out, "descriptors: 1 violations") {
		t.Errorf("expected descriptor violation in output, got:\n%s", out)
	}
}

func TestValidateCommand_CustomPolicyDir(t *testing.T) {
	manifestPath := writeManifest(t, `
project: {name: "owned"}

components: {
	app: {layer: "orchestrator", contexts: ["core"], labels: {owner: "team-a"}}
	core: {layer: "context"}
}
`)

	policyDir := t.TempDir()
	policyContent := `# Requires every component to declare an owner label.
# severity: error
package keel.policies.owner

import rego.v1

deny contains violation if {
	input.component
	component := input.component
	not component.labels.owner
	violation := {
		"message": sprintf("Component %s has no owner label", [component.name]),
		"component": component.name,
	}
}
`
	if err := os.WriteFile(filepath.Join(policyDir, "required-owner.rego"), []byte(policyContent), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	out, err := runCLI(t, "validate", manifestPath, "--policy-dir", policyDir)
	if err == nil {
		t.Fatal("expected custom policy violation to fail validation")
	}
	if !strings.Contains(out, "required-owner") || !strings.Contains(out, "core") {
		t.Errorf("expected required-owner violation for core, got:\n%s", out)
	}
}

func TestValidateCommand_RequiresArgs(t *testing.T) {
	if _, err := runCLI(t, "validate"); err == nil {
		t.Error("expected error when no paths are given")
	}
}
