package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test-policy.rego")

	regoContent := `package test.policy

import rego.v1

# Rejects components named invalid.

deny contains msg if {
	input.component.name == "invalid"
	msg := "invalid component name"
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got '%s'", policy.Severity)
	}
	if policy.Description != "Rejects components named invalid." {
		t.Errorf("Unexpected description: '%s'", policy.Description)
	}
}

func TestLoadFromFile_SeverityComment(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "strict.rego")

	regoContent := `package test.strict

import rego.v1

# severity: critical
# No component may be named forbidden.

deny contains msg if {
	input.component.name == "forbidden"
	msg := "forbidden component name"
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Severity != SeverityCritical {
		t.Errorf("Expected severity critical, got '%s'", policy.Severity)
	}
	if policy.Description != "No component may be named forbidden." {
		t.Errorf("Severity line must not leak into the description, got '%s'", policy.Description)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test-policy.json")

	policy := Policy{
		Name:        "test-json-policy",
		Description: "A test policy",
		Rego:        "package test\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"test"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	if err := os.WriteFile(policyFile, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded.Name)
	}
	if loaded.Description != policy.Description {
		t.Errorf("Expected description '%s', got '%s'", policy.Description, loaded.Description)
	}
	if loaded.Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, loaded.Severity)
	}
}

func TestLoadFromFile_JSONDefaults(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "minimal.json")

	data := []byte(`{"name": "minimal", "rego": "package minimal"}`)
	if err := os.WriteFile(policyFile, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got '%s'", loaded.Severity)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be defaulted")
	}
}

func TestLoadFromFile_Unsupported(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "policy.yaml")
	if err := os.WriteFile(policyFile, []byte("name: nope"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Fatal("Expected an error for unsupported file type")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(tmpDir, "nested"), 0755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	files := map[string]string{
		"policy1.rego": "package policy1\n\nimport rego.v1\n",
		"policy2.rego": "package policy2\n\nimport rego.v1\n",
		"notes.txt":    "not a policy",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
	}

	nested := filepath.Join(tmpDir, "nested", "policy3.rego")
	if err := os.WriteFile(nested, []byte("package policy3\n\nimport rego.v1\n"), 0644); err != nil {
		t.Fatalf("Failed to write nested policy: %v", err)
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if len(policies) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(policies))
	}
}

func TestLoadFromPaths_MissingPath(t *testing.T) {
	loader := newTestLoader()

	_, err := loader.LoadFromPaths(context.Background(), []string{"/does/not/exist"})
	if err == nil {
		t.Fatal("Expected an error for missing path")
	}
	if !arch.IsUsage(err) {
		t.Errorf("Expected a usage error, got %v", err)
	}
}

func TestLoaderCache(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "cached.rego")

	first := "package cached.v1\n\nimport rego.v1\n"
	second := "package cached.v2\n\nimport rego.v1\n"

	if err := os.WriteFile(policyFile, []byte(first), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded.Rego != first {
		t.Fatal("Unexpected initial content")
	}

	if err := os.WriteFile(policyFile, []byte(second), 0644); err != nil {
		t.Fatalf("Failed to rewrite test file: %v", err)
	}

	cached, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if cached.Rego != first {
		t.Error("Expected the cached content on the second load")
	}

	loader.ClearCache()

	fresh, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if fresh.Rego != second {
		t.Error("Expected the rewritten content after ClearCache")
	}
}

func TestLoaderWatch(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	initial := filepath.Join(tmpDir, "first.rego")
	if err := os.WriteFile(initial, []byte("package first\n\nimport rego.v1\n"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan []Policy, 1)
	err := loader.Watch(ctx, []string{tmpDir}, func(policies []Policy) error {
		select {
		case reloads <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start watching: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	// Give the watcher a moment to register before changing files.
	time.Sleep(50 * time.Millisecond)

	added := filepath.Join(tmpDir, "second.rego")
	if err := os.WriteFile(added, []byte("package second\n\nimport rego.v1\n"), 0644); err != nil {
		t.Fatalf("Failed to write new policy: %v", err)
	}

	select {
	case policies := <-reloads:
		names := make(map[string]bool, len(policies))
		for _, p := range policies {
			names[p.Name] = true
		}
		if !names["first"] || !names["second"] {
			t.Errorf("Expected both policies in the reload, got %v", names)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for policy reload")
	}
}

func TestExtractMetadata(t *testing.T) {
	loader := newTestLoader()

	tests := []struct {
		name            string
		content         string
		wantDescription string
		wantSeverity    Severity
	}{
		{
			name:            "plain description",
			content:         "# Checks a thing.\n# Thoroughly.\npackage x\n",
			wantDescription: "Checks a thing. Thoroughly.",
			wantSeverity:    "",
		},
		{
			name:            "severity only",
			content:         "# severity: info\npackage x\n",
			wantDescription: "",
			wantSeverity:    SeverityInfo,
		},
		{
			name:            "unknown severity ignored",
			content:         "# severity: fatal\n# Still described.\npackage x\n",
			wantDescription: "Still described.",
			wantSeverity:    "",
		},
		{
			name:            "no comments",
			content:         "package x\n",
			wantDescription: "",
			wantSeverity:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			description, severity := loader.extractMetadata(tt.content)
			if description != tt.wantDescription {
				t.Errorf("Expected description '%s', got '%s'", tt.wantDescription, description)
			}
			if severity != tt.wantSeverity {
				t.Errorf("Expected severity '%s', got '%s'", tt.wantSeverity, severity)
			}
		})
	}
}
