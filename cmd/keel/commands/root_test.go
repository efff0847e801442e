package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// runCLI executes the root command with the given arguments and returns
// the combined output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLIContext(t, context.Background(), args...)
}

func runCLIContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	// Reset flag globals mutated by previous runs.
	verbose = false
	jsonOutput = false

	root := newRootCommand("test", "none", "unknown")
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

// writeManifest writes content to a temp arch.cue and returns its path.
func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arch.cue")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

const shopManifest = `
project: {name: "shop", version: "1.0.0"}

components: {
	app: {layer: "orchestrator", contexts: ["checkout", "catalog"]}
	checkout: {layer: "context", contexts: ["catalog"]}
	catalog: {layer: "context"}
	payments: {layer: "client", capabilities: ["payments-api"]}
	"payments-api": {layer: "capability"}
}
`

func TestRootCommand_Version(t *testing.T) {
	out, err := runCLI(t, "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test (commit: none, built: unknown)") {
		t.Errorf("expected full version string, got %q", out)
	}
}

func TestRootCommand_UnknownCommand(t *testing.T) {
	if _, err := runCLI(t, "frobnicate"); err == nil {
		t.Error("expected error for unknown command")
	}
}
