package commands

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWatchCommand_InitialReport(t *testing.T) {
	path := writeManifest(t, shopManifest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := runCLIContext(t, ctx, "watch", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "result: PASS") {
		t.Errorf("expected initial report before watching, got:\n%s", out)
	}
}

func TestWatchCommand_RevalidatesOnChange(t *testing.T) {
	path := writeManifest(t, shopManifest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var out string
	var err error
	go func() {
		defer close(done)
		out, err = runCLIContext(t, ctx, "watch", path)
	}()

	// Give the watcher a moment to register before changing the file.
	time.Sleep(200 * time.Millisecond)

	broken := `
project: {name: "shop"}

components: {
	app: {layer: "orchestrator", contexts: ["shop"]}
	shop: {layer: "context"}
	pay: {layer: "capability", contexts: ["shop"]}
}
`
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("failed to rewrite manifest: %v", err)
	}

	// Wait out the watcher debounce plus the re-run before stopping.
	time.Sleep(2 * time.Second)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch command did not stop on context cancel")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "result: PASS") {
		t.Errorf("expected initial passing report, got:\n%s", out)
	}
	if !strings.Contains(out, "result: FAIL") {
		t.Errorf("expected failing report after change, got:\n%s", out)
	}
}
