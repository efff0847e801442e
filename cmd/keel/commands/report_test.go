package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/keelframework/keel/pkg/manifest"
	"github.com/keelframework/keel/pkg/policy"
)

func TestWarningCount(t *testing.T) {
	report := &ValidationReport{}
	if report.WarningCount() != 0 {
		t.Errorf("expected 0 warnings without a policy section, got %d", report.WarningCount())
	}

	report.Policy = &policy.PolicyResult{
		Violations: []policy.PolicyViolation{
			{Policy: "a", Severity: policy.SeverityWarning},
			{Policy: "b", Severity: policy.SeverityError},
			{Policy: "c", Severity: policy.SeverityInfo},
			{Policy: "d", Severity: policy.SeverityWarning},
		},
		Warnings: []string{"policy e evaluation failed: boom"},
	}
	if got := report.WarningCount(); got != 3 {
		t.Errorf("expected 3 warnings (2 warning violations + 1 skipped policy), got %d", got)
	}
}

func TestRenderYAML_UsesJSONFieldNames(t *testing.T) {
	report := &ValidationReport{
		RunID:       "run-1",
		Project:     "shop",
		GeneratedAt: time.Now(),
	}

	var buf bytes.Buffer
	if err := renderYAML(&buf, report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"run_id: run-1", "project: shop", "generated_at:", "valid: false"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected YAML output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderHuman_SkipsStagesOnManifestErrors(t *testing.T) {
	report := &ValidationReport{
		RunID:   "run-2",
		Project: "broken",
		ManifestErrors: []manifest.ValidationError{
			{File: "arch.cue", Message: "conflicting values"},
		},
	}

	var buf bytes.Buffer
	renderHuman(&buf, report)

	out := buf.String()
	if !strings.Contains(out, "manifest: 1 problems") {
		t.Errorf("expected manifest problem count, got:\n%s", out)
	}
	if !strings.Contains(out, "skipped") {
		t.Errorf("expected skipped stages, got:\n%s", out)
	}
	if !strings.Contains(out, "result: FAIL") {
		t.Errorf("expected FAIL result, got:\n%s", out)
	}
}
