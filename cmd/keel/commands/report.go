package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/keelframework/keel/pkg/arch"
	"github.com/keelframework/keel/pkg/manifest"
	"github.com/keelframework/keel/pkg/policy"
)

// ValidationReport aggregates every check a validation run performs
// against one manifest. Sections after ManifestErrors are nil when the
// manifest itself failed to parse.
type ValidationReport struct {
	RunID          string                     `json:"run_id"`
	Project        string                     `json:"project,omitempty"`
	Sources        []string                   `json:"sources,omitempty"`
	GeneratedAt    time.Time                  `json:"generated_at"`
	ManifestErrors []manifest.ValidationError `json:"manifest_errors,omitempty"`
	Graph          *arch.ValidationResult     `json:"graph,omitempty"`
	Flow           []arch.InvalidDependency   `json:"flow,omitempty"`
	Isolation      *arch.ModuleReport         `json:"isolation,omitempty"`
	Descriptors    []arch.ModuleViolation     `json:"descriptors,omitempty"`
	Policy         *policy.PolicyResult       `json:"policy,omitempty"`
	Valid          bool                       `json:"valid"`
}

// WarningCount returns the advisory findings: warning-severity policy
// violations plus policies that failed to evaluate. Info findings are
// not counted, even under strict mode.
func (r *ValidationReport) WarningCount() int {
	if r.Policy == nil {
		return 0
	}
	count := len(r.Policy.Warnings)
	for _, v := range r.Policy.Violations {
		if v.Severity == policy.SeverityWarning {
			count++
		}
	}
	return count
}

// validationOptions configures a validation run.
type validationOptions struct {
	policyDirs  []string
	descriptors []string
}

// runValidation executes the full check pipeline: manifest errors,
// graph cycles, flow analysis, context isolation, module descriptors,
// and policy packs. Manifest errors short-circuit everything except the
// descriptor checks, which have their own inputs.
func runValidation(ctx context.Context, logger zerolog.Logger, m *manifest.Manifest, opts validationOptions) (*ValidationReport, error) {
	report := &ValidationReport{
		RunID:          uuid.New().String(),
		Project:        m.Project.Name,
		Sources:        m.SourceFiles,
		GeneratedAt:    time.Now(),
		ManifestErrors: m.Errors,
	}

	if len(opts.descriptors) > 0 {
		report.Descriptors = []arch.ModuleViolation{}
		for _, path := range opts.descriptors {
			desc, err := arch.LoadModuleDescriptor(path)
			if err != nil {
				return nil, err
			}
			report.Descriptors = append(report.Descriptors, desc.Check()...)
		}
	}

	if !m.Valid() {
		return report, nil
	}

	graph, err := m.Graph(logger)
	if err != nil {
		return nil, err
	}
	report.Graph = graph.Validate()

	analyzer := arch.NewDependencyAnalyzer(m.FlowEdges())
	report.Flow = analyzer.FindInvalidDependencies()

	report.Isolation = arch.CheckModules(m.Modules())

	eng, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(opts.policyDirs) > 0 {
		if err := eng.LoadPolicies(ctx, opts.policyDirs); err != nil {
			return nil, err
		}
	}
	result, err := eng.EvaluateManifest(ctx, m, &policy.PolicyContext{Operation: "validate"})
	if err != nil {
		return nil, err
	}
	report.Policy = result

	report.Valid = report.Graph.Valid &&
		len(report.Flow) == 0 &&
		report.Isolation.Clean &&
		len(report.Descriptors) == 0 &&
		result.Allowed

	return report, nil
}

// renderJSON writes the report as indented JSON.
func renderJSON(w io.Writer, report *ValidationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// renderYAML writes the report as YAML. The report is round-tripped
// through JSON so the YAML keys match the JSON field names.
func renderYAML(w io.Writer, report *ValidationReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// renderHuman writes a line-oriented summary of the report.
func renderHuman(w io.Writer, report *ValidationReport) {
	fmt.Fprintf(w, "Project: %s\n", report.Project)
	fmt.Fprintf(w, "Run ID:  %s\n", report.RunID)
	for _, source := range report.Sources {
		fmt.Fprintf(w, "Source:  %s\n", source)
	}
	fmt.Fprintln(w)

	if len(report.ManifestErrors) > 0 {
		fmt.Fprintf(w, "manifest: %d problems\n", len(report.ManifestErrors))
		for _, e := range report.ManifestErrors {
			fmt.Fprintf(w, "  - %s\n", e.String())
		}
	} else {
		fmt.Fprintln(w, "manifest: ok")
	}

	if report.Descriptors != nil {
		if len(report.Descriptors) == 0 {
			fmt.Fprintln(w, "descriptors: ok")
		} else {
			fmt.Fprintf(w, "descriptors: %d violations\n", len(report.Descriptors))
			for _, v := range report.Descriptors {
				fmt.Fprintf(w, "  - %s\n", v.Reason)
			}
		}
	}

	if report.Graph == nil {
		if len(report.ManifestErrors) > 0 {
			fmt.Fprintln(w, "graph, flow, isolation, policy: skipped")
		}
	} else {
		if report.Graph.Valid {
			fmt.Fprintln(w, "graph: ok")
		} else {
			fmt.Fprintf(w, "graph: %d cycles\n", len(report.Graph.Cycles))
			for _, c := range report.Graph.Cycles {
				fmt.Fprintf(w, "  - %s (%s)\n", c.String(), c.Kind)
			}
		}

		if len(report.Flow) == 0 {
			fmt.Fprintln(w, "flow: ok")
		} else {
			fmt.Fprintf(w, "flow: %d forbidden dependencies\n", len(report.Flow))
			for _, inv := range report.Flow {
				fmt.Fprintf(w, "  - %s -> %s: %s\n", inv.Edge.From, inv.Edge.To, inv.Reason)
			}
		}

		if report.Isolation.Clean {
			fmt.Fprintln(w, "isolation: ok")
		} else {
			fmt.Fprintf(w, "isolation: %d violations, %d cycles\n",
				len(report.Isolation.Violations), len(report.Isolation.Cycles))
			for _, v := range report.Isolation.Violations {
				fmt.Fprintf(w, "  - %s\n", v.Reason)
			}
			for _, c := range report.Isolation.Cycles {
				fmt.Fprintf(w, "  - cycle: %s\n", c.String())
			}
		}

		p := report.Policy
		fmt.Fprintf(w, "policy: %d evaluated, %d findings\n",
			len(p.EvaluatedPolicies), len(p.Violations))
		for _, v := range p.Violations {
			fmt.Fprintf(w, "  - [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		}
		for _, warning := range p.Warnings {
			fmt.Fprintf(w, "  - [skipped] %s\n", warning)
		}
	}

	fmt.Fprintln(w)
	if report.Valid {
		fmt.Fprintln(w, "result: PASS")
	} else {
		fmt.Fprintln(w, "result: FAIL")
	}
}
