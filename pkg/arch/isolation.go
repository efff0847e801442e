package arch

import (
	"fmt"
	"sort"
	"strings"
)

// contextMayDependOn reports whether a context-layer module may reference a
// module in the given layer. Context isolation permits only Client and
// Context targets, so a context can never reach a capability directly.
// This single rule backs the flow policy and all four isolation checkers.
func contextMayDependOn(to Layer) bool {
	return to == LayerClient || to == LayerContext
}

// CheckPair validates one declared dependency between two layers against
// the context isolation rule. Sources other than Context are outside this
// rule's concern and always pass.
func CheckPair(from, to Layer) error {
	if from != LayerContext {
		return nil
	}
	if contextMayDependOn(to) {
		return nil
	}
	return NewPolicyError(
		fmt.Sprintf("context may depend only on client or context, not %s", to), nil).
		WithCode(ErrCodeContextIsolation)
}

// Module describes a named module, its layer, and the modules it
// references, as seen by the module-level isolation checker.
type Module struct {
	// Name is the module name.
	Name string `json:"name" validate:"required"`

	// Layer is the module's architectural layer.
	Layer Layer `json:"layer" validate:"required"`

	// References names the modules this module depends on.
	References []string `json:"references,omitempty"`
}

// ModuleViolation describes a reference between named modules that breaks
// the context isolation rule.
type ModuleViolation struct {
	// From is the referencing module.
	From string `json:"from"`

	// FromLayer is the referencing module's layer.
	FromLayer Layer `json:"from_layer"`

	// To is the referenced module.
	To string `json:"to"`

	// ToLayer is the referenced module's layer.
	ToLayer Layer `json:"to_layer"`

	// Reason is the rule diagnostic.
	Reason string `json:"reason"`
}

// ModuleReport is the result of checking a set of named modules.
type ModuleReport struct {
	// Clean is true when no violation and no cycle was found.
	Clean bool `json:"clean"`

	// Violations lists isolation breaches between modules.
	Violations []ModuleViolation `json:"violations,omitempty"`

	// Cycles lists reference cycles between modules, each trimmed to the
	// offending loop.
	Cycles []Cycle `json:"cycles,omitempty"`
}

// CheckModules applies the context isolation rule to every reference
// between the given modules and searches the reference graph for cycles.
// References to modules not present in the input carry no layer
// information and are skipped.
func CheckModules(modules []Module) *ModuleReport {
	byName := make(map[string]Module, len(modules))
	for _, m := range modules {
		byName[m.Name] = m
	}

	report := &ModuleReport{
		Violations: make([]ModuleViolation, 0),
		Cycles:     make([]Cycle, 0),
	}

	for _, name := range sortedKeys(byName) {
		m := byName[name]
		if m.Layer != LayerContext {
			continue
		}
		refs := append([]string(nil), m.References...)
		sort.Strings(refs)
		for _, ref := range refs {
			target, ok := byName[ref]
			if !ok {
				continue
			}
			if contextMayDependOn(target.Layer) {
				continue
			}
			report.Violations = append(report.Violations, ModuleViolation{
				From:      m.Name,
				FromLayer: m.Layer,
				To:        target.Name,
				ToLayer:   target.Layer,
				Reason: fmt.Sprintf("context module %s may depend only on client or context modules, not %s (%s)",
					m.Name, target.Name, target.Layer),
			})
		}
	}

	adj := make(map[string]map[string]bool, len(byName))
	for name, m := range byName {
		adj[name] = make(map[string]bool)
		for _, ref := range m.References {
			if _, ok := byName[ref]; ok {
				adj[name][ref] = true
			}
		}
	}
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	for _, name := range sortedKeys(adj) {
		if !visited[name] {
			report.Cycles = append(report.Cycles,
				findCyclesFrom(adj, GraphKindContext, name, visited, recStack, make([]string, 0))...)
		}
	}

	report.Clean = len(report.Violations) == 0 && len(report.Cycles) == 0
	return report
}

// LayerRegistry resolves a module name to its architectural layer.
// Implementations are typically backed by a parsed manifest.
type LayerRegistry interface {
	LayerOf(name string) (Layer, bool)
}

// ImportFinding is a forbidden import detected in source text.
type ImportFinding struct {
	// Line is the 1-based line number of the import.
	Line int `json:"line"`

	// Path is the imported module path as written.
	Path string `json:"path"`

	// Layer is the resolved layer of the imported module.
	Layer Layer `json:"layer"`

	// Reason is the rule diagnostic.
	Reason string `json:"reason"`
}

// defaultImportAllowlist names framework-provided modules a context may
// always import.
var defaultImportAllowlist = []string{"keel", "keeltest"}

// ImportScanner checks Go-style import statements in raw source text
// against the context isolation rule. It is applied to sources belonging
// to context-layer modules.
type ImportScanner struct {
	registry  LayerRegistry
	allowlist map[string]bool
}

// NewImportScanner creates a scanner resolving import targets through the
// given registry. The framework's own modules plus any extra allow entries
// are exempt from the rule.
func NewImportScanner(registry LayerRegistry, allow ...string) *ImportScanner {
	allowlist := make(map[string]bool, len(defaultImportAllowlist)+len(allow))
	for _, name := range defaultImportAllowlist {
		allowlist[name] = true
	}
	for _, name := range allow {
		allowlist[name] = true
	}
	return &ImportScanner{
		registry:  registry,
		allowlist: allowlist,
	}
}

// Scan inspects source text for import statements whose targets a context
// module may not reference. Line and block comments are ignored; imports
// on the allowlist or unknown to the registry are skipped.
func (s *ImportScanner) Scan(src string) []ImportFinding {
	findings := make([]ImportFinding, 0)

	inBlockComment := false
	inImportBlock := false
	for i, line := range strings.Split(src, "\n") {
		code, stillInBlock := stripComments(line, inBlockComment)
		inBlockComment = stillInBlock
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}

		switch {
		case inImportBlock:
			if strings.HasPrefix(code, ")") {
				inImportBlock = false
				continue
			}
			if path, ok := quotedPath(code); ok {
				findings = s.check(findings, i+1, path)
			}
		case strings.HasPrefix(code, "import ("):
			inImportBlock = true
		case strings.HasPrefix(code, "import"):
			if path, ok := quotedPath(code); ok {
				findings = s.check(findings, i+1, path)
			}
		}
	}

	return findings
}

// check applies the allowlist, registry lookup, and isolation rule to one
// import path.
func (s *ImportScanner) check(findings []ImportFinding, line int, path string) []ImportFinding {
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		name = path[idx+1:]
	}
	if s.allowlist[path] || s.allowlist[name] {
		return findings
	}
	layer, ok := s.registry.LayerOf(name)
	if !ok {
		return findings
	}
	if contextMayDependOn(layer) {
		return findings
	}
	return append(findings, ImportFinding{
		Line:  line,
		Path:  path,
		Layer: layer,
		Reason: fmt.Sprintf("context module may not import %s (%s); only client or context imports are permitted",
			name, layer),
	})
}

// stripComments removes line and block comment content from one line,
// carrying block comment state across lines. Comment markers inside string
// literals are not handled; import paths never contain them.
func stripComments(line string, inBlock bool) (string, bool) {
	var sb strings.Builder
	for i := 0; i < len(line); {
		if inBlock {
			end := strings.Index(line[i:], "*/")
			if end < 0 {
				return sb.String(), true
			}
			i += end + 2
			inBlock = false
			continue
		}
		if strings.HasPrefix(line[i:], "//") {
			break
		}
		if strings.HasPrefix(line[i:], "/*") {
			inBlock = true
			i += 2
			continue
		}
		sb.WriteByte(line[i])
		i++
	}
	return sb.String(), inBlock
}

// quotedPath extracts the first double-quoted string from a line.
func quotedPath(code string) (string, bool) {
	start := strings.Index(code, `"`)
	if start < 0 {
		return "", false
	}
	end := strings.Index(code[start+1:], `"`)
	if end < 0 {
		return "", false
	}
	return code[start+1 : start+1+end], true
}
