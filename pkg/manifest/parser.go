package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
)

// Parser parses and validates CUE architecture manifests.
type Parser struct {
	ctx       *cue.Context
	schema    cue.Value
	generator *Generator
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewParser creates a manifest parser with the built-in schema compiled
// and a sandboxed generator runtime.
func NewParser(logger zerolog.Logger) *Parser {
	cctx := cuecontext.New()
	return &Parser{
		ctx:       cctx,
		schema:    cctx.CompileString(manifestSchema).LookupPath(cue.ParsePath("#Manifest")),
		generator: NewGenerator(DefaultGeneratorTimeout),
		validator: validator.New(),
		logger:    logger.With().Str("component", "manifest-parser").Logger(),
	}
}

// Parse parses manifest sources, each a CUE file or a directory holding a
// CUE package. Multiple sources unify into one manifest. Content problems
// are reported through Manifest.Errors; the error return is reserved for
// I/O and usage failures.
func (p *Parser) Parse(ctx context.Context, sources []string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, arch.NewUsageError("no manifest sources provided", nil).
			WithCode(arch.ErrCodeInvalidInput).WithOperation("parse")
	}
	if err := p.schema.Err(); err != nil {
		return nil, arch.NewRuntimeError("built-in manifest schema failed to compile", err)
	}

	var value cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError
	baseDir := "."

	for i, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, arch.NewUsageError(fmt.Sprintf("reading manifest source %s", source), err).
				WithCode(arch.ErrCodeInvalidInput).WithOperation("parse")
		}

		if info.IsDir() {
			val, files, errs := p.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if value.Exists() {
					value = value.Unify(val)
				} else {
					value = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
			if i == 0 {
				baseDir = source
			}
		} else {
			val, errs := p.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if value.Exists() {
					value = value.Unify(val)
				} else {
					value = val
				}
			}
			sourceFiles = append(sourceFiles, source)
			if i == 0 {
				baseDir = filepath.Dir(source)
			}
		}
	}

	if len(parseErrors) > 0 {
		return &Manifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return p.finish(ctx, value, sourceFiles, baseDir)
}

// ParseInline parses inline CUE manifest content. Relative generator
// paths resolve against the working directory.
func (p *Parser) ParseInline(ctx context.Context, content string) (*Manifest, error) {
	if err := p.schema.Err(); err != nil {
		return nil, arch.NewRuntimeError("built-in manifest schema failed to compile", err)
	}

	value := p.ctx.CompileString(content)
	if err := value.Err(); err != nil {
		return &Manifest{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      p.convertCUEErrors(err),
		}, nil
	}

	return p.finish(ctx, value, []string{"inline"}, ".")
}

// finish unifies the loaded value with the schema, extracts the manifest,
// runs generators, and applies cross-component validation.
func (p *Parser) finish(ctx context.Context, value cue.Value, sourceFiles []string, baseDir string) (*Manifest, error) {
	if err := value.Err(); err != nil {
		return &Manifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      p.convertCUEErrors(err),
		}, nil
	}

	unified := p.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &Manifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      p.convertCUEErrors(err),
		}, nil
	}

	m := p.extract(unified, sourceFiles)
	p.runGenerators(ctx, unified, m, baseDir)
	p.validateManifest(m)

	p.logger.Debug().
		Int("components", len(m.Components)).
		Int("errors", len(m.Errors)).
		Strs("sources", sourceFiles).
		Msg("Manifest parsed")

	return m, nil
}

// loadDirectory loads a directory as a CUE package.
func (p *Parser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, p.convertCUEErrors(inst.Err)
	}

	val := p.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, p.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (p *Parser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := p.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, p.convertCUEErrors(err)
	}

	return val, nil
}

// extract decodes the project and component declarations from a
// schema-unified CUE value.
func (p *Parser) extract(val cue.Value, sourceFiles []string) *Manifest {
	m := &Manifest{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	projectVal := val.LookupPath(cue.ParsePath("project"))
	if projectVal.Exists() {
		if err := projectVal.Decode(&m.Project); err != nil {
			m.Errors = append(m.Errors, ValidationError{
				Path:     "project",
				Message:  fmt.Sprintf("failed to decode project: %v", err),
				Severity: "error",
			})
		}
	}

	compsVal := val.LookupPath(cue.ParsePath("components"))
	if !compsVal.Exists() {
		return m
	}

	switch compsVal.Kind() {
	case cue.StructKind:
		iter, err := compsVal.Fields()
		if err != nil {
			m.Errors = append(m.Errors, ValidationError{
				Path:     "components",
				Message:  fmt.Sprintf("failed to iterate components: %v", err),
				Severity: "error",
			})
			return m
		}
		for iter.Next() {
			name := iter.Selector().Unquoted()
			component, err := p.extractComponent(name, iter.Value())
			if err != nil {
				m.Errors = append(m.Errors, ValidationError{
					Path:     fmt.Sprintf("components.%s", name),
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			m.Components = append(m.Components, component)
		}
	case cue.ListKind:
		list, err := compsVal.List()
		if err != nil {
			m.Errors = append(m.Errors, ValidationError{
				Path:     "components",
				Message:  fmt.Sprintf("failed to list components: %v", err),
				Severity: "error",
			})
			return m
		}
		idx := 0
		for list.Next() {
			component, err := p.extractComponent("", list.Value())
			if err != nil {
				m.Errors = append(m.Errors, ValidationError{
					Path:     fmt.Sprintf("components[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				m.Components = append(m.Components, component)
			}
			idx++
		}
	}

	return m
}

// extractComponent decodes one component. The map key supplies the name
// when the component does not declare one itself.
func (p *Parser) extractComponent(name string, val cue.Value) (Component, error) {
	var component Component
	if err := val.Decode(&component); err != nil {
		return component, fmt.Errorf("failed to decode component: %w", err)
	}
	if component.Name == "" {
		component.Name = name
	}
	return component, nil
}

// runGenerators executes the manifest's Starlark generator scripts and
// appends their components. Each script sees the components accumulated
// so far. Script failures become manifest errors, not hard failures.
func (p *Parser) runGenerators(ctx context.Context, val cue.Value, m *Manifest, baseDir string) {
	gensVal := val.LookupPath(cue.ParsePath("generators"))
	if !gensVal.Exists() {
		return
	}

	var scripts []string
	if err := gensVal.Decode(&scripts); err != nil {
		m.Errors = append(m.Errors, ValidationError{
			Path:     "generators",
			Message:  fmt.Sprintf("failed to decode generators: %v", err),
			Severity: "error",
		})
		return
	}

	for _, script := range scripts {
		path := script
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			m.Errors = append(m.Errors, ValidationError{
				File:     path,
				Message:  fmt.Sprintf("failed to read generator script: %v", err),
				Severity: "error",
			})
			continue
		}

		input := map[string]interface{}{
			"project": map[string]interface{}{
				"name":    m.Project.Name,
				"version": m.Project.Version,
			},
			"existing": componentNameList(m.Components),
		}

		components, err := p.generator.Generate(ctx, string(content), input)
		if err != nil {
			m.Errors = append(m.Errors, ValidationError{
				File:     path,
				Message:  fmt.Sprintf("generator failed: %v", err),
				Severity: "error",
			})
			continue
		}

		m.Components = append(m.Components, components...)
		m.SourceFiles = append(m.SourceFiles, path)
	}
}

// validateManifest applies cross-component checks: struct validation,
// duplicate names, self-dependencies, and unknown dependency targets.
func (p *Parser) validateManifest(m *Manifest) {
	names := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if names[c.Name] {
			m.Errors = append(m.Errors, ValidationError{
				Path:     componentPath(c),
				Message:  fmt.Sprintf("duplicate component name %q", c.Name),
				Severity: "error",
			})
			continue
		}
		names[c.Name] = true
	}

	for _, c := range m.Components {
		if err := p.validator.Struct(c); err != nil {
			m.Errors = append(m.Errors, ValidationError{
				Path:     componentPath(c),
				Message:  fmt.Sprintf("validation failed: %v", err),
				Severity: "error",
			})
		}
		for _, target := range c.Dependencies() {
			if target == c.Name {
				m.Errors = append(m.Errors, ValidationError{
					Path:     componentPath(c),
					Message:  "component depends on itself",
					Severity: "error",
				})
				continue
			}
			if !names[target] {
				m.Errors = append(m.Errors, ValidationError{
					Path:     componentPath(c),
					Message:  fmt.Sprintf("unknown dependency target %q", target),
					Severity: "error",
				})
			}
		}
	}
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (p *Parser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// componentPath names a component's error location, falling back to the
// collection when the component has no usable name.
func componentPath(c Component) string {
	if c.Name == "" {
		return "components"
	}
	return "components." + c.Name
}

// componentNameList returns component names in declaration order.
func componentNameList(components []Component) []interface{} {
	names := make([]interface{}, len(components))
	for i, c := range components {
		names[i] = c.Name
	}
	return names
}
