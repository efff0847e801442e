package arch

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// descriptorValidator validates decoded module descriptors.
var descriptorValidator = validator.New()

// ModuleDescriptor is the build-tool-facing description of a module: its
// name, layer, and declared dependencies with their layers. Build tooling
// emits one per module so layer rules can be enforced without parsing
// source code.
type ModuleDescriptor struct {
	// Name is the module name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Layer is the module's architectural layer.
	Layer string `yaml:"layer" json:"layer" validate:"required,oneof=orchestrator context client capability state presentation"`

	// Dependencies lists the module's declared dependencies.
	Dependencies []DescriptorDependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty" validate:"dive"`
}

// DescriptorDependency is one declared dependency in a module descriptor.
type DescriptorDependency struct {
	// Name is the dependency's module name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Layer is the dependency's architectural layer.
	Layer string `yaml:"layer" json:"layer" validate:"required,oneof=orchestrator context client capability state presentation"`
}

// LoadModuleDescriptor reads, decodes, and validates a YAML module
// descriptor file.
func LoadModuleDescriptor(path string) (*ModuleDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewUsageError("reading module descriptor", err).
			WithCode(ErrCodeInvalidInput).WithComponent(path)
	}
	return ParseModuleDescriptor(data)
}

// ParseModuleDescriptor decodes and validates YAML module descriptor data.
func ParseModuleDescriptor(data []byte) (*ModuleDescriptor, error) {
	var desc ModuleDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, NewUsageError("parsing module descriptor", err).
			WithCode(ErrCodeInvalidInput)
	}
	if err := descriptorValidator.Struct(&desc); err != nil {
		return nil, NewUsageError("invalid module descriptor", err).
			WithCode(ErrCodeInvalidInput).WithComponent(desc.Name)
	}
	return &desc, nil
}

// Check applies the context isolation rule to the descriptor's declared
// dependencies and returns every breach. Descriptors for modules outside
// the context layer always pass.
func (d *ModuleDescriptor) Check() []ModuleViolation {
	violations := make([]ModuleViolation, 0)

	from, err := ParseLayer(d.Layer)
	if err != nil || from != LayerContext {
		return violations
	}

	for _, dep := range d.Dependencies {
		to, err := ParseLayer(dep.Layer)
		if err != nil {
			violations = append(violations, ModuleViolation{
				From:      d.Name,
				FromLayer: from,
				To:        dep.Name,
				Reason:    fmt.Sprintf("dependency %s declares unknown layer %q", dep.Name, dep.Layer),
			})
			continue
		}
		if contextMayDependOn(to) {
			continue
		}
		violations = append(violations, ModuleViolation{
			From:      d.Name,
			FromLayer: from,
			To:        dep.Name,
			ToLayer:   to,
			Reason: fmt.Sprintf("context module %s may depend only on client or context modules, not %s (%s)",
				d.Name, dep.Name, to),
		})
	}

	return violations
}
