package manifest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/keelframework/keel/pkg/arch"
)

// DefaultGeneratorTimeout bounds a single generator script execution.
const DefaultGeneratorTimeout = 30 * time.Second

// Generator executes Starlark generator scripts safely. Scripts receive
// the project declaration and the names of already-declared components
// and emit additional components through a components global.
type Generator struct {
	timeout time.Duration
}

// NewGenerator creates a generator runtime with the given per-script
// timeout.
func NewGenerator(timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = DefaultGeneratorTimeout
	}
	return &Generator{
		timeout: timeout,
	}
}

// GeneratorResult represents the result of a script execution.
type GeneratorResult struct {
	// Output is the script's exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// Generate runs a script and converts its components global into
// manifest components. The global may be a dict keyed by component name
// or a list of dicts carrying a name field.
func (g *Generator) Generate(ctx context.Context, script string, input map[string]interface{}) ([]Component, error) {
	result, err := g.Evaluate(ctx, script, input)
	if err != nil {
		return nil, err
	}

	raw, ok := result.Output["components"]
	if !ok {
		return nil, fmt.Errorf("script did not define a components global")
	}

	return componentsFromOutput(raw)
}

// Evaluate executes a Starlark script with the given input and returns
// the raw result.
func (g *Generator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*GeneratorResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resultCh := make(chan *GeneratorResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := g.evaluateSync(script, input)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		return &GeneratorResult{
			ExecutionTime: time.Since(startTime),
			Error:         fmt.Sprintf("execution timeout after %v", g.timeout),
		}, fmt.Errorf("generator execution timeout")
	case err := <-errCh:
		return &GeneratorResult{
			ExecutionTime: time.Since(startTime),
			Error:         err.Error(),
		}, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(startTime)
		return result, nil
	}
}

// evaluateSync performs the actual Starlark evaluation synchronously.
func (g *Generator) evaluateSync(script string, input map[string]interface{}) (*GeneratorResult, error) {
	thread := &starlark.Thread{
		Name: "keel",
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print for sandboxing
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	predeclared["range"] = starlark.NewBuiltin("range", builtinRange)
	predeclared["enumerate"] = starlark.NewBuiltin("enumerate", builtinEnumerate)
	predeclared["zip"] = starlark.NewBuiltin("zip", builtinZip)

	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, "generator.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("generator execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		// Skip internal variables (starting with _)
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &GeneratorResult{
		Output: output,
	}, nil
}

// componentsFromOutput converts a script's components global into
// manifest components. Dict output is ordered by name for determinism.
func componentsFromOutput(raw interface{}) ([]Component, error) {
	switch out := raw.(type) {
	case map[string]interface{}:
		names := make([]string, 0, len(out))
		for name := range out {
			names = append(names, name)
		}
		sort.Strings(names)

		components := make([]Component, 0, len(out))
		for _, name := range names {
			component, err := componentFromSpec(name, out[name])
			if err != nil {
				return nil, err
			}
			components = append(components, component)
		}
		return components, nil
	case []interface{}:
		components := make([]Component, 0, len(out))
		for i, item := range out {
			component, err := componentFromSpec("", item)
			if err != nil {
				return nil, fmt.Errorf("components[%d]: %w", i, err)
			}
			components = append(components, component)
		}
		return components, nil
	default:
		return nil, fmt.Errorf("components global must be a dict or list, got %T", raw)
	}
}

// componentFromSpec converts one generated component spec. The dict key
// supplies the name when the spec dict does not carry a name field.
func componentFromSpec(name string, spec interface{}) (Component, error) {
	fields, ok := spec.(map[string]interface{})
	if !ok {
		return Component{}, fmt.Errorf("component spec must be a dict, got %T", spec)
	}

	component := Component{Name: name}
	for key, value := range fields {
		switch key {
		case "name":
			s, err := specString(key, value)
			if err != nil {
				return Component{}, err
			}
			component.Name = s
		case "layer":
			s, err := specString(key, value)
			if err != nil {
				return Component{}, err
			}
			component.Layer = arch.Layer(s)
		case "contexts":
			list, err := specStringList(key, value)
			if err != nil {
				return Component{}, err
			}
			component.Contexts = list
		case "capabilities":
			list, err := specStringList(key, value)
			if err != nil {
				return Component{}, err
			}
			component.Capabilities = list
		case "description":
			s, err := specString(key, value)
			if err != nil {
				return Component{}, err
			}
			component.Description = s
		case "labels":
			labels, err := specStringMap(key, value)
			if err != nil {
				return Component{}, err
			}
			component.Labels = labels
		default:
			return Component{}, fmt.Errorf("unknown component field %q", key)
		}
	}

	if component.Name == "" {
		return Component{}, fmt.Errorf("component name required")
	}

	return component, nil
}

func specString(key string, value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %s must be a string, got %T", key, value)
	}
	return s, nil
}

func specStringList(key string, value interface{}) ([]string, error) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s must be a list of strings, got %T", key, value)
	}
	list := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("field %s[%d] must be a string, got %T", key, i, item)
		}
		list[i] = s
	}
	return list, nil
}

func specStringMap(key string, value interface{}) (map[string]string, error) {
	fields, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s must be a dict of strings, got %T", key, value)
	}
	result := make(map[string]string, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %s.%s must be a string, got %T", key, k, v)
		}
		result[k] = s
	}
	return result, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// Built-in Starlark functions

// builtinRange implements the range() built-in function.
func builtinRange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int64 = 0, 0, 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range takes 1 to 3 arguments, got %d", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range step cannot be zero")
	}

	var list []starlark.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	} else {
		for i := start; i > stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	}

	return starlark.NewList(list), nil
}

// builtinEnumerate implements the enumerate() built-in function.
func builtinEnumerate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start int64 = 0

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var list []starlark.Value
	var x starlark.Value
	i := start
	for iter.Next(&x) {
		tuple := starlark.Tuple{starlark.MakeInt64(i), x}
		list = append(list, tuple)
		i++
	}

	return starlark.NewList(list), nil
}

// builtinZip implements the zip() built-in function.
func builtinZip(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.NewList(nil), nil
	}

	iters := make([]starlark.Iterator, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("zip argument %d is not iterable", i)
		}
		iters[i] = iterable.Iterate()
		defer iters[i].Done()
	}

	var list []starlark.Value
	for {
		tuple := make(starlark.Tuple, len(iters))
		for i, iter := range iters {
			if !iter.Next(&tuple[i]) {
				// One iterator is exhausted, stop
				return starlark.NewList(list), nil
			}
		}
		list = append(list, tuple)
	}
}
