// Package manifest provides the CUE manifest front-end of the Keel
// framework: parsing, schema validation, Starlark generators, and the
// bridge from declared components to the dependency graphs and checkers
// in pkg/arch.
//
// # Overview
//
// A manifest declares a project and its components. Each component names
// its architectural layer and its dependency targets in the two graph
// kinds:
//
//	project: {name: "shop", version: "1.0.0"}
//	components: {
//	    checkout: {layer: "context", contexts: ["catalog"]}
//	    payments: {layer: "client", capabilities: ["payments-api"]}
//	    "payments-api": {layer: "capability"}
//	    catalog: {layer: "context"}
//	}
//
// Parsing unifies every source with a built-in #Manifest schema, so
// unknown fields, bad layer names, and malformed declarations surface as
// located errors rather than decode surprises:
//
//	parser := manifest.NewParser(logger)
//	m, err := parser.Parse(ctx, []string{"arch/"})
//
// Content problems never fail the parse; they accumulate in
// Manifest.Errors with file, line, and path information. The error
// return is reserved for I/O and usage failures.
//
// # Generators
//
// A manifest may name Starlark scripts that emit components
// procedurally, for families of components too repetitive to declare by
// hand:
//
//	generators: ["services.star"]
//
// Scripts run sandboxed with a timeout. They receive the project and the
// names of already-declared components and export a components global,
// either a dict keyed by name or a list of dicts. Generated components
// pass through the same validation as declared ones.
//
// # Graph Bridge
//
// A parsed manifest feeds the pkg/arch checkers directly: Graph builds
// the two-kind dependency graph, FlowEdges projects component edges into
// layer pairs for the flow analyzer, Modules adapts components for the
// context isolation checker, and Manifest itself is an
// arch.LayerRegistry for the import scanner.
//
// # Watching
//
// Watcher re-parses the manifest whenever a .cue or .star source
// changes, debounced, and hands the fresh manifest to a callback. This
// backs the CLI's watch mode.
package manifest
