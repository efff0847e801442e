package manifest

// manifestSchema is the built-in CUE schema every manifest is unified
// with before decoding. Component fields outside the schema are rejected.
const manifestSchema = `
// Manifest schema for keel architecture manifests
#Manifest: {
	// Project identifies the system the manifest describes
	project: #Project

	// Components declares the architecture, keyed by component name
	// or as a list of named components
	components?: {[string]: #Component} | [...#Component]

	// Generators are Starlark scripts emitting additional components
	generators?: [...string]
}

#Project: {
	// Name is the project name
	name: string & =~"^[a-zA-Z0-9._-]+$"

	// Version is the manifest version
	version?: string
}

#Component: {
	// Name is the component name; defaults to the map key
	name?: string & =~"^[a-zA-Z0-9._-]+$"

	// Layer is the component's architectural layer
	layer: "orchestrator" | "context" | "client" | "capability" | "state" | "presentation"

	// Contexts are dependency targets in the context graph
	contexts?: [...string]

	// Capabilities are dependency targets in the capability graph
	capabilities?: [...string]

	// Description is a human-readable summary
	description?: string

	// Labels are key-value pairs for organizing components
	labels?: {[string]: string}
}
`
