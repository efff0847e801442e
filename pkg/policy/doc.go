// Package policy evaluates Rego policies against architecture manifests.
//
// The package layers advisory and organization-specific rules on top of
// the hard structural checks in pkg/arch. Where the graph validator
// answers "is this dependency legal at all", policies answer "is this
// dependency something we want": fan-in thresholds, orphaned
// components, naming and labeling conventions, and whatever else a team
// encodes in Rego.
//
// # Engine
//
// The engine compiles every policy to a prepared deny query at load
// time and reuses it across evaluations:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := eng.EvaluateManifest(ctx, m, nil)
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("%s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// Violations at error or critical severity make the result not allowed;
// info and warning findings are advisory. A policy that fails to
// evaluate is reported in Warnings and never blocks the result.
//
// # Inputs
//
// Each policy is evaluated against two input shapes. The per-component
// shape sets input.component to a single component:
//
//	{"component": {"name": "checkout", "layer": "context", "dependencies": ["catalog"]}}
//
// The whole-graph shape sets input.components, input.edges, and
// input.stats. Rules guard on the field they need:
//
//	deny contains violation if {
//	    input.component
//	    component := input.component
//	    not component.labels.owner
//	    violation := {
//	        "message": sprintf("component %s has no owner label", [component.name]),
//	        "severity": "error",
//	        "component": component.name,
//	    }
//	}
//
// Deny results may be plain strings or objects carrying message,
// severity, and component keys. Severities in objects override the
// policy default.
//
// # Builtin Packs
//
// Five packs are loaded at construction:
//
//   - known-layers: every component declares a recognized layer (error)
//   - capability-fan-in: capabilities with too many dependents (warning)
//   - orphan-components: components no edge touches (info)
//   - terminal-access: state is reached only by clients, presentation only by contexts (error)
//   - god-components: components with too many direct dependencies (warning)
//
// # Custom Policies
//
// LoadPolicies accepts .rego and .json files or directories of them.
// For .rego files the policy name is the file basename and the leading
// comment block supplies metadata: plain comments become the
// description, and a "# severity: <level>" line sets the default
// severity.
//
// # Watching
//
// The loader can watch policy paths and push debounced reloads into the
// engine:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.ReplacePolicies(ctx, policies)
//	})
package policy
