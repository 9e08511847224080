package nodes

import "context"

func registerUtilities(r *Registry) {
	r.register(&triggerNode{})
	r.register(&flowParameterNode{})
	r.register(&setGetVariableNode{})
	r.register(&commentNode{})
}

// Utility nodes never execute in the node order; the flow executor
// skips them after using them to seed global_variables at the start
// of each invocation (spec §4.2.4). Their Invoke is never
// called in normal operation — it exists only so the registry's
// closed type table stays total and tooling (node-types introspection,
// validation-only dry runs) can still construct one.

type triggerNode struct{}

func (n *triggerNode) Type() string       { return "trigger" }
func (n *triggerNode) Category() Category { return CategoryUtility }
func (n *triggerNode) Invoke(ctx context.Context, in Input) (Output, error) {
	return Output{}, nil
}

type flowParameterNode struct{}

func (n *flowParameterNode) Type() string       { return "flow_parameter" }
func (n *flowParameterNode) Category() Category { return CategoryUtility }
func (n *flowParameterNode) Invoke(ctx context.Context, in Input) (Output, error) {
	return Output{}, nil
}

type setGetVariableNode struct{}

func (n *setGetVariableNode) Type() string       { return "set_get_variable" }
func (n *setGetVariableNode) Category() Category { return CategoryUtility }
func (n *setGetVariableNode) Invoke(ctx context.Context, in Input) (Output, error) {
	return Output{}, nil
}

type commentNode struct{}

func (n *commentNode) Type() string       { return "comment" }
func (n *commentNode) Category() Category { return CategoryUtility }
func (n *commentNode) Invoke(ctx context.Context, in Input) (Output, error) {
	return Output{}, nil
}

// SeedVariables computes the startup contribution of utility nodes to
// global_variables; the flow executor applies it to utility nodes in
// execution order. flow_parameter contributes
// its declared default under its `name`; set_get_variable contributes
// its configured value under `name` when mode=="set". trigger and
// comment never contribute.
func SeedVariables(nodeType string, cfg map[string]interface{}) map[string]interface{} {
	switch nodeType {
	case "flow_parameter":
		name := cfgString(cfg, "name", "")
		if name == "" {
			return nil
		}
		return map[string]interface{}{name: cfg["default"]}
	case "set_get_variable":
		if cfgString(cfg, "mode", "set") != "set" {
			return nil
		}
		name := cfgString(cfg, "name", "")
		if name == "" {
			return nil
		}
		return map[string]interface{}{name: cfg["value"]}
	default:
		return nil
	}
}
