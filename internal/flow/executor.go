// Package flow implements the Flow Executor (C3): it validates and
// schedules a flow definition once at construction, then invokes it
// any number of times, threading node outputs according to the
// handle-naming precedence rule and resolving one terminal result per
// invocation.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/flowforge/flowexec/internal/dag"
	"github.com/flowforge/flowexec/internal/nodes"
	"github.com/flowforge/flowexec/internal/table"
)

// NodeDefinition is the wire-level declaration of one node.
type NodeDefinition struct {
	ID     string                 `json:"id" validate:"required"`
	Type   string                 `json:"type" validate:"required"`
	Config map[string]interface{} `json:"config"`
}

// EdgeDefinition is the wire-level declaration of one connection.
type EdgeDefinition struct {
	Source       string `json:"source" validate:"required"`
	Target       string `json:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle"`
	TargetHandle string `json:"targetHandle"`
}

// Definition is the parsed FlowDefinition (spec §3's F).
type Definition struct {
	ID    string           `json:"id" validate:"required"`
	Nodes []NodeDefinition `json:"nodes" validate:"required,min=1,dive"`
	Edges []EdgeDefinition `json:"edges" validate:"dive"`
}

var wireValidator = validator.New()

// ParseDefinition decodes a flow's stored JSON representation into a
// Definition and validates its request-shape (required fields, at
// least one node) before it reaches C1, the shape dispatch's worker
// builder parses a PublishedAPI's stored flow JSON into before calling
// New.
func ParseDefinition(raw []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return Definition{}, err
	}
	if err := wireValidator.Struct(def); err != nil {
		return Definition{}, fmt.Errorf("flow: invalid flow definition: %w", err)
	}
	return def, nil
}

// NodeError wraps a failure raised by a specific node's Invoke.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string { return fmt.Sprintf("flow: node %q failed: %v", e.NodeID, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// ExecutorTimeout reports that a flow invocation exceeded its deadline.
type ExecutorTimeout struct{ FlowID string }

func (e *ExecutorTimeout) Error() string { return fmt.Sprintf("flow: %q exceeded its execution timeout", e.FlowID) }

// LogEntry records one node's execution for ExecutionContext.log.
type LogEntry struct {
	NodeID   string
	Started  time.Time
	Duration time.Duration
	Err      error
	Skipped  bool
}

// ExecutionContext is spec §3's E: per-invocation state threaded
// through a flow's run.
type ExecutionContext struct {
	FlowID        string
	ExecutionID   string
	UserContext   map[string]interface{}
	GlobalVars    map[string]interface{}
	NodeOutputs   map[string]nodes.Output // keyed by node id, written exactly once
	Log           []LogEntry
}

// NodeMetricsRecorder is the subset of fmetrics.Metrics the executor
// reports per-node outcomes to. It is an interface (rather than a
// direct *fmetrics.Metrics field) so the executor's tests can run
// without a Prometheus registry.
type NodeMetricsRecorder interface {
	ObserveNode(nodeType string, outcome string, d time.Duration)
}

// Option configures optional FlowExecutor behavior at construction.
type Option func(*FlowExecutor)

// WithMetrics attaches a NodeMetricsRecorder that Invoke reports every
// node's outcome and duration to.
func WithMetrics(m NodeMetricsRecorder) Option {
	return func(f *FlowExecutor) { f.metrics = m }
}

// FlowExecutor holds a validated execution plan for one flow
// definition, built once and reused across every invocation — the
// Worker Manager caches exactly this type per published API.
type FlowExecutor struct {
	def      Definition
	registry Registry
	g        *dag.DAG
	byID     map[string]NodeDefinition
	deps     *nodes.Dependencies
	metrics  NodeMetricsRecorder
}

// Registry is the subset of nodes.Registry the executor needs:
// resolving a node type to a constructed Node and checking membership
// in the closed type set.
type Registry interface {
	Get(nodeType string) (nodes.Node, error)
	IsKnownType(nodeType string) bool
	CategoryOf(nodeType string) (nodes.Category, bool)
}

// New validates def against the closed node-type registry and the DAG
// invariants, and computes its execution order once. It returns
// *dag.ValidationError or *dag.CycleDetected on failure.
func New(def Definition, registry Registry, deps *nodes.Dependencies, opts ...Option) (*FlowExecutor, error) {
	declNodes := make([]dag.NodeDecl, len(def.Nodes))
	byID := make(map[string]NodeDefinition, len(def.Nodes))
	for i, n := range def.Nodes {
		declNodes[i] = dag.NodeDecl{ID: n.ID, Type: n.Type}
		byID[n.ID] = n
	}
	declEdges := make([]dag.EdgeDecl, len(def.Edges))
	for i, e := range def.Edges {
		declEdges[i] = dag.EdgeDecl{
			Source: e.Source, Target: e.Target,
			SourceHandle: e.SourceHandle, TargetHandle: e.TargetHandle,
		}
	}

	g, err := dag.Build(declNodes, declEdges, registry.IsKnownType)
	if err != nil {
		return nil, err
	}

	f := &FlowExecutor{def: def, registry: registry, g: g, byID: byID, deps: deps}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Order exposes the cached topological execution order.
func (f *FlowExecutor) Order() []string { return f.g.Order }

// Invoke runs one execution of the flow against userCtx and returns the
// resolved terminal result per spec §4.3's precedence rules, plus the
// full per-node output log.
func (f *FlowExecutor) Invoke(ctx context.Context, executionID string, inputs map[string]interface{}, userCtx map[string]interface{}) (interface{}, *ExecutionContext, error) {
	execCtx := &ExecutionContext{
		FlowID:      f.def.ID,
		ExecutionID: executionID,
		UserContext: userCtx,
		GlobalVars:  map[string]interface{}{},
		NodeOutputs: make(map[string]nodes.Output, len(f.def.Nodes)),
	}
	for k, v := range inputs {
		execCtx.GlobalVars[k] = v
	}

	// Seed global_variables from utility nodes, in execution order,
	// before any node executes (spec §4.2.4).
	for _, nid := range f.g.Order {
		def := f.byID[nid]
		if cat, _ := f.registry.CategoryOf(def.Type); cat == nodes.CategoryUtility {
			for k, v := range nodes.SeedVariables(def.Type, def.Config) {
				execCtx.GlobalVars[k] = v
			}
		}
	}

	suppressed := map[string]bool{}
	protection := newProtectionIndex(f.g, f.byID, f.registry)

	for _, nid := range f.g.Order {
		def := f.byID[nid]
		cat, _ := f.registry.CategoryOf(def.Type)
		if cat == nodes.CategoryUtility {
			execCtx.Log = append(execCtx.Log, LogEntry{NodeID: nid, Skipped: true})
			continue
		}
		if suppressed[nid] {
			execCtx.Log = append(execCtx.Log, LogEntry{NodeID: nid, Skipped: true})
			continue
		}

		started := time.Now()
		in := f.buildInput(nid, def, execCtx)

		node, err := f.registry.Get(def.Type)
		if err != nil {
			return nil, execCtx, &NodeError{NodeID: nid, Err: err}
		}

		out, err := node.Invoke(ctx, in)
		if err != nil {
			if sc, protected := protection[nid]; protected {
				fallbackTbl, _ := singleTableInput(in)
				fallbackVal, ferr := nodes.Fallback(f.byID[sc.tryCatchID].Config, fallbackTbl)
				if ferr != nil {
					f.observeNode(def.Type, "error", time.Since(started))
					return nil, execCtx, &NodeError{NodeID: nid, Err: err}
				}
				out = nodes.Output{"output": fallbackVal}
				execCtx.Log = append(execCtx.Log, LogEntry{NodeID: nid, Started: started, Duration: time.Since(started), Err: err})
				execCtx.NodeOutputs[nid] = out
				f.observeNode(def.Type, "caught", time.Since(started))
				continue
			}
			f.observeNode(def.Type, "error", time.Since(started))
			if ctx.Err() != nil {
				return nil, execCtx, &ExecutorTimeout{FlowID: f.def.ID}
			}
			return nil, execCtx, &NodeError{NodeID: nid, Err: err}
		}

		execCtx.Log = append(execCtx.Log, LogEntry{NodeID: nid, Started: started, Duration: time.Since(started)})
		execCtx.NodeOutputs[nid] = out
		f.observeNode(def.Type, "success", time.Since(started))

		if def.Type == "conditional_branch" {
			suppressDeadBranch(f.g, nid, out, suppressed)
		}
	}

	result, err := f.resolveTerminal(execCtx)
	if err != nil {
		return nil, execCtx, err
	}
	return result, execCtx, nil
}

// buildInput assembles a node's Input: per-handle resolved upstream
// values in Inputs, with global_variables passed alongside them in
// Variables rather than merged into Inputs (spec §4.3's build-in_map
// rule).
func (f *FlowExecutor) buildInput(nid string, def NodeDefinition, execCtx *ExecutionContext) nodes.Input {
	in := nodes.Input{
		NodeID:    nid,
		Config:    def.Config,
		Inputs:    map[string]nodes.Value{},
		Variables: execCtx.GlobalVars,
		Deps:      f.deps,
	}
	for _, e := range f.g.Predecessors(nid) {
		key := handleKey(e)
		upstreamOut, ok := execCtx.NodeOutputs[e.Source]
		if !ok {
			continue
		}
		val := resolveHandleValue(upstreamOut, e.SourceHandle)
		if val == nil {
			continue
		}
		in.Inputs[key] = val
	}
	return in
}

// handleKey implements spec §4.3's naming precedence:
// sourceHandle -> targetHandle -> source-node-id.
func handleKey(e dag.EdgeDecl) string {
	if e.SourceHandle != "" {
		return e.SourceHandle
	}
	if e.TargetHandle != "" {
		return e.TargetHandle
	}
	return e.Source
}

// resolveHandleValue reads the upstream node's output under the named
// handle, falling back to its "output" handle for the common
// single-output-node case. With no handle named, a node whose output
// has no "output" key yields its sole value.
func resolveHandleValue(out nodes.Output, handle string) nodes.Value {
	if handle != "" {
		if v, ok := out[handle]; ok {
			return v
		}
	}
	if v, ok := out["output"]; ok {
		return v
	}
	if handle == "" {
		for _, v := range out {
			return v
		}
	}
	return nil
}

func (f *FlowExecutor) observeNode(nodeType string, outcome string, d time.Duration) {
	if f.metrics != nil {
		f.metrics.ObserveNode(nodeType, outcome, d)
	}
}

func singleTableInput(in nodes.Input) (*table.Table, bool) {
	for _, v := range in.Inputs {
		if t, ok := v.(*table.Table); ok {
			return t, true
		}
	}
	return nil, false
}

// suppressDeadBranch marks the downstream reachability set of the
// handle that did NOT fire as suppressed, formalizing spec §4.2.4/§9's
// handle-gating semantics: a conditional_branch that resolved to
// "true" suppresses everything reachable through its "false" handle,
// and vice versa. A merge node that still has a live input is not
// suppressed and the walk does not continue past it; any other node
// reachable from both handles is suppressed.
func suppressDeadBranch(g *dag.DAG, branchID string, out nodes.Output, suppressed map[string]bool) {
	_, tookTrue := out["true"]
	deadHandle := "false"
	if !tookTrue {
		deadHandle = "true"
	}
	for _, e := range g.Successors(branchID) {
		if e.SourceHandle == deadHandle {
			markReachableSuppressed(g, e.Target, branchID, deadHandle, suppressed)
		}
	}
}

func markReachableSuppressed(g *dag.DAG, nid, branchID, deadHandle string, suppressed map[string]bool) {
	if suppressed[nid] {
		return
	}
	if t, _ := g.NodeType(nid); t == "merge" {
		for _, p := range g.Predecessors(nid) {
			dead := suppressed[p.Source] || (p.Source == branchID && p.SourceHandle == deadHandle)
			if !dead {
				return
			}
		}
	}
	suppressed[nid] = true
	for _, e := range g.Successors(nid) {
		markReachableSuppressed(g, e.Target, branchID, deadHandle, suppressed)
	}
}

// resolveTerminal implements spec §4.3's terminal-result resolution:
//  1. a single node with no outgoing edges -> its output
//  2. else the last display_results node in execution order -> its output
//  3. else, when no terminal node produced output, the last node in
//     execution order -> its output
//  4. else, when multiple distinct terminal nodes exist and none is
//     display_results, a map of terminal node id -> its output value
func (f *FlowExecutor) resolveTerminal(execCtx *ExecutionContext) (interface{}, error) {
	var terminals []string
	for _, nid := range f.g.Order {
		if len(f.g.Successors(nid)) == 0 {
			if _, ok := execCtx.NodeOutputs[nid]; ok {
				terminals = append(terminals, nid)
			}
		}
	}

	if len(terminals) == 1 {
		return soleValue(execCtx.NodeOutputs[terminals[0]]), nil
	}

	var lastDisplay string
	for _, nid := range f.g.Order {
		if def, ok := f.byID[nid]; ok && def.Type == "display_results" {
			if _, ok := execCtx.NodeOutputs[nid]; ok {
				lastDisplay = nid
			}
		}
	}
	if lastDisplay != "" {
		return soleValue(execCtx.NodeOutputs[lastDisplay]), nil
	}

	if len(terminals) == 0 {
		if len(f.g.Order) == 0 {
			return nil, fmt.Errorf("flow: empty flow produced no result")
		}
		last := f.g.Order[len(f.g.Order)-1]
		if out, ok := execCtx.NodeOutputs[last]; ok {
			return soleValue(out), nil
		}
		return nil, fmt.Errorf("flow: no node produced a result")
	}

	if len(terminals) > 1 {
		out := make(map[string]interface{}, len(terminals))
		for _, nid := range terminals {
			out[nid] = soleValue(execCtx.NodeOutputs[nid])
		}
		return out, nil
	}

	last := f.g.Order[len(f.g.Order)-1]
	return soleValue(execCtx.NodeOutputs[last]), nil
}

func soleValue(out nodes.Output) interface{} {
	if v, ok := out["output"]; ok {
		return v
	}
	for _, v := range out {
		return v
	}
	return nil
}
