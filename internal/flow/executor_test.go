package flow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flowforge/flowexec/internal/flow"
	"github.com/flowforge/flowexec/internal/nodes"
)

// fakeNode lets each test declare behavior inline without pulling in
// the full 37-type registry; the executor only depends on the Node
// interface, not on any concrete node package.
type fakeNode struct {
	typ      string
	category nodes.Category
	invoke   func(ctx context.Context, in nodes.Input) (nodes.Output, error)
}

func (f *fakeNode) Type() string             { return f.typ }
func (f *fakeNode) Category() nodes.Category { return f.category }
func (f *fakeNode) Invoke(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	return f.invoke(ctx, in)
}

type fakeRegistry struct {
	byType map[string]*fakeNode
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{byType: map[string]*fakeNode{}} }

func (r *fakeRegistry) add(n *fakeNode) { r.byType[n.typ] = n }

func (r *fakeRegistry) Get(nodeType string) (nodes.Node, error) {
	n, ok := r.byType[nodeType]
	if !ok {
		return nil, errors.New("unknown type")
	}
	return n, nil
}

func (r *fakeRegistry) IsKnownType(nodeType string) bool {
	_, ok := r.byType[nodeType]
	return ok
}

func (r *fakeRegistry) CategoryOf(nodeType string) (nodes.Category, bool) {
	n, ok := r.byType[nodeType]
	if !ok {
		return "", false
	}
	return n.category, true
}

func passthroughNode(typ string, cat nodes.Category) *fakeNode {
	return &fakeNode{typ: typ, category: cat, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		for _, v := range in.Inputs {
			return nodes.Output{"output": v}, nil
		}
		return nodes.Output{"output": in.Config["value"]}, nil
	}}
}

func TestInvokeSingleTerminalNodeResolvesItsOutput(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(passthroughNode("source", nodes.CategorySource))
	reg.add(passthroughNode("sink", nodes.CategorySink))

	def := flow.Definition{
		ID: "f1",
		Nodes: []flow.NodeDefinition{
			{ID: "a", Type: "source", Config: map[string]interface{}{"value": "hello"}},
			{ID: "b", Type: "sink"},
		},
		Edges: []flow.EdgeDefinition{{Source: "a", Target: "b"}},
	}
	exec, err := flow.New(def, reg, &nodes.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, _, err := exec.Invoke(context.Background(), "exec_1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected invoke error: %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected terminal result hello, got %v", result)
	}
}

func TestHandleNamingPrecedence(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(&fakeNode{typ: "source", category: nodes.CategorySource, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		return nodes.Output{"output": "from-a"}, nil
	}})
	reg.add(&fakeNode{typ: "sink", category: nodes.CategorySink, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		return nodes.Output{"output": in.Inputs["custom_source"]}, nil
	}})

	def := flow.Definition{
		ID: "f2",
		Nodes: []flow.NodeDefinition{
			{ID: "a", Type: "source"},
			{ID: "b", Type: "sink"},
		},
		Edges: []flow.EdgeDefinition{{Source: "a", Target: "b", SourceHandle: "custom_source", TargetHandle: "custom_target"}},
	}
	exec, err := flow.New(def, reg, &nodes.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, _, err := exec.Invoke(context.Background(), "exec_2", nil, nil)
	if err != nil {
		t.Fatalf("unexpected invoke error: %v", err)
	}
	if result != "from-a" {
		t.Fatalf("expected source_handle to win when both are set, got %v", result)
	}
}

func TestConditionalBranchSuppressesDeadHandle(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(passthroughNode("source", nodes.CategorySource))
	reg.add(&fakeNode{typ: "conditional_branch", category: nodes.CategoryControl, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		return nodes.Output{"true": in.Inputs["a"]}, nil
	}})
	trueRan, falseRan := false, false
	reg.add(&fakeNode{typ: "true_sink", category: nodes.CategorySink, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		trueRan = true
		return nodes.Output{"output": "true-branch"}, nil
	}})
	reg.add(&fakeNode{typ: "false_sink", category: nodes.CategorySink, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		falseRan = true
		return nodes.Output{"output": "false-branch"}, nil
	}})

	def := flow.Definition{
		ID: "f3",
		Nodes: []flow.NodeDefinition{
			{ID: "a", Type: "source"},
			{ID: "branch", Type: "conditional_branch"},
			{ID: "t", Type: "true_sink"},
			{ID: "f", Type: "false_sink"},
		},
		Edges: []flow.EdgeDefinition{
			{Source: "a", Target: "branch"},
			{Source: "branch", Target: "t", SourceHandle: "true"},
			{Source: "branch", Target: "f", SourceHandle: "false"},
		},
	}
	exec, err := flow.New(def, reg, &nodes.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := exec.Invoke(context.Background(), "exec_3", nil, nil); err != nil {
		t.Fatalf("unexpected invoke error: %v", err)
	}
	if !trueRan {
		t.Fatal("expected the true branch to run")
	}
	if falseRan {
		t.Fatal("expected the false branch to be suppressed")
	}
}

func TestTryCatchSubstitutesFallbackOnFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(passthroughNode("source", nodes.CategorySource))
	reg.add(&fakeNode{typ: "try_catch", category: nodes.CategoryControl, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		for _, v := range in.Inputs {
			return nodes.Output{"output": v}, nil
		}
		return nodes.Output{}, nil
	}})
	reg.add(&fakeNode{typ: "failing_transform", category: nodes.CategoryTransform, invoke: func(ctx context.Context, in nodes.Input) (nodes.Output, error) {
		return nil, errors.New("boom")
	}})

	def := flow.Definition{
		ID: "f4",
		Nodes: []flow.NodeDefinition{
			{ID: "a", Type: "source"},
			{ID: "guard", Type: "try_catch", Config: map[string]interface{}{"fallback_strategy": "return_empty"}},
			{ID: "risky", Type: "failing_transform"},
		},
		Edges: []flow.EdgeDefinition{
			{Source: "a", Target: "guard"},
			{Source: "guard", Target: "risky"},
		},
	}
	exec, err := flow.New(def, reg, &nodes.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, execCtx, err := exec.Invoke(context.Background(), "exec_4", nil, nil)
	if err != nil {
		t.Fatalf("expected the try_catch fallback to absorb the failure, got error: %v", err)
	}
	if _, ok := execCtx.NodeOutputs["risky"]; !ok {
		t.Fatal("expected a fallback output recorded for the failing node")
	}
}

func TestNewRejectsUnknownNodeType(t *testing.T) {
	reg := newFakeRegistry()
	def := flow.Definition{
		ID:    "f5",
		Nodes: []flow.NodeDefinition{{ID: "a", Type: "mystery"}},
	}
	if _, err := flow.New(def, reg, &nodes.Dependencies{}); err == nil {
		t.Fatal("expected an error for an unknown node type")
	}
}
