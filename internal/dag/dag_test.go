package dag_test

import (
	"strings"
	"testing"

	"github.com/flowforge/flowexec/internal/dag"
)

func knownTypes(types ...string) dag.KnownTypeChecker {
	set := map[string]bool{}
	for _, t := range types {
		set[t] = true
	}
	return func(t string) bool { return set[t] }
}

func TestBuildOrdersByDeclarationOnTies(t *testing.T) {
	nodes := []dag.NodeDecl{
		{ID: "c", Type: "transform"},
		{ID: "a", Type: "transform"},
		{ID: "b", Type: "transform"},
	}
	edges := []dag.EdgeDecl{}
	g, err := dag.Build(nodes, edges, knownTypes("transform"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(g.Order, ","); got != "c,a,b" {
		t.Fatalf("expected declaration-order tie-break c,a,b, got %s", got)
	}
}

func TestBuildDetectsCycleWithPath(t *testing.T) {
	nodes := []dag.NodeDecl{
		{ID: "a", Type: "transform"},
		{ID: "b", Type: "transform"},
		{ID: "c", Type: "transform"},
	}
	edges := []dag.EdgeDecl{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "c"},
		{Source: "c", Target: "a"},
	}
	_, err := dag.Build(nodes, edges, knownTypes("transform"))
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	cycleErr, ok := err.(*dag.CycleDetected)
	if !ok {
		t.Fatalf("expected *dag.CycleDetected, got %T: %v", err, err)
	}
	if len(cycleErr.Path) == 0 {
		t.Fatal("expected a non-empty cycle path")
	}
}

func TestBuildRejectsUnknownType(t *testing.T) {
	nodes := []dag.NodeDecl{{ID: "a", Type: "mystery"}}
	_, err := dag.Build(nodes, nil, knownTypes("transform"))
	if err == nil {
		t.Fatal("expected an unknown-type validation error")
	}
}

func TestBuildRejectsDanglingEdge(t *testing.T) {
	nodes := []dag.NodeDecl{{ID: "a", Type: "transform"}}
	edges := []dag.EdgeDecl{{Source: "a", Target: "ghost"}}
	_, err := dag.Build(nodes, edges, knownTypes("transform"))
	if err == nil {
		t.Fatal("expected a dangling-edge validation error")
	}
}

func TestBuildRejectsDuplicateHandleEdge(t *testing.T) {
	nodes := []dag.NodeDecl{
		{ID: "a", Type: "transform"},
		{ID: "b", Type: "transform"},
	}
	edges := []dag.EdgeDecl{
		{Source: "a", Target: "b", SourceHandle: "out", TargetHandle: "in"},
		{Source: "a", Target: "b", SourceHandle: "out", TargetHandle: "in"},
	}
	_, err := dag.Build(nodes, edges, knownTypes("transform"))
	if err == nil {
		t.Fatal("expected a duplicate-edge validation error")
	}
	if _, ok := err.(*dag.ValidationError); !ok {
		t.Fatalf("expected *dag.ValidationError, got %T: %v", err, err)
	}
}

func TestBuildAllowsDistinctHandlesBetweenSameNodes(t *testing.T) {
	nodes := []dag.NodeDecl{
		{ID: "a", Type: "transform"},
		{ID: "b", Type: "transform"},
	}
	edges := []dag.EdgeDecl{
		{Source: "a", Target: "b", SourceHandle: "true", TargetHandle: "in"},
		{Source: "a", Target: "b", SourceHandle: "false", TargetHandle: "in"},
	}
	if _, err := dag.Build(nodes, edges, knownTypes("transform")); err != nil {
		t.Fatalf("unexpected error for edges differing only by source handle: %v", err)
	}
}

func TestBuildProducesLevels(t *testing.T) {
	nodes := []dag.NodeDecl{
		{ID: "a", Type: "transform"},
		{ID: "b", Type: "transform"},
		{ID: "c", Type: "transform"},
	}
	edges := []dag.EdgeDecl{
		{Source: "a", Target: "c"},
		{Source: "b", Target: "c"},
	}
	g, err := dag.Build(nodes, edges, knownTypes("transform"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(g.Levels))
	}
	if len(g.Levels[0]) != 2 {
		t.Fatalf("expected first level to hold a and b, got %v", g.Levels[0])
	}
}
