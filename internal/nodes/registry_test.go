package nodes_test

import (
	"context"
	"testing"

	"github.com/flowforge/flowexec/internal/nodes"
	"github.com/flowforge/flowexec/internal/table"
)

func TestRegistryKnowsAllClosedNodeTypes(t *testing.T) {
	r := nodes.NewRegistry()
	expectedByCategory := map[nodes.Category][]string{
		nodes.CategorySource: {
			"table_reader", "custom_sql", "file_input", "api_endpoint",
			"static_data", "webhook_listener",
		},
		nodes.CategorySink: {
			"table_writer", "file_writer", "api_request", "display_results", "send_notification",
		},
		nodes.CategoryControl: {"conditional_branch", "try_catch", "merge"},
		nodes.CategoryUtility: {"trigger", "flow_parameter", "set_get_variable", "comment"},
	}
	for cat, types := range expectedByCategory {
		for _, typ := range types {
			if !r.IsKnownType(typ) {
				t.Fatalf("expected %q to be a known node type", typ)
			}
			got, ok := r.CategoryOf(typ)
			if !ok || got != cat {
				t.Fatalf("expected %q to be category %q, got %q (ok=%v)", typ, cat, got, ok)
			}
		}
	}
	if r.IsKnownType("not_a_real_node") {
		t.Fatal("expected an unregistered type to be unknown")
	}
}

func TestStaticDataNodeBuildsTableFromConfig(t *testing.T) {
	r := nodes.NewRegistry()
	n, err := r.Get("static_data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := nodes.Input{
		Config: map[string]interface{}{
			"rows":    []interface{}{map[string]interface{}{"id": int64(1)}},
			"columns": []interface{}{"id"},
		},
	}
	out, err := n.Invoke(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tbl, ok := out["output"].(*table.Table)
	if !ok {
		t.Fatalf("expected a *table.Table output, got %T", out["output"])
	}
	if tbl.NumRows() != 1 {
		t.Fatalf("expected 1 row, got %d", tbl.NumRows())
	}
}

func TestConditionalBranchEvaluatesRowCountCondition(t *testing.T) {
	r := nodes.NewRegistry()
	n, err := r.Get("conditional_branch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tbl := table.FromMaps([]map[string]interface{}{{"id": int64(1)}}, []string{"id"})
	in := nodes.Input{
		Config: map[string]interface{}{
			"condition_type": "row_count",
			"operator":       ">",
			"value":          0,
		},
		Inputs: map[string]nodes.Value{"input": tbl},
	}
	out, err := n.Invoke(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["true"]; !ok {
		t.Fatal("expected the true handle to be populated")
	}
	if _, ok := out["false"]; ok {
		t.Fatal("expected the false handle to be absent")
	}
}

func TestSelectColumnsNarrowsTable(t *testing.T) {
	r := nodes.NewRegistry()
	n, err := r.Get("select_columns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tbl := table.FromMaps([]map[string]interface{}{
		{"id": int64(1), "name": "alice"},
	}, []string{"id", "name"})
	in := nodes.Input{
		Config: map[string]interface{}{"columns": []interface{}{"name"}},
		Inputs: map[string]nodes.Value{"a": tbl},
	}
	out, err := n.Invoke(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := out["output"].(*table.Table)
	if result.NumCols() != 1 {
		t.Fatalf("expected 1 column, got %d", result.NumCols())
	}
}
