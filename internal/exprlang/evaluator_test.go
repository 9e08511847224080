package exprlang_test

import (
	"testing"

	"github.com/flowforge/flowexec/internal/exprlang"
)

func TestEvalReadsRowColumns(t *testing.T) {
	ev := exprlang.New()
	row := map[string]interface{}{"amount": float64(150)}
	out, err := ev.Eval("amount > 100", row, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != true {
		t.Fatalf("expected true, got %v", out)
	}
}

func TestEvalReadsGlobalVars(t *testing.T) {
	ev := exprlang.New()
	row := map[string]interface{}{"status": "active"}
	vars := map[string]interface{}{"threshold": "active"}
	out, err := ev.Eval(`status == $vars.threshold`, row, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != true {
		t.Fatalf("expected true, got %v", out)
	}
}

func TestRowColumnsTakePrecedenceOverSameNamedVars(t *testing.T) {
	ev := exprlang.New()
	row := map[string]interface{}{"value": float64(1)}
	vars := map[string]interface{}{"value": float64(99)}
	out, err := ev.Eval("value", row, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != float64(1) {
		t.Fatalf("expected the row column to win, got %v", out)
	}
}

func TestEvalAggregateHelpers(t *testing.T) {
	ev := exprlang.New()
	row := map[string]interface{}{"values": []interface{}{float64(1), float64(2), float64(3)}}
	out, err := ev.Eval("sum(values)", row, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != float64(6) {
		t.Fatalf("expected sum 6, got %v", out)
	}
}

func TestEvalCompileErrorIsReported(t *testing.T) {
	ev := exprlang.New()
	if _, err := ev.Eval("this is not )( valid", nil, nil); err == nil {
		t.Fatal("expected a compile error")
	}
}
