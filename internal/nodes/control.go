package nodes

import (
	"context"
	"fmt"

	"github.com/flowforge/flowexec/internal/table"
)

func registerControls(r *Registry) {
	r.register(&conditionalBranchNode{})
	r.register(&tryCatchNode{})
	r.register(&mergeNode{})
}

// conditionalBranchNode evaluates a boolean gate and reports which of
// its two output handles ("true"/"false") carries the input forward.
// Downstream suppression of the handle that did NOT fire is the flow
// executor's responsibility (spec §4.2.4/§9 Open Question: this
// runtime formalizes handle-gating as the suppression mechanism), not
// this node's — Invoke only computes the boolean and emits the input
// on the firing handle alone, so the executor can tell which branch is
// live from which handle is present.
type conditionalBranchNode struct{}

func (n *conditionalBranchNode) Type() string       { return "conditional_branch" }
func (n *conditionalBranchNode) Category() Category { return CategoryControl }

func (n *conditionalBranchNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("conditional_branch: no input table")
	}
	conditionType := cfgString(in.Config, "condition_type", "expression")
	var result bool
	switch conditionType {
	case "expression":
		if in.Deps == nil || in.Deps.Expr == nil {
			return nil, fmt.Errorf("conditional_branch: no expression evaluator configured")
		}
		expr := cfgString(in.Config, "condition_value", "true")
		row := map[string]interface{}{}
		if tbl.NumRows() > 0 {
			row = tbl.RowMap(0)
		}
		v, err := in.Deps.Expr.Eval(expr, row, in.Variables)
		if err != nil {
			return nil, fmt.Errorf("conditional_branch: %w", err)
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("conditional_branch: expression did not evaluate to a boolean")
		}
		result = b
	case "row_count":
		result = evalRowCount(tbl, in.Config)
	case "column_exists":
		column := cfgString(in.Config, "column", "")
		result = tbl.ColumnIndex(column) != -1
	case "data_quality":
		result = evalDataQuality(tbl, in.Config)
	default:
		return nil, fmt.Errorf("conditional_branch: unknown condition_type %q", conditionType)
	}

	out := Output{}
	if result {
		out["true"] = tbl
	} else {
		out["false"] = tbl
	}
	return out, nil
}

// evalRowCount implements condition_type="row_count": config.operator
// (one of >, >=, <, <=, ==, !=, default >) compares the input table's
// row count against config.value.
func evalRowCount(tbl *table.Table, cfg map[string]interface{}) bool {
	operator := cfgString(cfg, "operator", ">")
	threshold := cfgInt(cfg, "value", 0)
	n := tbl.NumRows()
	switch operator {
	case ">":
		return n > threshold
	case ">=":
		return n >= threshold
	case "<":
		return n < threshold
	case "<=":
		return n <= threshold
	case "==":
		return n == threshold
	case "!=":
		return n != threshold
	default:
		return n > threshold
	}
}

// evalDataQuality implements condition_type="data_quality": the
// condition is true when the fraction of null cells across
// config.columns (all columns if empty) is at or below
// config.max_null_fraction (default 0, i.e. no nulls tolerated).
func evalDataQuality(tbl *table.Table, cfg map[string]interface{}) bool {
	columns := cfgStringSlice(cfg, "columns")
	maxNullFraction := cfgFloat(cfg, "max_null_fraction", 0)

	idxs := columns2Indices(tbl, columns)
	if len(idxs) == 0 || tbl.NumRows() == 0 {
		return true
	}
	var nullCount, total int
	for _, idx := range idxs {
		for r := 0; r < tbl.NumRows(); r++ {
			total++
			if tbl.Rows[idx][r].IsNull() {
				nullCount++
			}
		}
	}
	if total == 0 {
		return true
	}
	return float64(nullCount)/float64(total) <= maxNullFraction
}

func columns2Indices(tbl *table.Table, columns []string) []int {
	if len(columns) == 0 {
		idxs := make([]int, len(tbl.Columns))
		for i := range tbl.Columns {
			idxs[i] = i
		}
		return idxs
	}
	var idxs []int
	for _, c := range columns {
		if idx := tbl.ColumnIndex(c); idx != -1 {
			idxs = append(idxs, idx)
		}
	}
	return idxs
}

// tryCatchNode has no data transformation of its own: its protection
// scope (the set of downstream nodes whose errors it absorbs, bounded
// at the next merge or flow terminus per spec §4.2.4) is computed and
// enforced by the flow executor. Invoke simply passes the input
// through so the executor can record it as this node's output.
type tryCatchNode struct{}

func (n *tryCatchNode) Type() string       { return "try_catch" }
func (n *tryCatchNode) Category() Category { return CategoryControl }

func (n *tryCatchNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("try_catch: no input table")
	}
	return Output{"output": tbl}, nil
}

// FallbackStrategy is the closed set of try_catch recovery behaviors.
type FallbackStrategy string

const (
	FallbackReturnEmpty FallbackStrategy = "return_empty"
	FallbackReturnInput FallbackStrategy = "return_input"
	FallbackCustom       FallbackStrategy = "custom"
)

// Fallback computes the protected value a try_catch substitutes for a
// failed downstream node, per its configured fallback_strategy. It is
// called by the flow executor, not by Invoke, since it needs the
// original table presented to the try_catch node plus the custom
// config — neither of which is scoped to a single node's Invoke call.
func Fallback(cfg map[string]interface{}, original *table.Table) (interface{}, error) {
	strategy := FallbackStrategy(cfgString(cfg, "fallback_strategy", "return_empty"))
	switch strategy {
	case FallbackReturnEmpty:
		if original == nil {
			return table.New(nil), nil
		}
		return table.New(original.Columns), nil
	case FallbackReturnInput:
		return original, nil
	case FallbackCustom:
		if v, ok := cfg["fallback_value"]; ok {
			return v, nil
		}
		return table.New(nil), nil
	default:
		return nil, fmt.Errorf("try_catch: unknown fallback_strategy %q", strategy)
	}
}

// mergeNode reduces N upstream inputs to one using its configured
// strategy.
type mergeNode struct{}

func (n *mergeNode) Type() string       { return "merge" }
func (n *mergeNode) Category() Category { return CategoryControl }

func (n *mergeNode) Invoke(ctx context.Context, in Input) (Output, error) {
	strategy := cfgString(in.Config, "strategy", "first_available")

	var tables []*table.Table
	for _, v := range in.Inputs {
		if v == nil {
			continue
		}
		if t, ok := v.(*table.Table); ok {
			tables = append(tables, t)
		}
	}

	switch strategy {
	case "first_available":
		if len(tables) == 0 {
			return nil, fmt.Errorf("merge: no available input")
		}
		return Output{"output": tables[0]}, nil
	case "concat":
		return Output{"output": concatTables(tables)}, nil
	case "union":
		return Output{"output": unionTables(tables)}, nil
	case "custom":
		if v, ok := in.Config["fallback_value"]; ok {
			return Output{"output": v}, nil
		}
		if len(tables) > 0 {
			return Output{"output": tables[0]}, nil
		}
		return nil, fmt.Errorf("merge: custom strategy has no available input")
	default:
		return nil, fmt.Errorf("merge: unknown strategy %q", strategy)
	}
}

func concatTables(tables []*table.Table) *table.Table {
	if len(tables) == 0 {
		return table.New(nil)
	}
	result := tables[0].Clone()
	for _, t := range tables[1:] {
		for r := 0; r < t.NumRows(); r++ {
			values := make(map[string]table.Cell, len(result.Columns))
			row := t.RowMap(r)
			for _, c := range result.Columns {
				if v, ok := row[c.Name]; ok {
					values[c.Name] = table.CellFromValue(v)
				}
			}
			result.AppendRow(values)
		}
	}
	return result
}

func unionTables(tables []*table.Table) *table.Table {
	seen := map[string]bool{}
	combined := concatTables(tables)
	var keep []int
	for r := 0; r < combined.NumRows(); r++ {
		key := fmt.Sprintf("%v", combined.RowMap(r))
		if seen[key] {
			continue
		}
		seen[key] = true
		keep = append(keep, r)
	}
	return combined.WithRows(keep)
}
