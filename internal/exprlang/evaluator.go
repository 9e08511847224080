// Package exprlang implements the restricted expression evaluator
// Design Note §9 calls for: an explicit AST, a declared environment
// (row columns + global variables + a fixed helper set), and no access
// to arbitrary Go values. It is grounded on github.com/expr-lang/expr,
// already part of the teacher's dependency stack, which compiles
// expressions to its own bytecode VM rather than invoking a general
// interpreter.
package exprlang

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
)

// Evaluator compiles and caches expr-lang programs by source text.
// filter_rows.expression, conditional_branch's expression condition
// type, add_modify_column's expression spec, and apply_function's
// lambda function_code all share one Evaluator instance, which
// cmd/server builds once and hands to every flow through
// nodes.Dependencies; the cache is guarded by a mutex so concurrent
// invocations may share it.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]*expr.Program
}

// New builds an Evaluator with an empty compile cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*expr.Program)}
}

// env is the fixed, declared environment every expression runs
// against: the current row's columns, the flow's global variables
// under "$vars", and a small closed set of aggregate helpers.
type env struct {
	Row  map[string]interface{}
	Vars map[string]interface{}
}

func (e env) Len(v interface{}) int {
	switch x := v.(type) {
	case []interface{}:
		return len(x)
	case string:
		return len(x)
	default:
		return 0
	}
}

func (e env) Sum(v []interface{}) float64 {
	var total float64
	for _, x := range v {
		total += toFloat(x)
	}
	return total
}

func (e env) Min(v []interface{}) float64 {
	var m float64
	for i, x := range v {
		f := toFloat(x)
		if i == 0 || f < m {
			m = f
		}
	}
	return m
}

func (e env) Max(v []interface{}) float64 {
	var m float64
	for i, x := range v {
		f := toFloat(x)
		if i == 0 || f > m {
			m = f
		}
	}
	return m
}

func (e env) Any(v []interface{}) bool {
	for _, x := range v {
		if b, ok := x.(bool); ok && b {
			return true
		}
	}
	return false
}

func (e env) All(v []interface{}) bool {
	for _, x := range v {
		b, ok := x.(bool)
		if !ok || !b {
			return false
		}
	}
	return true
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case float64:
		return x
	default:
		return 0
	}
}

// Eval compiles expr (using the per-source cache) against a row and a
// flow's global variables and returns the evaluated Go value. Row
// columns are addressed by bare identifier (expr-lang resolves struct
// field access against env.Row's map, so expressions write `amount >
// 10`, not `Row.amount > 10` — we flatten Row into the top-level
// environment map to get that ergonomics).
func (e *Evaluator) Eval(source string, row map[string]interface{}, vars map[string]interface{}) (interface{}, error) {
	e.mu.Lock()
	prog, ok := e.cache[source]
	e.mu.Unlock()
	if !ok {
		flat := flatEnv(row, vars)
		compiled, err := expr.Compile(source, expr.Env(flat), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("exprlang: compile: %w", err)
		}
		prog = compiled
		e.mu.Lock()
		e.cache[source] = prog
		e.mu.Unlock()
	}
	flat := flatEnv(row, vars)
	out, err := expr.Run(prog, flat)
	if err != nil {
		return nil, fmt.Errorf("exprlang: eval: %w", err)
	}
	return out, nil
}

// flatEnv merges row columns, global variables (under "$vars"), and
// the closed helper functions into one environment map. Row columns
// take precedence over identically-named vars to keep per-row
// expressions unsurprising.
func flatEnv(row map[string]interface{}, vars map[string]interface{}) map[string]interface{} {
	e := env{Row: row, Vars: vars}
	flat := map[string]interface{}{
		"$vars": vars,
		"len":   e.Len,
		"sum":   e.Sum,
		"min":   e.Min,
		"max":   e.Max,
		"any":   e.Any,
		"all":   e.All,
	}
	for k, v := range row {
		flat[k] = v
	}
	return flat
}
