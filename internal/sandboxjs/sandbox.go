// Package sandboxjs implements the sandboxed interpreter Design Note
// §9 calls for: a pooled goja.Runtime with eval/Function stripped, a
// hard execution-time interrupt, and no ambient I/O. It is adapted
// directly from internal/worker/processor/sandbox.go's VMPool/Sandbox
// design in the teacher repo, generalized to the two call shapes the
// node runtime needs: a whole-table script (run_python_script) and a
// per-row function (apply_function's builtin function_type).
package sandboxjs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Config controls sandbox resource limits.
type Config struct {
	TimeLimit time.Duration
	MaxVMs    int
}

// DefaultConfig mirrors the teacher's DefaultSandboxConfig defaults.
func DefaultConfig() Config {
	return Config{TimeLimit: 10 * time.Second, MaxVMs: 8}
}

// Sandbox is a pooled goja execution environment.
type Sandbox struct {
	timeLimit time.Duration
	pool      *vmPool
}

// New builds a Sandbox with a pre-warmed VM pool.
func New(cfg Config) *Sandbox {
	if cfg.TimeLimit == 0 {
		cfg.TimeLimit = 10 * time.Second
	}
	if cfg.MaxVMs == 0 {
		cfg.MaxVMs = 8
	}
	return &Sandbox{timeLimit: cfg.TimeLimit, pool: newVMPool(cfg.MaxVMs)}
}

// RunTable implements nodes.ScriptSandbox: the script receives `input`
// (the table as []map[string]interface{}) and must evaluate to a
// table-shaped array as its last expression.
func (s *Sandbox) RunTable(ctx context.Context, code string, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := s.run(ctx, code, map[string]interface{}{"input": rows})
	if err != nil {
		return nil, err
	}
	arr, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("sandboxjs: script must evaluate to an array of objects")
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("sandboxjs: script array element is not an object")
		}
		out = append(out, m)
	}
	return out, nil
}

// RunRowFunction evaluates code once per row, exposing `$json`/`$item`
// (the row) and `$index` (the row's position), matching the teacher's
// CodeExecutor.ExecuteTransform per-item input shape.
func (s *Sandbox) RunRowFunction(ctx context.Context, code string, row map[string]interface{}, index int) (interface{}, error) {
	return s.run(ctx, code, map[string]interface{}{
		"$json":  row,
		"$item":  row,
		"$index": index,
		"input":  row,
	})
}

func (s *Sandbox) run(ctx context.Context, code string, globals map[string]interface{}) (interface{}, error) {
	vm := s.pool.get()
	defer s.pool.put(vm)

	timer := time.AfterFunc(s.timeLimit, func() {
		vm.Interrupt("execution timeout exceeded")
	})
	defer timer.Stop()

	for k, v := range globals {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("sandboxjs: failed to set %s: %w", k, err)
		}
	}

	type outcome struct {
		val interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("sandboxjs: panic: %v", r)}
			}
		}()
		val, err := vm.RunString(code)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{val: exportValue(val)}
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("context cancelled")
		return nil, ctx.Err()
	case o := <-done:
		return o.val, o.err
	}
}

func exportValue(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// vmPool is a pool of pre-hardened goja runtimes, matching the
// teacher's VMPool: eval/Function stripped, JSON/Object/Math replaced
// by the Go-backed helpers injectHelpers installs, goja's other
// built-ins left in place, no fs/net/require.
type vmPool struct {
	pool chan *goja.Runtime
}

func newVMPool(size int) *vmPool {
	p := &vmPool{pool: make(chan *goja.Runtime, size)}
	for i := 0; i < size; i++ {
		p.pool <- p.createVM()
	}
	return p
}

func (p *vmPool) createVM() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	_ = vm.Set("eval", goja.Undefined())
	_ = vm.Set("Function", goja.Undefined())
	injectHelpers(vm)
	return vm
}

func (p *vmPool) get() *goja.Runtime {
	select {
	case vm := <-p.pool:
		return vm
	default:
		return p.createVM()
	}
}

func (p *vmPool) put(vm *goja.Runtime) {
	vm.ClearInterrupt()
	select {
	case p.pool <- vm:
	default:
	}
}

func injectHelpers(vm *goja.Runtime) {
	_ = vm.Set("JSON", map[string]interface{}{
		"parse": func(s string) interface{} {
			var v interface{}
			_ = json.Unmarshal([]byte(s), &v)
			return v
		},
		"stringify": func(v interface{}) string {
			b, _ := json.Marshal(v)
			return string(b)
		},
	})
	_ = vm.Set("Object", map[string]interface{}{
		"keys": func(obj map[string]interface{}) []string {
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			return keys
		},
		"values": func(obj map[string]interface{}) []interface{} {
			values := make([]interface{}, 0, len(obj))
			for _, v := range obj {
				values = append(values, v)
			}
			return values
		},
	})
	_ = vm.Set("Math", map[string]interface{}{
		"round": func(x float64) float64 { return float64(int(x + 0.5)) },
		"floor": func(x float64) float64 { return float64(int(x)) },
		"ceil": func(x float64) float64 {
			i := int(x)
			if float64(i) < x {
				return float64(i + 1)
			}
			return float64(i)
		},
		"abs": func(x float64) float64 {
			if x < 0 {
				return -x
			}
			return x
		},
	})
}
