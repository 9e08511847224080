// Package nodes implements the closed node-type taxonomy (source,
// transform, sink, control, utility) described by the flow runtime's
// node catalog. Each node type is a pure function of its declared
// inputs except sink nodes, which additionally perform one side effect
// and pass their input table through unchanged.
package nodes

import (
	"context"
	"fmt"

	"github.com/flowforge/flowexec/internal/table"
)

// Category is the closed set of node categories.
type Category string

const (
	CategorySource    Category = "source"
	CategoryTransform Category = "transform"
	CategorySink      Category = "sink"
	CategoryControl   Category = "control"
	CategoryUtility   Category = "utility"
)

// Value is whatever a node produces on one output handle: most nodes
// produce a *table.Table, but conditional_branch and merge may also
// pass through non-table values, and utility nodes produce nothing.
type Value = interface{}

// Input bundles everything a node needs to run once: named inputs
// resolved per spec's handle-naming precedence, the node's own
// declared config, and ambient execution state that does not
// participate in handle-based wiring (global variables, credentials,
// collaborator clients).
type Input struct {
	NodeID    string
	Config    map[string]interface{}
	Inputs    map[string]Value // keyed by resolved input handle/source id
	Variables map[string]interface{}
	Deps      *Dependencies
}

// Output is what Invoke returns: the node's produced value(s), keyed
// by output handle. Most node types produce exactly one handle named
// "output"; conditional_branch produces "true"/"false".
type Output map[string]Value

// Node is the behavior every node type implements. Invoke must be a
// pure function of in, except for Sink nodes which may also perform
// one external side effect.
type Node interface {
	Type() string
	Category() Category
	Invoke(ctx context.Context, in Input) (Output, error)
}

// Dependencies are the non-ambient, explicitly constructed collaborator
// clients a node may need (database, file system, http, smtp,
// expression/sandbox evaluators). They are passed down from the flow
// executor's construction call, never reached through a package-level
// global.
type Dependencies struct {
	DB       DatabaseHandle
	Files    FileSystem
	HTTP     HTTPClient
	SMTP     SmtpClient
	Expr     ExpressionEvaluator
	Sandbox  ScriptSandbox
}

// DatabaseHandle, FileSystem, HTTPClient, SmtpClient, ExpressionEvaluator
// and ScriptSandbox are the external collaborator interfaces node
// implementations depend on. Concrete implementations live in sibling
// packages (dbio, fileio, httpclient, mailer, exprlang, sandboxjs) and
// are wired together explicitly in cmd/server.
type DatabaseHandle interface {
	Query(ctx context.Context, query string, args ...interface{}) (*table.Table, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	// Authorize reports whether action ("read" or "write") is permitted
	// against the named table, checked by table_reader/table_writer
	// before issuing a query or statement.
	Authorize(ctx context.Context, action string, table string) error
}

// PermissionDeniedError is returned by table_reader/table_writer when
// the DB collaborator's Authorize check rejects the requested table
// access; the dispatch gateway surfaces it as 403.
type PermissionDeniedError struct {
	Action string
	Table  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s access to table %q", e.Action, e.Table)
}

type FileSystem interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
}

type HTTPClient interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (status int, respBody []byte, err error)
}

type SmtpClient interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

type ExpressionEvaluator interface {
	// Eval compiles (with caching left to the implementation) and runs
	// expr against a row-scoped environment plus global variables,
	// returning a plain Go value.
	Eval(expr string, row map[string]interface{}, vars map[string]interface{}) (interface{}, error)
}

type ScriptSandbox interface {
	// RunTable executes a whole-table script: the script receives the
	// table as `input` ([]map[string]interface{}) and must return a
	// table-shaped array.
	RunTable(ctx context.Context, code string, rows []map[string]interface{}) ([]map[string]interface{}, error)
	// RunRowFunction evaluates code once per row, used by
	// apply_function's builtin function type.
	RunRowFunction(ctx context.Context, code string, row map[string]interface{}, index int) (interface{}, error)
}

// Registry is a closed type-string -> constructor table. It is safe to
// build once at process start and share read-only across requests; it
// holds no per-request state and is not an ambient global (it is
// constructed explicitly in cmd/server and threaded through the flow
// executor's constructor).
type Registry struct {
	factories map[string]func() Node
	meta      map[string]Category
}

// NewRegistry builds the registry populated with every built-in node
// type. Construction never fails: every built-in factory is total.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]func() Node),
		meta:      make(map[string]Category),
	}
	registerSources(r)
	registerTransforms(r)
	registerSinks(r)
	registerControls(r)
	registerUtilities(r)
	return r
}

func (r *Registry) register(n Node) {
	r.factories[n.Type()] = func() Node { return n }
	r.meta[n.Type()] = n.Category()
}

// Get constructs (or returns the shared instance of) the node for a
// given type string, or an error if the type is not registered. Node
// types in this runtime are stateless, so the same instance is safe to
// reuse across concurrent executions.
func (r *Registry) Get(nodeType string) (Node, error) {
	f, ok := r.factories[nodeType]
	if !ok {
		return nil, fmt.Errorf("nodes: unknown node type %q", nodeType)
	}
	return f(), nil
}

// IsKnownType reports whether nodeType is a member of the closed
// registry; it is handed to dag.Build as the KnownTypeChecker.
func (r *Registry) IsKnownType(nodeType string) bool {
	_, ok := r.factories[nodeType]
	return ok
}

// CategoryOf reports the category of a registered node type.
func (r *Registry) CategoryOf(nodeType string) (Category, bool) {
	c, ok := r.meta[nodeType]
	return c, ok
}

// List returns every registered node type, grouped with its category,
// for the /execute/node-types introspection endpoint.
func (r *Registry) List() []TypeInfo {
	out := make([]TypeInfo, 0, len(r.factories))
	for t, c := range r.meta {
		out = append(out, TypeInfo{Type: t, Category: c})
	}
	return out
}

// TypeInfo describes one registered node type.
type TypeInfo struct {
	Type     string   `json:"type"`
	Category Category `json:"category"`
}
