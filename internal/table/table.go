// Package table implements the columnar Table value used by every node
// in the flow runtime. A Table is immutable from the caller's
// perspective: every mutating operation returns a new Table sharing
// unmodified column slices with its parent (copy-on-write).
package table

import (
	"fmt"
	"sort"
	"time"
)

// CellKind is the closed set of scalar cell types a Table column may hold.
type CellKind int

const (
	KindNull CellKind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindTimestamp
)

func (k CellKind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindFloat:
		return "floating"
	case KindBool:
		return "boolean"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	default:
		return "null"
	}
}

// Cell is a tagged-union scalar value. Exactly one of the typed fields
// is meaningful, selected by Kind.
type Cell struct {
	Kind CellKind
	I    int64
	F    float64
	B    bool
	S    string
	T    time.Time
}

func NullCell() Cell               { return Cell{Kind: KindNull} }
func IntCell(v int64) Cell         { return Cell{Kind: KindInt, I: v} }
func FloatCell(v float64) Cell     { return Cell{Kind: KindFloat, F: v} }
func BoolCell(v bool) Cell         { return Cell{Kind: KindBool, B: v} }
func StringCell(v string) Cell     { return Cell{Kind: KindString, S: v} }
func TimeCell(v time.Time) Cell    { return Cell{Kind: KindTimestamp, T: v} }

// IsNull reports whether the cell carries no value.
func (c Cell) IsNull() bool { return c.Kind == KindNull }

// Value unwraps the cell into a plain interface{}, suitable for JSON
// encoding or handing to the expression/sandbox evaluators.
func (c Cell) Value() interface{} {
	switch c.Kind {
	case KindInt:
		return c.I
	case KindFloat:
		return c.F
	case KindBool:
		return c.B
	case KindString:
		return c.S
	case KindTimestamp:
		return c.T
	default:
		return nil
	}
}

// CellFromValue wraps a Go value (as decoded from JSON or produced by
// an expression) into a Cell.
func CellFromValue(v interface{}) Cell {
	switch x := v.(type) {
	case nil:
		return NullCell()
	case int:
		return IntCell(int64(x))
	case int64:
		return IntCell(x)
	case float64:
		return FloatCell(x)
	case bool:
		return BoolCell(x)
	case string:
		return StringCell(x)
	case time.Time:
		return TimeCell(x)
	default:
		return StringCell(fmt.Sprintf("%v", x))
	}
}

// Column declares one ordered, typed column of a Table.
type Column struct {
	Name string
	Kind CellKind
}

// Table is an ordered set of typed columns plus row data stored
// column-major. Rows[c][r] is the value of column c at row r.
type Table struct {
	Columns []Column
	Rows    [][]Cell // Rows[columnIndex][rowIndex]
	nrows   int
}

// New builds an empty table with the given column declarations.
func New(columns []Column) *Table {
	rows := make([][]Cell, len(columns))
	return &Table{Columns: columns, Rows: rows}
}

// FromColumns builds a Table directly from already-consistent column
// declarations and column-major row data, with an explicit row count
// (row data may be longer-lived slices shared with a parent table).
func FromColumns(columns []Column, rows [][]Cell, nrows int) *Table {
	return &Table{Columns: columns, Rows: rows, nrows: nrows}
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.nrows }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.Columns) }

// ColumnIndex returns the index of a column by name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// AppendRow appends one row given as a map of column name to Cell.
// Columns absent from the map are set to Null. AppendRow mutates the
// receiver in place and is only used while a Table is being built from
// a fresh source before it is handed to the first downstream node.
func (t *Table) AppendRow(values map[string]Cell) {
	for i, col := range t.Columns {
		v, ok := values[col.Name]
		if !ok {
			v = NullCell()
		}
		t.Rows[i] = append(t.Rows[i], v)
	}
	t.nrows++
}

// Row materializes row r as an ordered slice of cells.
func (t *Table) Row(r int) []Cell {
	out := make([]Cell, len(t.Columns))
	for i := range t.Columns {
		out[i] = t.Rows[i][r]
	}
	return out
}

// RowMap materializes row r as a map keyed by column name.
func (t *Table) RowMap(r int) map[string]interface{} {
	out := make(map[string]interface{}, len(t.Columns))
	for i, col := range t.Columns {
		out[col.Name] = t.Rows[i][r].Value()
	}
	return out
}

// WithColumns returns a new Table containing only the named columns, in
// the order given. Underlying row slices are shared (copy-on-write).
func (t *Table) WithColumns(names []string) (*Table, error) {
	cols := make([]Column, 0, len(names))
	rows := make([][]Cell, 0, len(names))
	for _, n := range names {
		idx := t.ColumnIndex(n)
		if idx == -1 {
			return nil, fmt.Errorf("table: unknown column %q", n)
		}
		cols = append(cols, t.Columns[idx])
		rows = append(rows, t.Rows[idx])
	}
	return &Table{Columns: cols, Rows: rows, nrows: t.nrows}, nil
}

// WithRows returns a new Table containing only the rows at the given
// indices, in order. Column declarations are shared; row data is
// rebuilt since row selection is not representable as a slice view.
func (t *Table) WithRows(indices []int) *Table {
	rows := make([][]Cell, len(t.Columns))
	for c := range t.Columns {
		col := make([]Cell, len(indices))
		for i, r := range indices {
			col[i] = t.Rows[c][r]
		}
		rows[c] = col
	}
	return &Table{Columns: t.Columns, Rows: rows, nrows: len(indices)}
}

// Clone performs a deep-enough copy that appending to the clone never
// mutates the parent's row slices.
func (t *Table) Clone() *Table {
	rows := make([][]Cell, len(t.Columns))
	for i, col := range t.Rows {
		rows[i] = append([]Cell(nil), col...)
	}
	return &Table{Columns: append([]Column(nil), t.Columns...), Rows: rows, nrows: t.nrows}
}

// FromMaps builds a Table from a slice of row maps. When columnOrder is
// empty the columns are the first row's keys, sorted by name; column
// kind is inferred from the first non-null
// value seen in each column. This is the shape every source node
// (static_data, file_input, api_endpoint, custom_sql) produces from.
func FromMaps(rows []map[string]interface{}, columnOrder []string) *Table {
	if len(columnOrder) == 0 && len(rows) > 0 {
		seen := map[string]bool{}
		for k := range rows[0] {
			if !seen[k] {
				columnOrder = append(columnOrder, k)
				seen[k] = true
			}
		}
		sort.Strings(columnOrder)
	}
	cols := make([]Column, len(columnOrder))
	for i, name := range columnOrder {
		kind := KindNull
		for _, r := range rows {
			if v, ok := r[name]; ok && v != nil {
				kind = CellFromValue(v).Kind
				break
			}
		}
		cols[i] = Column{Name: name, Kind: kind}
	}
	tbl := New(cols)
	for _, r := range rows {
		values := make(map[string]Cell, len(cols))
		for _, c := range cols {
			if v, ok := r[c.Name]; ok {
				values[c.Name] = CellFromValue(v)
			}
		}
		tbl.AppendRow(values)
	}
	return tbl
}

// ToMaps flattens the Table back into []map[string]interface{}, the
// shape the dispatch gateway and the sandboxed/expression evaluators
// consume.
func (t *Table) ToMaps() []map[string]interface{} {
	out := make([]map[string]interface{}, t.nrows)
	for r := 0; r < t.nrows; r++ {
		out[r] = t.RowMap(r)
	}
	return out
}

// Shape returns [rows, columns] as used in the dispatch response envelope.
func (t *Table) Shape() [2]int { return [2]int{t.nrows, len(t.Columns)} }

// Dtypes returns the declared kind of each column, in column order, as
// their wire string form.
func (t *Table) Dtypes() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Kind.String()
	}
	return out
}

// ColumnNames returns the ordered column name list.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
