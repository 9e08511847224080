package nodes

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/flowforge/flowexec/internal/table"
)

func registerTransforms(r *Registry) {
	r.register(&selectColumnsNode{})
	r.register(&filterRowsNode{})
	r.register(&sampleRowsNode{})
	r.register(&renameColumnsNode{})
	r.register(&changeDataTypeNode{})
	r.register(&addModifyColumnNode{})
	r.register(&splitColumnNode{})
	r.register(&mapValuesNode{})
	r.register(&handleMissingValuesNode{})
	r.register(&deduplicateNode{})
	r.register(&sortDataNode{})
	r.register(&pivotTableNode{})
	r.register(&meltNode{})
	r.register(&groupAggregateNode{})
	r.register(&windowFunctionsNode{})
	r.register(&joinMergeNode{})
	r.register(&unionConcatenateNode{})
	r.register(&applyFunctionNode{})
	r.register(&runPythonScriptNode{})
}

// --- select_columns ---------------------------------------------------

type selectColumnsNode struct{}

func (n *selectColumnsNode) Type() string       { return "select_columns" }
func (n *selectColumnsNode) Category() Category { return CategoryTransform }

func (n *selectColumnsNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("select_columns: no input table")
	}
	cols := cfgStringSlice(in.Config, "columns")
	if len(cols) == 0 {
		return Output{"output": tbl}, nil
	}
	operation := cfgString(in.Config, "operation", "select")
	switch operation {
	case "select":
		out, err := tbl.WithColumns(cols)
		if err != nil {
			return nil, fmt.Errorf("select_columns: %w", err)
		}
		return Output{"output": out}, nil
	case "drop":
		drop := map[string]bool{}
		for _, c := range cols {
			drop[c] = true
		}
		var keep []string
		for _, c := range tbl.ColumnNames() {
			if !drop[c] {
				keep = append(keep, c)
			}
		}
		out, err := tbl.WithColumns(keep)
		if err != nil {
			return nil, fmt.Errorf("select_columns: %w", err)
		}
		return Output{"output": out}, nil
	default:
		return nil, fmt.Errorf("select_columns: unknown operation %q", operation)
	}
}

// --- filter_rows --------------------------------------------------------

type filterRowsNode struct{}

func (n *filterRowsNode) Type() string       { return "filter_rows" }
func (n *filterRowsNode) Category() Category { return CategoryTransform }

func (n *filterRowsNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("filter_rows: no input table")
	}
	expr := cfgString(in.Config, "expression", "")
	if expr == "" {
		return Output{"output": tbl}, nil
	}
	if in.Deps == nil || in.Deps.Expr == nil {
		return nil, fmt.Errorf("filter_rows: no expression evaluator configured")
	}
	var keep []int
	for r := 0; r < tbl.NumRows(); r++ {
		v, err := in.Deps.Expr.Eval(expr, tbl.RowMap(r), in.Variables)
		if err != nil {
			return nil, fmt.Errorf("filter_rows: %w", err)
		}
		if b, ok := v.(bool); ok && b {
			keep = append(keep, r)
		}
	}
	return Output{"output": tbl.WithRows(keep)}, nil
}

// --- sample_rows ----------------------------------------------------------

type sampleRowsNode struct{}

func (n *sampleRowsNode) Type() string       { return "sample_rows" }
func (n *sampleRowsNode) Category() Category { return CategoryTransform }

func (n *sampleRowsNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("sample_rows: no input table")
	}
	method := cfgString(in.Config, "method", "head")
	count := cfgInt(in.Config, "n", 10)
	total := tbl.NumRows()
	if count > total {
		count = total
	}
	var indices []int
	switch method {
	case "head":
		for i := 0; i < count; i++ {
			indices = append(indices, i)
		}
	case "tail":
		for i := total - count; i < total; i++ {
			indices = append(indices, i)
		}
	case "random":
		seed := int64(cfgInt(in.Config, "seed", 0))
		indices = randomSampleIndices(total, count, seed)
	default:
		return nil, fmt.Errorf("sample_rows: unknown method %q", method)
	}
	return Output{"output": tbl.WithRows(indices)}, nil
}

// randomSampleIndices draws count distinct row indices out of [0,total)
// with a Fisher-Yates partial shuffle seeded by seed, so the same seed
// always reproduces the same sample.
func randomSampleIndices(total, count int, seed int64) []int {
	pool := make([]int, total)
	for i := range pool {
		pool[i] = i
	}
	rnd := rand.New(rand.NewSource(seed))
	for i := 0; i < count && i < total; i++ {
		j := i + rnd.Intn(total-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	result := append([]int(nil), pool[:count]...)
	sort.Ints(result)
	return result
}

// --- rename_columns / change_data_type -----------------------------------

type renameColumnsNode struct{}

func (n *renameColumnsNode) Type() string       { return "rename_columns" }
func (n *renameColumnsNode) Category() Category { return CategoryTransform }

func (n *renameColumnsNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("rename_columns: no input table")
	}
	mapping := cfgMap(in.Config, "mapping")
	cols := make([]table.Column, len(tbl.Columns))
	copy(cols, tbl.Columns)
	for i, c := range cols {
		if v, ok := mapping[c.Name]; ok {
			if s, ok := v.(string); ok {
				cols[i].Name = s
			}
		}
	}
	return Output{"output": table.FromColumns(cols, tbl.Rows, tbl.NumRows())}, nil
}

type changeDataTypeNode struct{}

func (n *changeDataTypeNode) Type() string       { return "change_data_type" }
func (n *changeDataTypeNode) Category() Category { return CategoryTransform }

func (n *changeDataTypeNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("change_data_type: no input table")
	}
	targets := cfgMap(in.Config, "types")
	cols := append([]table.Column(nil), tbl.Columns...)
	rows := make([][]table.Cell, len(tbl.Rows))
	for i := range rows {
		rows[i] = tbl.Rows[i]
	}
	for i, c := range cols {
		rawKind, ok := targets[c.Name]
		if !ok {
			continue
		}
		kindStr, _ := rawKind.(string)
		kind := parseCellKind(kindStr)
		cols[i].Kind = kind
		converted := make([]table.Cell, len(rows[i]))
		for j, cell := range rows[i] {
			converted[j] = convertCell(cell, kind)
		}
		rows[i] = converted
	}
	return Output{"output": newTableRaw(cols, rows, tbl.NumRows())}, nil
}

func parseCellKind(s string) table.CellKind {
	switch s {
	case "integer":
		return table.KindInt
	case "floating":
		return table.KindFloat
	case "boolean":
		return table.KindBool
	case "timestamp":
		return table.KindTimestamp
	default:
		return table.KindString
	}
}

func convertCell(c table.Cell, kind table.CellKind) table.Cell {
	if c.IsNull() {
		return c
	}
	switch kind {
	case table.KindString:
		return table.StringCell(fmt.Sprintf("%v", c.Value()))
	case table.KindInt:
		switch c.Kind {
		case table.KindFloat:
			return table.IntCell(int64(c.F))
		case table.KindString:
			if i, err := strconv.ParseInt(c.S, 10, 64); err == nil {
				return table.IntCell(i)
			}
		}
		return c
	case table.KindFloat:
		switch c.Kind {
		case table.KindInt:
			return table.FloatCell(float64(c.I))
		case table.KindString:
			if f, err := strconv.ParseFloat(c.S, 64); err == nil {
				return table.FloatCell(f)
			}
		}
		return c
	case table.KindBool:
		if c.Kind == table.KindString {
			b, err := strconv.ParseBool(c.S)
			if err == nil {
				return table.BoolCell(b)
			}
		}
		return c
	default:
		return c
	}
}

// --- add_modify_column ----------------------------------------------------

type addModifyColumnNode struct{}

func (n *addModifyColumnNode) Type() string       { return "add_modify_column" }
func (n *addModifyColumnNode) Category() Category { return CategoryTransform }

func (n *addModifyColumnNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("add_modify_column: no input table")
	}
	name := cfgString(in.Config, "column", "")
	if name == "" {
		return nil, fmt.Errorf("add_modify_column: config.column is required")
	}
	expr := cfgString(in.Config, "expression", "")
	if expr == "" {
		return nil, fmt.Errorf("add_modify_column: config.expression is required")
	}
	if in.Deps == nil || in.Deps.Expr == nil {
		return nil, fmt.Errorf("add_modify_column: no expression evaluator configured")
	}

	idx := tbl.ColumnIndex(name)
	cols := append([]table.Column(nil), tbl.Columns...)
	rows := make([][]table.Cell, len(cols))
	for i := range tbl.Rows {
		if i < len(rows) {
			rows[i] = tbl.Rows[i]
		}
	}
	values := make([]table.Cell, tbl.NumRows())
	for r := 0; r < tbl.NumRows(); r++ {
		v, err := in.Deps.Expr.Eval(expr, tbl.RowMap(r), in.Variables)
		if err != nil {
			return nil, fmt.Errorf("add_modify_column: %w", err)
		}
		values[r] = table.CellFromValue(v)
	}
	if idx == -1 {
		kind := table.KindNull
		if len(values) > 0 {
			kind = values[0].Kind
		}
		cols = append(cols, table.Column{Name: name, Kind: kind})
		rows = append(rows, values)
	} else {
		rows[idx] = values
	}
	return Output{"output": newTableRaw(cols, rows, tbl.NumRows())}, nil
}

// --- split_column ---------------------------------------------------------

type splitColumnNode struct{}

func (n *splitColumnNode) Type() string       { return "split_column" }
func (n *splitColumnNode) Category() Category { return CategoryTransform }

func (n *splitColumnNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("split_column: no input table")
	}
	source := cfgString(in.Config, "column", "")
	delimiter := cfgString(in.Config, "delimiter", ",")
	newNames := cfgStringSlice(in.Config, "into")
	idx := tbl.ColumnIndex(source)
	if idx == -1 {
		return nil, fmt.Errorf("split_column: unknown column %q", source)
	}
	cols := append([]table.Column(nil), tbl.Columns...)
	rows := append([][]table.Cell(nil), tbl.Rows...)
	parts := make([][]string, tbl.NumRows())
	maxParts := 0
	for r := 0; r < tbl.NumRows(); r++ {
		s := fmt.Sprintf("%v", tbl.Rows[idx][r].Value())
		parts[r] = strings.Split(s, delimiter)
		if len(parts[r]) > maxParts {
			maxParts = len(parts[r])
		}
	}
	n2 := maxParts
	if len(newNames) > 0 {
		n2 = len(newNames)
	}
	for i := 0; i < n2; i++ {
		name := fmt.Sprintf("%s_%d", source, i+1)
		if i < len(newNames) {
			name = newNames[i]
		}
		col := make([]table.Cell, tbl.NumRows())
		for r := 0; r < tbl.NumRows(); r++ {
			if i < len(parts[r]) {
				col[r] = table.StringCell(parts[r][i])
			} else {
				col[r] = table.NullCell()
			}
		}
		cols = append(cols, table.Column{Name: name, Kind: table.KindString})
		rows = append(rows, col)
	}
	return Output{"output": newTableRaw(cols, rows, tbl.NumRows())}, nil
}

// --- map_values -----------------------------------------------------------

type mapValuesNode struct{}

func (n *mapValuesNode) Type() string       { return "map_values" }
func (n *mapValuesNode) Category() Category { return CategoryTransform }

func (n *mapValuesNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("map_values: no input table")
	}
	column := cfgString(in.Config, "column", "")
	mapping := cfgMap(in.Config, "mapping")
	idx := tbl.ColumnIndex(column)
	if idx == -1 {
		return nil, fmt.Errorf("map_values: unknown column %q", column)
	}
	cols := append([]table.Column(nil), tbl.Columns...)
	rows := append([][]table.Cell(nil), tbl.Rows...)
	mapped := make([]table.Cell, tbl.NumRows())
	for r, cell := range rows[idx] {
		key := fmt.Sprintf("%v", cell.Value())
		if v, ok := mapping[key]; ok {
			mapped[r] = table.CellFromValue(v)
		} else {
			mapped[r] = cell
		}
	}
	rows[idx] = mapped
	return Output{"output": newTableRaw(cols, rows, tbl.NumRows())}, nil
}

// --- handle_missing_values --------------------------------------------------

type handleMissingValuesNode struct{}

func (n *handleMissingValuesNode) Type() string       { return "handle_missing_values" }
func (n *handleMissingValuesNode) Category() Category { return CategoryTransform }

func (n *handleMissingValuesNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("handle_missing_values: no input table")
	}
	strategy := cfgString(in.Config, "strategy", "drop")
	columns := cfgStringSlice(in.Config, "columns")
	targetIdx := map[int]bool{}
	if len(columns) == 0 {
		for i := range tbl.Columns {
			targetIdx[i] = true
		}
	} else {
		for _, c := range columns {
			if idx := tbl.ColumnIndex(c); idx != -1 {
				targetIdx[idx] = true
			}
		}
	}

	switch strategy {
	case "drop":
		var keep []int
		for r := 0; r < tbl.NumRows(); r++ {
			hasNull := false
			for idx := range targetIdx {
				if tbl.Rows[idx][r].IsNull() {
					hasNull = true
					break
				}
			}
			if !hasNull {
				keep = append(keep, r)
			}
		}
		return Output{"output": tbl.WithRows(keep)}, nil
	case "fill":
		fillValue := table.CellFromValue(in.Config["fill_value"])
		rows := append([][]table.Cell(nil), tbl.Rows...)
		for idx := range targetIdx {
			col := append([]table.Cell(nil), rows[idx]...)
			for r, c := range col {
				if c.IsNull() {
					col[r] = fillValue
				}
			}
			rows[idx] = col
		}
		return Output{"output": newTableRaw(tbl.Columns, rows, tbl.NumRows())}, nil
	default:
		return nil, fmt.Errorf("handle_missing_values: unknown strategy %q", strategy)
	}
}

// --- deduplicate ------------------------------------------------------------

type deduplicateNode struct{}

func (n *deduplicateNode) Type() string       { return "deduplicate" }
func (n *deduplicateNode) Category() Category { return CategoryTransform }

func (n *deduplicateNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("deduplicate: no input table")
	}
	keyCols := cfgStringSlice(in.Config, "columns")
	if len(keyCols) == 0 {
		keyCols = tbl.ColumnNames()
	}
	seen := map[string]bool{}
	var keep []int
	for r := 0; r < tbl.NumRows(); r++ {
		key := ""
		for _, c := range keyCols {
			idx := tbl.ColumnIndex(c)
			if idx == -1 {
				continue
			}
			key += fmt.Sprintf("%v|", tbl.Rows[idx][r].Value())
		}
		if !seen[key] {
			seen[key] = true
			keep = append(keep, r)
		}
	}
	return Output{"output": tbl.WithRows(keep)}, nil
}

// --- sort_data ---------------------------------------------------------------

type sortDataNode struct{}

func (n *sortDataNode) Type() string       { return "sort_data" }
func (n *sortDataNode) Category() Category { return CategoryTransform }

func (n *sortDataNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("sort_data: no input table")
	}
	column := cfgString(in.Config, "column", "")
	descending := cfgBool(in.Config, "descending", false)
	idx := tbl.ColumnIndex(column)
	if idx == -1 {
		return nil, fmt.Errorf("sort_data: unknown column %q", column)
	}
	indices := make([]int, tbl.NumRows())
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		less := compareCells(tbl.Rows[idx][indices[i]], tbl.Rows[idx][indices[j]])
		if descending {
			return less > 0
		}
		return less < 0
	})
	return Output{"output": tbl.WithRows(indices)}, nil
}

func compareCells(a, b table.Cell) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}
	switch a.Kind {
	case table.KindInt:
		return int(a.I - b.I)
	case table.KindFloat:
		switch {
		case a.F < b.F:
			return -1
		case a.F > b.F:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(fmt.Sprintf("%v", a.Value()), fmt.Sprintf("%v", b.Value()))
	}
}

// --- pivot_table / melt ---------------------------------------------------

type pivotTableNode struct{}

func (n *pivotTableNode) Type() string       { return "pivot_table" }
func (n *pivotTableNode) Category() Category { return CategoryTransform }

func (n *pivotTableNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("pivot_table: no input table")
	}
	indexCol := cfgString(in.Config, "index", "")
	columnsCol := cfgString(in.Config, "columns", "")
	valuesCol := cfgString(in.Config, "values", "")
	agg := cfgString(in.Config, "aggregate", "sum")

	type key struct{ idx, col string }
	sums := map[key]float64{}
	counts := map[key]int{}
	indexOrder := []string{}
	seenIndex := map[string]bool{}
	columnOrder := []string{}
	seenColumn := map[string]bool{}

	for r := 0; r < tbl.NumRows(); r++ {
		row := tbl.RowMap(r)
		idxVal := fmt.Sprintf("%v", row[indexCol])
		colVal := fmt.Sprintf("%v", row[columnsCol])
		v := toFloat(row[valuesCol])
		k := key{idxVal, colVal}
		sums[k] += v
		counts[k]++
		if !seenIndex[idxVal] {
			seenIndex[idxVal] = true
			indexOrder = append(indexOrder, idxVal)
		}
		if !seenColumn[colVal] {
			seenColumn[colVal] = true
			columnOrder = append(columnOrder, colVal)
		}
	}

	cols := []table.Column{{Name: indexCol, Kind: table.KindString}}
	for _, c := range columnOrder {
		cols = append(cols, table.Column{Name: c, Kind: table.KindFloat})
	}
	out := table.New(cols)
	for _, idxVal := range indexOrder {
		values := map[string]table.Cell{indexCol: table.StringCell(idxVal)}
		for _, c := range columnOrder {
			k := key{idxVal, c}
			var v float64
			switch agg {
			case "mean":
				if counts[k] > 0 {
					v = sums[k] / float64(counts[k])
				}
			case "count":
				v = float64(counts[k])
			default: // sum
				v = sums[k]
			}
			values[c] = table.FloatCell(v)
		}
		out.AppendRow(values)
	}
	return Output{"output": out}, nil
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case int:
		return float64(x)
	default:
		return 0
	}
}

type meltNode struct{}

func (n *meltNode) Type() string       { return "melt" }
func (n *meltNode) Category() Category { return CategoryTransform }

func (n *meltNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("melt: no input table")
	}
	idVars := cfgStringSlice(in.Config, "id_vars")
	valueVars := cfgStringSlice(in.Config, "value_vars")
	if len(valueVars) == 0 {
		idSet := map[string]bool{}
		for _, v := range idVars {
			idSet[v] = true
		}
		for _, c := range tbl.ColumnNames() {
			if !idSet[c] {
				valueVars = append(valueVars, c)
			}
		}
	}
	variableCol := cfgString(in.Config, "var_name", "variable")
	valueCol := cfgString(in.Config, "value_name", "value")

	cols := make([]table.Column, 0, len(idVars)+2)
	for _, v := range idVars {
		cols = append(cols, table.Column{Name: v, Kind: table.KindString})
	}
	cols = append(cols, table.Column{Name: variableCol, Kind: table.KindString}, table.Column{Name: valueCol, Kind: table.KindString})
	out := table.New(cols)
	for r := 0; r < tbl.NumRows(); r++ {
		row := tbl.RowMap(r)
		for _, vv := range valueVars {
			values := map[string]table.Cell{}
			for _, id := range idVars {
				values[id] = table.CellFromValue(row[id])
			}
			values[variableCol] = table.StringCell(vv)
			values[valueCol] = table.CellFromValue(row[vv])
			out.AppendRow(values)
		}
	}
	return Output{"output": out}, nil
}

// --- group_aggregate / window_functions --------------------------------------

type groupAggregateNode struct{}

func (n *groupAggregateNode) Type() string       { return "group_aggregate" }
func (n *groupAggregateNode) Category() Category { return CategoryTransform }

func (n *groupAggregateNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("group_aggregate: no input table")
	}
	groupBy := cfgStringSlice(in.Config, "group_by")
	aggregations := cfgMap(in.Config, "aggregations") // column -> func name

	type groupKey string
	groupOrder := []groupKey{}
	seen := map[groupKey]bool{}
	groupRows := map[groupKey][]int{}
	for r := 0; r < tbl.NumRows(); r++ {
		row := tbl.RowMap(r)
		key := groupKey("")
		for _, g := range groupBy {
			key += groupKey(fmt.Sprintf("%v|", row[g]))
		}
		if !seen[key] {
			seen[key] = true
			groupOrder = append(groupOrder, key)
		}
		groupRows[key] = append(groupRows[key], r)
	}

	cols := make([]table.Column, 0, len(groupBy)+len(aggregations))
	for _, g := range groupBy {
		cols = append(cols, table.Column{Name: g, Kind: table.KindString})
	}
	aggNames := make([]string, 0, len(aggregations))
	for col := range aggregations {
		aggNames = append(aggNames, col)
	}
	sort.Strings(aggNames)
	for _, col := range aggNames {
		fn, _ := aggregations[col].(string)
		cols = append(cols, table.Column{Name: col + "_" + fn, Kind: table.KindFloat})
	}

	out := table.New(cols)
	for _, key := range groupOrder {
		idxs := groupRows[key]
		values := map[string]table.Cell{}
		first := tbl.RowMap(idxs[0])
		for _, g := range groupBy {
			values[g] = table.CellFromValue(first[g])
		}
		for _, col := range aggNames {
			fn, _ := aggregations[col].(string)
			values[col+"_"+fn] = table.FloatCell(aggregate(tbl, col, idxs, fn))
		}
		out.AppendRow(values)
	}
	return Output{"output": out}, nil
}

func aggregate(tbl *table.Table, column string, indices []int, fn string) float64 {
	idx := tbl.ColumnIndex(column)
	if idx == -1 {
		return 0
	}
	var sum, min, max float64
	count := 0
	for i, r := range indices {
		v := toFloat(tbl.Rows[idx][r].Value())
		sum += v
		if i == 0 || v < min {
			min = v
		}
		if i == 0 || v > max {
			max = v
		}
		count++
	}
	switch fn {
	case "sum":
		return sum
	case "mean", "avg":
		if count == 0 {
			return 0
		}
		return sum / float64(count)
	case "min":
		return min
	case "max":
		return max
	case "count":
		return float64(count)
	default:
		return sum
	}
}

type windowFunctionsNode struct{}

func (n *windowFunctionsNode) Type() string       { return "window_functions" }
func (n *windowFunctionsNode) Category() Category { return CategoryTransform }

func (n *windowFunctionsNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("window_functions: no input table")
	}
	partitionBy := cfgStringSlice(in.Config, "partition_by")
	orderBy := cfgString(in.Config, "order_by", "")
	fn := cfgString(in.Config, "function", "row_number")
	outputName := cfgString(in.Config, "output_column", fn)

	indices := make([]int, tbl.NumRows())
	for i := range indices {
		indices[i] = i
	}
	if orderBy != "" {
		orderIdx := tbl.ColumnIndex(orderBy)
		if orderIdx != -1 {
			sort.SliceStable(indices, func(i, j int) bool {
				return compareCells(tbl.Rows[orderIdx][indices[i]], tbl.Rows[orderIdx][indices[j]]) < 0
			})
		}
	}

	partitionCounter := map[string]int{}
	values := make([]table.Cell, tbl.NumRows())
	for _, r := range indices {
		row := tbl.RowMap(r)
		pk := ""
		for _, p := range partitionBy {
			pk += fmt.Sprintf("%v|", row[p])
		}
		partitionCounter[pk]++
		switch fn {
		case "row_number":
			values[r] = table.IntCell(int64(partitionCounter[pk]))
		case "rank":
			values[r] = table.IntCell(int64(partitionCounter[pk]))
		default:
			values[r] = table.IntCell(int64(partitionCounter[pk]))
		}
	}

	cols := append([]table.Column(nil), tbl.Columns...)
	rows := append([][]table.Cell(nil), tbl.Rows...)
	cols = append(cols, table.Column{Name: outputName, Kind: table.KindInt})
	rows = append(rows, values)
	return Output{"output": newTableRaw(cols, rows, tbl.NumRows())}, nil
}

// --- join_merge / union_concatenate ------------------------------------------

type joinMergeNode struct{}

func (n *joinMergeNode) Type() string       { return "join_merge" }
func (n *joinMergeNode) Category() Category { return CategoryTransform }

func (n *joinMergeNode) Invoke(ctx context.Context, in Input) (Output, error) {
	left, leftOK := asTable(in.Inputs["left"])
	right, rightOK := asTable(in.Inputs["right"])
	if !leftOK || !rightOK {
		return nil, fmt.Errorf("join_merge: requires both 'left' and 'right' inputs")
	}
	leftKey := cfgString(in.Config, "left_key", "")
	rightKey := cfgString(in.Config, "right_key", leftKey)
	how := cfgString(in.Config, "how", "inner")

	rIdx := right.ColumnIndex(rightKey)
	if rIdx == -1 {
		return nil, fmt.Errorf("join_merge: unknown right key %q", rightKey)
	}
	byRightKey := map[string][]int{}
	for r := 0; r < right.NumRows(); r++ {
		k := fmt.Sprintf("%v", right.Rows[rIdx][r].Value())
		byRightKey[k] = append(byRightKey[k], r)
	}

	lIdx := left.ColumnIndex(leftKey)
	if lIdx == -1 {
		return nil, fmt.Errorf("join_merge: unknown left key %q", leftKey)
	}

	cols := append([]table.Column(nil), left.Columns...)
	for _, c := range right.Columns {
		if c.Name != rightKey {
			cols = append(cols, table.Column{Name: "right_" + c.Name, Kind: c.Kind})
		}
	}
	out := table.New(cols)

	for l := 0; l < left.NumRows(); l++ {
		k := fmt.Sprintf("%v", left.Rows[lIdx][l].Value())
		matches := byRightKey[k]
		if len(matches) == 0 {
			if how == "inner" {
				continue
			}
			values := leftRowValues(left, l)
			out.AppendRow(values)
			continue
		}
		for _, rr := range matches {
			values := leftRowValues(left, l)
			rightRow := right.RowMap(rr)
			for _, c := range right.Columns {
				if c.Name != rightKey {
					values["right_"+c.Name] = table.CellFromValue(rightRow[c.Name])
				}
			}
			out.AppendRow(values)
		}
	}
	return Output{"output": out}, nil
}

func leftRowValues(t *table.Table, r int) map[string]table.Cell {
	values := make(map[string]table.Cell, len(t.Columns))
	for i, c := range t.Columns {
		values[c.Name] = t.Rows[i][r]
	}
	return values
}

func asTable(v interface{}) (*table.Table, bool) {
	t, ok := v.(*table.Table)
	return t, ok
}

type unionConcatenateNode struct{}

func (n *unionConcatenateNode) Type() string       { return "union_concatenate" }
func (n *unionConcatenateNode) Category() Category { return CategoryTransform }

func (n *unionConcatenateNode) Invoke(ctx context.Context, in Input) (Output, error) {
	var tables []*table.Table
	for _, v := range in.Inputs {
		if t, ok := asTable(v); ok {
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("union_concatenate: no input tables")
	}
	dedupe := cfgBool(in.Config, "deduplicate", false)
	result := concatTables(tables)
	if dedupe {
		result = unionTables(tables)
	}
	return Output{"output": result}, nil
}

// --- apply_function / run_python_script --------------------------------------

type applyFunctionNode struct{}

func (n *applyFunctionNode) Type() string       { return "apply_function" }
func (n *applyFunctionNode) Category() Category { return CategoryTransform }

func (n *applyFunctionNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("apply_function: no input table")
	}
	functionType := cfgString(in.Config, "function_type", "lambda")
	outputColumn := cfgString(in.Config, "output_column", "result")

	switch functionType {
	case "lambda":
		expr := cfgString(in.Config, "function_code", "")
		if in.Deps == nil || in.Deps.Expr == nil {
			return nil, fmt.Errorf("apply_function: no expression evaluator configured")
		}
		cols := append([]table.Column(nil), tbl.Columns...)
		rows := append([][]table.Cell(nil), tbl.Rows...)
		values := make([]table.Cell, tbl.NumRows())
		for r := 0; r < tbl.NumRows(); r++ {
			v, err := in.Deps.Expr.Eval(expr, tbl.RowMap(r), in.Variables)
			if err != nil {
				return nil, fmt.Errorf("apply_function: %w", err)
			}
			values[r] = table.CellFromValue(v)
		}
		idx := tbl.ColumnIndex(outputColumn)
		if idx == -1 {
			kind := table.KindNull
			if len(values) > 0 {
				kind = values[0].Kind
			}
			cols = append(cols, table.Column{Name: outputColumn, Kind: kind})
			rows = append(rows, values)
		} else {
			rows[idx] = values
		}
		return Output{"output": newTableRaw(cols, rows, tbl.NumRows())}, nil
	case "builtin":
		code := cfgString(in.Config, "function_code", "")
		if in.Deps == nil || in.Deps.Sandbox == nil {
			return nil, fmt.Errorf("apply_function: no sandbox configured")
		}
		cols := append([]table.Column(nil), tbl.Columns...)
		rows := append([][]table.Cell(nil), tbl.Rows...)
		values := make([]table.Cell, tbl.NumRows())
		for r := 0; r < tbl.NumRows(); r++ {
			v, err := in.Deps.Sandbox.RunRowFunction(ctx, code, tbl.RowMap(r), r)
			if err != nil {
				return nil, fmt.Errorf("apply_function: %w", err)
			}
			values[r] = table.CellFromValue(v)
		}
		idx := tbl.ColumnIndex(outputColumn)
		if idx == -1 {
			kind := table.KindNull
			if len(values) > 0 {
				kind = values[0].Kind
			}
			cols = append(cols, table.Column{Name: outputColumn, Kind: kind})
			rows = append(rows, values)
		} else {
			rows[idx] = values
		}
		return Output{"output": newTableRaw(cols, rows, tbl.NumRows())}, nil
	default:
		return nil, fmt.Errorf("apply_function: unknown function_type %q", functionType)
	}
}

// runPythonScriptNode's wire name names the node's contract, not an
// implementation language: no interpreter for an unsandboxed general
// purpose language belongs in this runtime (spec §9 Design Note: never
// embed a general-purpose scripting runtime). It runs in the same
// goja-based sandbox as apply_function's builtin path, receiving the
// whole table and returning a table-shaped array.
type runPythonScriptNode struct{}

func (n *runPythonScriptNode) Type() string       { return "run_python_script" }
func (n *runPythonScriptNode) Category() Category { return CategoryTransform }

func (n *runPythonScriptNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("run_python_script: no input table")
	}
	code := cfgString(in.Config, "script", "")
	if in.Deps == nil || in.Deps.Sandbox == nil {
		return nil, fmt.Errorf("run_python_script: no sandbox configured")
	}
	rows, err := in.Deps.Sandbox.RunTable(ctx, code, tbl.ToMaps())
	if err != nil {
		return nil, fmt.Errorf("run_python_script: %w", err)
	}
	return Output{"output": table.FromMaps(rows, tbl.ColumnNames())}, nil
}

// newTableRaw builds a Table directly from already-consistent column/row
// slices, for transforms that construct new column data in place.
func newTableRaw(cols []table.Column, rows [][]table.Cell, nrows int) *table.Table {
	return table.FromColumns(cols, rows, nrows)
}
