package nodes

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowforge/flowexec/internal/table"
)

func registerSources(r *Registry) {
	r.register(&tableReaderNode{})
	r.register(&customSQLNode{})
	r.register(&fileInputNode{})
	r.register(&apiEndpointNode{})
	r.register(&staticDataNode{})
	r.register(&webhookListenerNode{})
}

// tableReaderNode reads a named table from the configured database handle.
type tableReaderNode struct{}

func (n *tableReaderNode) Type() string       { return "table_reader" }
func (n *tableReaderNode) Category() Category { return CategorySource }

func (n *tableReaderNode) Invoke(ctx context.Context, in Input) (Output, error) {
	if in.Deps == nil || in.Deps.DB == nil {
		return nil, fmt.Errorf("table_reader: no database handle configured")
	}
	tableName := cfgString(in.Config, "table", "")
	if tableName == "" {
		return nil, fmt.Errorf("table_reader: config.table is required")
	}
	if err := in.Deps.DB.Authorize(ctx, "read", tableName); err != nil {
		return nil, &PermissionDeniedError{Action: "read", Table: tableName}
	}

	qualified := tableName
	if schema := cfgString(in.Config, "schema", ""); schema != "" {
		qualified = schema + "." + tableName
	}
	limit := cfgInt(in.Config, "limit", 0)
	query := "SELECT * FROM " + qualified
	if where := cfgString(in.Config, "where", ""); where != "" {
		query += " WHERE " + where
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	tbl, err := in.Deps.DB.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("table_reader: %w", err)
	}
	return Output{"output": tbl}, nil
}

// customSQLNode runs an arbitrary parameterized query against the
// configured database handle.
type customSQLNode struct{}

func (n *customSQLNode) Type() string       { return "custom_sql" }
func (n *customSQLNode) Category() Category { return CategorySource }

func (n *customSQLNode) Invoke(ctx context.Context, in Input) (Output, error) {
	if in.Deps == nil || in.Deps.DB == nil {
		return nil, fmt.Errorf("custom_sql: no database handle configured")
	}
	query := cfgString(in.Config, "query", "")
	if query == "" {
		return nil, fmt.Errorf("custom_sql: config.query is required")
	}
	var args []interface{}
	if raw, ok := in.Config["params"].([]interface{}); ok {
		args = raw
	}
	tbl, err := in.Deps.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("custom_sql: %w", err)
	}
	return Output{"output": tbl}, nil
}

// fileInputNode reads a file from local disk, S3, or FTP (by URI
// scheme) and parses it as csv/json, auto-detecting from the
// extension when format=="auto".
type fileInputNode struct{}

func (n *fileInputNode) Type() string       { return "file_input" }
func (n *fileInputNode) Category() Category { return CategorySource }

// UnsupportedFormatError is returned when a file_input/file_writer
// node is configured for a format this runtime cannot parse (excel,
// parquet). No example repo in the retrieval pack carries an
// excel/parquet library, so these formats fail closed with a typed
// error instead of a fabricated dependency.
type UnsupportedFormatError struct{ Format string }

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("file format %q is not supported by this runtime", e.Format)
}

func (n *fileInputNode) Invoke(ctx context.Context, in Input) (Output, error) {
	if in.Deps == nil || in.Deps.Files == nil {
		return nil, fmt.Errorf("file_input: no file system configured")
	}
	path := cfgString(in.Config, "path", "")
	if path == "" {
		return nil, fmt.Errorf("file_input: config.path is required")
	}
	format := cfgString(in.Config, "format", "auto")
	if format == "auto" {
		format = detectFormat(path)
	}

	data, err := in.Deps.Files.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("file_input: %w", err)
	}

	switch format {
	case "csv":
		tbl, err := parseCSV(data)
		if err != nil {
			return nil, fmt.Errorf("file_input: %w", err)
		}
		return Output{"output": tbl}, nil
	case "json":
		tbl, err := parseJSONTable(data)
		if err != nil {
			return nil, fmt.Errorf("file_input: %w", err)
		}
		return Output{"output": tbl}, nil
	case "excel", "parquet":
		return nil, &UnsupportedFormatError{Format: format}
	default:
		return nil, fmt.Errorf("file_input: unknown format %q", format)
	}
}

func detectFormat(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return "csv"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
		return "excel"
	case strings.HasSuffix(lower, ".parquet"):
		return "parquet"
	default:
		return "csv"
	}
}

func parseCSV(data []byte) (*table.Table, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return table.New(nil), nil
	}
	header := records[0]
	rows := make([]map[string]interface{}, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]interface{}, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return table.FromMaps(rows, header), nil
}

func parseJSONTable(data []byte) (*table.Table, error) {
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return table.FromMaps(rows, nil), nil
}

// apiEndpointNode fetches JSON from an HTTP endpoint and parses it as
// a table (an array of objects, or an object wrapped in one row).
type apiEndpointNode struct{}

func (n *apiEndpointNode) Type() string       { return "api_endpoint" }
func (n *apiEndpointNode) Category() Category { return CategorySource }

func (n *apiEndpointNode) Invoke(ctx context.Context, in Input) (Output, error) {
	if in.Deps == nil || in.Deps.HTTP == nil {
		return nil, fmt.Errorf("api_endpoint: no http client configured")
	}
	url := cfgString(in.Config, "url", "")
	if url == "" {
		return nil, fmt.Errorf("api_endpoint: config.url is required")
	}
	method := cfgString(in.Config, "method", "GET")
	headers := map[string]string{}
	for k, v := range cfgMap(in.Config, "headers") {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	status, body, err := in.Deps.HTTP.Do(ctx, method, url, headers, nil)
	if err != nil {
		return nil, fmt.Errorf("api_endpoint: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("api_endpoint: upstream returned status %d", status)
	}

	var arr []map[string]interface{}
	if err := json.Unmarshal(body, &arr); err == nil {
		return Output{"output": table.FromMaps(arr, nil)}, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err == nil {
		return Output{"output": table.FromMaps([]map[string]interface{}{obj}, nil)}, nil
	}
	return nil, fmt.Errorf("api_endpoint: response is not a JSON object or array")
}

// staticDataNode returns a table embedded directly in the flow's
// definition — no external collaborator required.
type staticDataNode struct{}

func (n *staticDataNode) Type() string       { return "static_data" }
func (n *staticDataNode) Category() Category { return CategorySource }

func (n *staticDataNode) Invoke(ctx context.Context, in Input) (Output, error) {
	raw, ok := in.Config["rows"].([]interface{})
	if !ok {
		return Output{"output": table.New(nil)}, nil
	}
	rows := make([]map[string]interface{}, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]interface{}); ok {
			rows = append(rows, m)
		}
	}
	var order []string
	if cols, ok := in.Config["columns"].([]interface{}); ok {
		for _, c := range cols {
			if s, ok := c.(string); ok {
				order = append(order, s)
			}
		}
	}
	return Output{"output": table.FromMaps(rows, order)}, nil
}

// webhookListenerNode surfaces, as a one-row table, the JSON object
// body the dispatch gateway stored in the flow's global variables
// under "_webhook_payload"; it performs no I/O of its own (the gateway
// already received the HTTP request before the flow started).
type webhookListenerNode struct{}

func (n *webhookListenerNode) Type() string       { return "webhook_listener" }
func (n *webhookListenerNode) Category() Category { return CategorySource }

func (n *webhookListenerNode) Invoke(ctx context.Context, in Input) (Output, error) {
	payload, _ := in.Variables["_webhook_payload"].(map[string]interface{})
	if payload == nil {
		return Output{"output": table.New(nil)}, nil
	}
	return Output{"output": table.FromMaps([]map[string]interface{}{payload}, nil)}, nil
}
