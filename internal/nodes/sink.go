package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowforge/flowexec/internal/table"
)

func registerSinks(r *Registry) {
	r.register(&tableWriterNode{})
	r.register(&fileWriterNode{})
	r.register(&apiRequestNode{})
	r.register(&displayResultsNode{})
	r.register(&sendNotificationNode{})
}

// Every sink node performs one side effect and then passes its input
// table through unchanged — the runtime never mutates a sink's output
// relative to its input.

type tableWriterNode struct{}

func (n *tableWriterNode) Type() string       { return "table_writer" }
func (n *tableWriterNode) Category() Category { return CategorySink }

func (n *tableWriterNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("table_writer: no input table")
	}
	if in.Deps == nil || in.Deps.DB == nil {
		return nil, fmt.Errorf("table_writer: no database handle configured")
	}
	target := cfgString(in.Config, "table", "")
	if target == "" {
		return nil, fmt.Errorf("table_writer: config.table is required")
	}
	if err := in.Deps.DB.Authorize(ctx, "write", target); err != nil {
		return nil, &PermissionDeniedError{Action: "write", Table: target}
	}

	ifExists := cfgString(in.Config, "if_exists", "append")
	switch ifExists {
	case "fail":
		existing, err := in.Deps.DB.Query(ctx, "SELECT COUNT(*) AS n FROM "+target)
		if err != nil {
			return nil, fmt.Errorf("table_writer: checking existing rows: %w", err)
		}
		if rowCountNonZero(existing) {
			return nil, fmt.Errorf("table_writer: table %q already has rows and if_exists is %q", target, ifExists)
		}
	case "replace":
		if _, err := in.Deps.DB.Exec(ctx, "DELETE FROM "+target); err != nil {
			return nil, fmt.Errorf("table_writer: clearing table for if_exists=replace: %w", err)
		}
	case "append":
		// no preparatory step
	default:
		return nil, fmt.Errorf("table_writer: unknown if_exists %q", ifExists)
	}

	includeIndex := cfgBool(in.Config, "index", false)
	cols := tbl.ColumnNames()
	if includeIndex {
		cols = append([]string{"_index"}, cols...)
	}
	for r := 0; r < tbl.NumRows(); r++ {
		row := tbl.Row(r)
		args := make([]interface{}, 0, len(row)+1)
		if includeIndex {
			args = append(args, r)
		}
		for _, c := range row {
			args = append(args, c.Value())
		}
		_, err := in.Deps.DB.Exec(ctx, insertStatement(target, cols), args...)
		if err != nil {
			return nil, fmt.Errorf("table_writer: %w", err)
		}
	}
	return Output{"output": tbl}, nil
}

func rowCountNonZero(tbl *table.Table) bool {
	if tbl == nil || tbl.NumRows() == 0 {
		return false
	}
	row := tbl.Row(0)
	for _, c := range row {
		switch v := c.Value().(type) {
		case int64:
			return v > 0
		case int:
			return v > 0
		case float64:
			return v > 0
		}
	}
	return tbl.NumRows() > 0
}

func insertStatement(table string, cols []string) string {
	placeholders := make([]byte, 0, len(cols)*2)
	for i := range cols {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return "INSERT INTO " + table + " (" + joinNames(cols) + ") VALUES (" + string(placeholders) + ")"
}

func joinNames(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

type fileWriterNode struct{}

func (n *fileWriterNode) Type() string       { return "file_writer" }
func (n *fileWriterNode) Category() Category { return CategorySink }

func (n *fileWriterNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("file_writer: no input table")
	}
	if in.Deps == nil || in.Deps.Files == nil {
		return nil, fmt.Errorf("file_writer: no file system configured")
	}
	path := cfgString(in.Config, "path", "")
	if path == "" {
		return nil, fmt.Errorf("file_writer: config.path is required")
	}
	format := cfgString(in.Config, "format", "json")
	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.Marshal(tbl.ToMaps())
	case "csv":
		data = encodeCSV(tbl)
	case "excel", "parquet":
		return nil, &UnsupportedFormatError{Format: format}
	default:
		return nil, fmt.Errorf("file_writer: unknown format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("file_writer: %w", err)
	}
	if err := in.Deps.Files.Write(ctx, path, data); err != nil {
		return nil, fmt.Errorf("file_writer: %w", err)
	}
	return Output{"output": tbl}, nil
}

func encodeCSV(tbl *table.Table) []byte {
	cols := tbl.ColumnNames()
	out := joinNames(cols) + "\n"
	for r := 0; r < tbl.NumRows(); r++ {
		row := tbl.Row(r)
		for i, c := range row {
			if i > 0 {
				out += ","
			}
			out += fmt.Sprintf("%v", c.Value())
		}
		out += "\n"
	}
	return []byte(out)
}

type apiRequestNode struct{}

func (n *apiRequestNode) Type() string       { return "api_request" }
func (n *apiRequestNode) Category() Category { return CategorySink }

func (n *apiRequestNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("api_request: no input table")
	}
	if in.Deps == nil || in.Deps.HTTP == nil {
		return nil, fmt.Errorf("api_request: no http client configured")
	}
	url := cfgString(in.Config, "url", "")
	if url == "" {
		return nil, fmt.Errorf("api_request: config.url is required")
	}
	method := cfgString(in.Config, "method", "POST")
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range cfgMap(in.Config, "headers") {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	body, err := json.Marshal(tbl.ToMaps())
	if err != nil {
		return nil, fmt.Errorf("api_request: %w", err)
	}
	status, _, err := in.Deps.HTTP.Do(ctx, method, url, headers, body)
	if err != nil {
		return nil, fmt.Errorf("api_request: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("api_request: upstream returned status %d", status)
	}
	return Output{"output": tbl}, nil
}

// displayResultsNode marks a node's output as the flow's terminal
// display output (spec §4.3 terminal-result resolution rule #2: "the
// last display_results node in execution order"). The node itself
// performs no side effect beyond passing the table through.
type displayResultsNode struct{}

func (n *displayResultsNode) Type() string       { return "display_results" }
func (n *displayResultsNode) Category() Category { return CategorySink }

func (n *displayResultsNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("display_results: no input table")
	}
	return Output{"output": tbl}, nil
}

type sendNotificationNode struct{}

func (n *sendNotificationNode) Type() string       { return "send_notification" }
func (n *sendNotificationNode) Category() Category { return CategorySink }

func (n *sendNotificationNode) Invoke(ctx context.Context, in Input) (Output, error) {
	tbl, ok := singleInput(in)
	if !ok {
		return nil, fmt.Errorf("send_notification: no input table")
	}
	channel := cfgString(in.Config, "channel", "webhook")
	message := cfgString(in.Config, "message", "")

	switch channel {
	case "email":
		if in.Deps == nil || in.Deps.SMTP == nil {
			return nil, fmt.Errorf("send_notification: no smtp client configured")
		}
		to := cfgStringSlice(in.Config, "to")
		subject := cfgString(in.Config, "subject", "Flow notification")
		if err := in.Deps.SMTP.Send(ctx, to, subject, message); err != nil {
			return nil, fmt.Errorf("send_notification: %w", err)
		}
	case "webhook":
		if in.Deps == nil || in.Deps.HTTP == nil {
			return nil, fmt.Errorf("send_notification: no http client configured")
		}
		url := cfgString(in.Config, "url", "")
		if url == "" {
			return nil, fmt.Errorf("send_notification: config.url is required for webhook channel")
		}
		body, _ := json.Marshal(map[string]interface{}{"message": message, "rows": tbl.NumRows()})
		status, _, err := in.Deps.HTTP.Do(ctx, "POST", url, map[string]string{"Content-Type": "application/json"}, body)
		if err != nil {
			return nil, fmt.Errorf("send_notification: %w", err)
		}
		if status >= 400 {
			return nil, fmt.Errorf("send_notification: upstream returned status %d", status)
		}
	default:
		return nil, fmt.Errorf("send_notification: unknown channel %q", channel)
	}
	return Output{"output": tbl}, nil
}
