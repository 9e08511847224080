package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flowforge/flowexec/internal/table"
)

func TestSerializeResultShapesTable(t *testing.T) {
	tbl := table.FromMaps([]map[string]interface{}{{"id": int64(1)}}, []string{"id"})
	out, ok := serializeResult(tbl).(map[string]interface{})
	if !ok {
		t.Fatalf("expected a map result, got %T", out)
	}
	if _, ok := out["data"]; !ok {
		t.Fatal("expected a data key")
	}
	if _, ok := out["shape"]; !ok {
		t.Fatal("expected a shape key")
	}
	if _, ok := out["columns"]; !ok {
		t.Fatal("expected a columns key")
	}
}

func TestSerializeResultPassesThroughMap(t *testing.T) {
	in := map[string]interface{}{"node1": "done"}
	out, ok := serializeResult(in).(map[string]interface{})
	if !ok {
		t.Fatalf("expected a map result, got %T", out)
	}
	if out["node1"] != "done" {
		t.Fatalf("expected node1 to pass through, got %v", out["node1"])
	}
}

func TestSerializeResultWrapsScalar(t *testing.T) {
	out, ok := serializeResult(int64(42)).(map[string]interface{})
	if !ok {
		t.Fatalf("expected a map result, got %T", out)
	}
	if out["result"] != "42" {
		t.Fatalf("expected scalar wrapped as string, got %v", out["result"])
	}
}

func TestParseInputsMergesQueryAndJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/foo?limit=10", strings.NewReader(`{"name":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	inputs, err := parseInputs(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inputs["limit"] != "10" {
		t.Fatalf("expected query param limit=10, got %v", inputs["limit"])
	}
	if inputs["name"] != "alice" {
		t.Fatalf("expected body field name=alice, got %v", inputs["name"])
	}
	if _, ok := inputs["_metadata"]; !ok {
		t.Fatal("expected a _metadata key")
	}
}

func TestParseInputsRejectsMalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/foo", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	if _, err := parseInputs(req); err == nil {
		t.Fatal("expected an error for malformed JSON body")
	}
}
