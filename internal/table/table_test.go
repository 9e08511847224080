package table_test

import (
	"testing"

	"github.com/flowforge/flowexec/internal/table"
)

func sampleRows() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": int64(1), "name": "alice", "active": true},
		{"id": int64(2), "name": "bob", "active": false},
	}
}

func TestFromMapsInfersColumnsAndKinds(t *testing.T) {
	tbl := table.FromMaps(sampleRows(), nil)
	if tbl.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.NumRows())
	}
	if tbl.NumCols() != 3 {
		t.Fatalf("expected 3 columns, got %d", tbl.NumCols())
	}
	idx := tbl.ColumnIndex("name")
	if idx == -1 {
		t.Fatal("expected a name column")
	}
	if tbl.Columns[idx].Kind != table.KindString {
		t.Fatalf("expected name column to be string kind, got %v", tbl.Columns[idx].Kind)
	}
}

func TestToMapsRoundTrips(t *testing.T) {
	tbl := table.FromMaps(sampleRows(), []string{"id", "name", "active"})
	maps := tbl.ToMaps()
	if len(maps) != 2 {
		t.Fatalf("expected 2 maps, got %d", len(maps))
	}
	if maps[1]["name"] != "bob" {
		t.Fatalf("expected second row name bob, got %v", maps[1]["name"])
	}
}

func TestWithColumnsSelectsSubset(t *testing.T) {
	tbl := table.FromMaps(sampleRows(), []string{"id", "name", "active"})
	sub, err := tbl.WithColumns([]string{"name"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.NumCols() != 1 {
		t.Fatalf("expected 1 column, got %d", sub.NumCols())
	}
	if sub.NumRows() != tbl.NumRows() {
		t.Fatalf("expected row count to be preserved")
	}
}

func TestWithColumnsRejectsUnknownColumn(t *testing.T) {
	tbl := table.FromMaps(sampleRows(), []string{"id", "name", "active"})
	if _, err := tbl.WithColumns([]string{"ghost"}); err == nil {
		t.Fatal("expected an error for an unknown column")
	}
}

func TestCloneIsIndependentOfParent(t *testing.T) {
	tbl := table.FromMaps(sampleRows(), []string{"id", "name", "active"})
	clone := tbl.Clone()
	clone.AppendRow(map[string]table.Cell{
		"id": table.IntCell(3), "name": table.StringCell("carol"), "active": table.BoolCell(true),
	})
	if tbl.NumRows() != 2 {
		t.Fatalf("expected parent to keep 2 rows after mutating clone, got %d", tbl.NumRows())
	}
	if clone.NumRows() != 3 {
		t.Fatalf("expected clone to hold 3 rows, got %d", clone.NumRows())
	}
}

func TestWithRowsSelectsByIndex(t *testing.T) {
	tbl := table.FromMaps(sampleRows(), []string{"id", "name", "active"})
	filtered := tbl.WithRows([]int{1})
	if filtered.NumRows() != 1 {
		t.Fatalf("expected 1 row, got %d", filtered.NumRows())
	}
	if filtered.RowMap(0)["name"] != "bob" {
		t.Fatalf("expected bob, got %v", filtered.RowMap(0)["name"])
	}
}
