package ui

import (
	"strings"
	"testing"
)

func TestSimpleTable(t *testing.T) {
	table := NewSimpleTable("Hosts", []string{"Host", "CPU %"})
	table.AddRow("Host 1", "40.0")
	table.AddRow("Host 2", "75.5")

	view := table.View(DefaultStyles())

	if !strings.Contains(view, "Hosts") {
		t.Error("view missing title")
	}
	if !strings.Contains(view, "Host 2") {
		t.Error("view missing cell content")
	}
	if !strings.Contains(view, "75.5") {
		t.Error("view missing numeric cell")
	}
}

func TestSimpleTableEmpty(t *testing.T) {
	table := NewSimpleTable("Empty", []string{"A", "B"})
	if view := table.View(DefaultStyles()); view != "" {
		t.Errorf("expected no output for a table with no rows, got %q", view)
	}
}

func TestSimpleTableAlignRight(t *testing.T) {
	table := NewSimpleTable("", []string{"Name", "Count"})
	table.AlignRight(1)
	table.AddRow("widget", "7")
	table.AddRow("gadget", "1200")

	view := table.View(DefaultStyles())
	if !strings.Contains(view, "7") || !strings.Contains(view, "1200") {
		t.Fatalf("view missing cells:\n%s", view)
	}
}
