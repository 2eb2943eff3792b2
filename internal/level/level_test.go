// v0
// internal/level/level_test.go
package level

import (
	"strings"
	"testing"
)

func mustTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(DefaultBands(), DefaultUnknown())
	if err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
	return tbl
}

func TestMapBoundaryBelongsToLowerBand(t *testing.T) {
	tbl := mustTable(t)
	if got := tbl.Map(50); got.Name != "Good" {
		t.Fatalf("Map(50) = %q, want Good", got.Name)
	}
	if got := tbl.Map(51); got.Name != "Moderate" {
		t.Fatalf("Map(51) = %q, want Moderate", got.Name)
	}
}

func TestMapLowerBoundInclusive(t *testing.T) {
	tbl := mustTable(t)
	cases := map[float64]string{
		0:   "Good",
		101: "Unhealthy for Sensitive Groups",
		151: "Unhealthy",
		201: "Very Unhealthy",
		301: "Hazardous",
	}
	for v, want := range cases {
		if got := tbl.Map(v); got.Name != want {
			t.Errorf("Map(%v) = %q, want %q", v, got.Name, want)
		}
	}
}

func TestMapNegativeClampsToLowestBand(t *testing.T) {
	tbl := mustTable(t)
	if got := tbl.Map(-5); got.Name != "Good" {
		t.Fatalf("Map(-5) = %q, want Good", got.Name)
	}
}

func TestMapUnboundedTerminalBand(t *testing.T) {
	tbl := mustTable(t)
	if got := tbl.Map(12345); got.Name != "Hazardous" {
		t.Fatalf("Map(12345) = %q, want Hazardous", got.Name)
	}
}

func TestMapIntervalContainsValue(t *testing.T) {
	tbl := mustTable(t)
	bands := tbl.Bands()
	for v := 0.0; v < 600; v += 7.3 {
		got := tbl.Map(v)
		if v < got.LowerBound {
			t.Fatalf("Map(%v) returned band %q with lower bound %v", v, got.Name, got.LowerBound)
		}
		for _, b := range bands {
			if b.LowerBound > got.LowerBound && v >= b.LowerBound {
				t.Fatalf("Map(%v) returned %q but %q also matches", v, got.Name, b.Name)
			}
		}
	}
}

func TestNewTableRejectsMissingZeroBound(t *testing.T) {
	_, err := NewTable([]Band{{Name: "high", LowerBound: 10}}, DefaultUnknown())
	if err == nil || !strings.Contains(err.Error(), "must start at 0") {
		t.Fatalf("expected zero-bound error, got %v", err)
	}
}

func TestNewTableRejectsDuplicateBounds(t *testing.T) {
	_, err := NewTable([]Band{
		{Name: "a", LowerBound: 0},
		{Name: "b", LowerBound: 51},
		{Name: "c", LowerBound: 51},
	}, DefaultUnknown())
	if err == nil {
		t.Fatal("expected error for duplicate bounds")
	}
}

func TestNewTableRejectsEmpty(t *testing.T) {
	if _, err := NewTable(nil, DefaultUnknown()); err == nil {
		t.Fatal("expected error for empty table")
	}
}

func TestNewTableSortsBands(t *testing.T) {
	tbl, err := NewTable([]Band{
		{Name: "high", LowerBound: 51},
		{Name: "low", LowerBound: 0},
	}, DefaultUnknown())
	if err != nil {
		t.Fatalf("table invalid: %v", err)
	}
	if got := tbl.Map(10); got.Name != "low" {
		t.Fatalf("Map(10) = %q, want low", got.Name)
	}
}
