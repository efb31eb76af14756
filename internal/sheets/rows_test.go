package sheets

import (
	"errors"
	"testing"
)

func TestParseStartRow(t *testing.T) {
	tests := []struct {
		name         string
		updatedRange string
		want         int
	}{
		{"named tab", "Sheet1!A5:F7", 5},
		{"large row", "Expenses!A1234:F1236", 1234},
		{"single row", "Sheet1!A10:F10", 10},
		{"no match without bang", "A5:F7", 0},
		{"wrong start column", "Sheet1!B5:F7", 0},
		{"empty", "", 0},
		{"garbage", "not a range", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseStartRow(tt.updatedRange); got != tt.want {
				t.Errorf("parseStartRow(%q) = %d, want %d", tt.updatedRange, got, tt.want)
			}
		})
	}
}

func TestNextUncategorized(t *testing.T) {
	// Rows 13 and 14: row 13 has an app name and a blank category, row 14
	// carries the "Uncategorized" placeholder. The scan must return the
	// first qualifying row in ascending order.
	grid := [][]string{
		{"2026-01-01T10:00:00Z", "Bank", "Payment", "$5", "2026-01-01 10:00:00", "k1"},
		{"2026-01-01T11:00:00Z", "Bank", "Payment", "$9", "2026-01-01 11:00:00", "k2", "", "", "Uncategorized"},
	}

	got := nextUncategorized(grid, 13)
	if got == nil {
		t.Fatal("nextUncategorized() = nil, want row 13")
	}
	if got.RowNumber != 13 {
		t.Errorf("RowNumber = %d, want 13", got.RowNumber)
	}
}

func TestNextUncategorized_SkipsCategorizedAndBlankRows(t *testing.T) {
	grid := [][]string{
		{"ts", "Bank", "t", "x", "lts", "k1", "", "", "Food"}, // categorized
		{},                           // structural blank row
		{"ts", "", "t", "x", "lts"},  // no app name, not a real row
		{"ts", "Shop", "t", "x", "lts", "k2", "", "", "uncategorized"}, // case-insensitive match
	}

	got := nextUncategorized(grid, 10)
	if got == nil {
		t.Fatal("nextUncategorized() = nil, want row 13")
	}
	if got.RowNumber != 13 {
		t.Errorf("RowNumber = %d, want 13", got.RowNumber)
	}
}

func TestNextUncategorized_NoneLeft(t *testing.T) {
	grid := [][]string{
		{"ts", "Bank", "t", "x", "lts", "k1", "", "", "Food"},
		{"ts", "Shop", "t", "x", "lts", "k2", "", "", "Bills"},
	}

	if got := nextUncategorized(grid, 5); got != nil {
		t.Errorf("nextUncategorized() = %+v, want nil", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"service unavailable", errors.New("googleapi: Error 503: The service is currently unavailable"), true},
		{"rate limited", errors.New("HTTP 429 too many requests"), true},
		{"server error", errors.New("got HTTP response code 500"), true},
		{"timeout", errors.New("context deadline exceeded: Timeout"), true},
		{"network", errors.New("network is unreachable"), true},
		{"permission denied", errors.New("permission denied"), false},
		{"not found", errors.New("googleapi: Error 404: Requested entity was not found"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRef(t *testing.T) {
	if got := Ref("Sheet1", "I", 5); got != "Sheet1!I5" {
		t.Errorf("Ref() = %q, want Sheet1!I5", got)
	}
	if got := Ref("", "M", 12); got != "M12" {
		t.Errorf("Ref() = %q, want M12", got)
	}
}
