package sheets

import (
	"regexp"
	"strconv"
	"strings"
)

// Zero-based indices into a grid row, per the fixed column contract.
const (
	appNameIndex  = 1 // column B
	categoryIndex = 8 // column I
)

// startRowPattern extracts the first row number from an updated-range
// string like "Sheet1!A5:F7". The response shape is a third-party
// contract; keep the parsing confined to this one place so a format
// change only breaks here.
var startRowPattern = regexp.MustCompile(`!A(\d+):`)

// parseStartRow recovers the starting row number of an appended block
// from the API's updated-range string, or 0 when the string does not
// match the expected shape.
func parseStartRow(updatedRange string) int {
	m := startRowPattern.FindStringSubmatch(updatedRange)
	if m == nil {
		return 0
	}
	row, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return row
}

// nextUncategorized returns the first row in grid, scanned in ascending
// order, whose app-name column is non-blank and whose category column is
// blank or the "Uncategorized" placeholder. startRow is the 1-based row
// number of grid[0].
func nextUncategorized(grid [][]string, startRow int) *RemoteRow {
	for i, row := range grid {
		if cellAt(row, appNameIndex) == "" {
			continue
		}
		category := cellAt(row, categoryIndex)
		if category == "" || strings.EqualFold(category, uncategorizedCategory) {
			return &RemoteRow{RowNumber: startRow + i, Data: row}
		}
	}
	return nil
}

// cellAt reads a cell from a possibly ragged row, treating cells past the
// row's end as blank.
func cellAt(row []string, index int) string {
	if index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

// IsRetryable classifies an error as transient by substring-matching its
// text for network conditions and HTTP 429/500/503. Admittedly a fragile
// heuristic, but it mirrors what the upstream API surfaces.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "network", "429", "500", "503"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
