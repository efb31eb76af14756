// Package sheets wraps the Google Sheets API behind the handful of
// operations the upload and categorization pipeline needs: append rows,
// read cells and ranges, write a single cell, and scan for the next row
// still lacking a category.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/notification-logger/internal/domain"
)

var (
	// ErrNotAuthenticated is returned when no valid access token can be
	// obtained. Never retryable.
	ErrNotAuthenticated = errors.New("sheets: not authenticated")

	// ErrNotConfigured is returned when no spreadsheet ID is configured.
	// Never retryable.
	ErrNotConfigured = errors.New("sheets: sheet ID not configured")
)

const (
	// appendColumns is the data range rows are appended into. Columns A-F
	// carry capture metadata; I and M are written separately.
	appendColumns = "A:F"

	// gridEndColumn closes the widest range the reconciler reads, covering
	// the category (I) and comment (M) columns.
	gridEndColumn = "M"

	// Template row whose formatting and formulas are replicated onto
	// newly appended rows. Columns G:H hold the derived-value formulas.
	templateRow           = 2
	templateStartColumn   = 6 // G, zero-based
	templateEndColumn     = 8 // exclusive
	uncategorizedCategory = domain.UncategorizedLabel
)

// RemoteRow is one row of the remote sheet paired with its 1-based row
// number, the correlation key between local records and remote cells.
type RemoteRow struct {
	RowNumber int
	Data      []string
}

// Client talks to the Google Sheets API. Every operation checks the token
// source first so an expired sign-in surfaces as ErrNotAuthenticated
// rather than an opaque HTTP 401.
type Client struct {
	svc *sheets.Service
	ts  oauth2.TokenSource
	log zerolog.Logger
}

// Scope is the OAuth scope required for read/write sheet access.
const Scope = sheets.SpreadsheetsScope

// NewClient builds a client around the given token source. A nil token
// source yields a permanently signed-out client: every operation reports
// ErrNotAuthenticated and the pipeline degrades to queue-only mode.
func NewClient(ctx context.Context, ts oauth2.TokenSource, log zerolog.Logger) (*Client, error) {
	opt := option.WithTokenSource(ts)
	if ts == nil {
		opt = option.WithoutAuthentication()
	}
	svc, err := sheets.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, ts: ts, log: log}, nil
}

// IsSignedIn reports whether a valid access token is currently available.
func (c *Client) IsSignedIn() bool {
	if c.ts == nil {
		return false
	}
	tok, err := c.ts.Token()
	return err == nil && tok.Valid()
}

func (c *Client) checkAccess(sheetID string) error {
	if sheetID == "" {
		return ErrNotConfigured
	}
	if c.ts == nil {
		return ErrNotAuthenticated
	}
	if _, err := c.ts.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	return nil
}

// AppendRows appends a block of rows to the sheet and recovers the first
// inserted row number from the response's updated range. A range that
// cannot be parsed yields StartRow 0 (unknown) but not an error: the
// append itself succeeded, only per-row follow-ups degrade.
func (c *Client) AppendRows(ctx context.Context, sheetID string, rows [][]string, tab string) (domain.AppendOutcome, error) {
	if err := c.checkAccess(sheetID); err != nil {
		return domain.AppendOutcome{}, err
	}
	if len(rows) == 0 {
		return domain.AppendOutcome{Success: true}, nil
	}

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		values[i] = cells
	}

	rangeRef := RangePrefix(tab) + appendColumns
	resp, err := c.svc.Spreadsheets.Values.Append(sheetID, rangeRef, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return domain.AppendOutcome{}, fmt.Errorf("append rows: %w", err)
	}

	var startRow int
	if resp.Updates != nil {
		startRow = parseStartRow(resp.Updates.UpdatedRange)
		if startRow == 0 {
			c.log.Warn().
				Str("updated_range", resp.Updates.UpdatedRange).
				Msg("Could not parse start row from append response")
		}
	}

	if startRow > 0 {
		// Cosmetic: carry the template row's formatting and formulas onto
		// the new rows. Failure never fails the upload.
		if err := c.copyTemplateInto(ctx, sheetID, tab, startRow, len(rows)); err != nil {
			c.log.Warn().Err(err).Int("start_row", startRow).
				Msg("Template copy after append failed")
		}
	}

	return domain.AppendOutcome{Success: true, StartRow: startRow, RowCount: len(rows)}, nil
}

// copyTemplateInto issues a copyPaste batch update replicating the
// template row's G:H block onto count rows starting at startRow.
func (c *Client) copyTemplateInto(ctx context.Context, sheetID, tab string, startRow, count int) error {
	gridID, err := c.resolveGridID(ctx, sheetID, tab)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			CopyPaste: &sheets.CopyPasteRequest{
				Source: &sheets.GridRange{
					SheetId:          gridID,
					StartRowIndex:    templateRow - 1,
					EndRowIndex:      templateRow,
					StartColumnIndex: templateStartColumn,
					EndColumnIndex:   templateEndColumn,
				},
				Destination: &sheets.GridRange{
					SheetId:          gridID,
					StartRowIndex:    int64(startRow - 1),
					EndRowIndex:      int64(startRow - 1 + count),
					StartColumnIndex: templateStartColumn,
					EndColumnIndex:   templateEndColumn,
				},
				PasteType: "PASTE_NORMAL",
			},
		}},
	}

	if _, err := c.svc.Spreadsheets.BatchUpdate(sheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("copy template rows: %w", err)
	}
	return nil
}

// resolveGridID maps a tab name to its numeric sheet ID. An empty tab
// resolves to the first sheet.
func (c *Client) resolveGridID(ctx context.Context, sheetID, tab string) (int64, error) {
	meta, err := c.svc.Spreadsheets.Get(sheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet metadata: %w", err)
	}
	if len(meta.Sheets) == 0 {
		return 0, fmt.Errorf("spreadsheet has no sheets")
	}
	if tab == "" {
		return meta.Sheets[0].Properties.SheetId, nil
	}
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return s.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("tab %q not found", tab)
}

// ReadCell reads a single cell. An empty or missing cell yields "".
func (c *Client) ReadCell(ctx context.Context, sheetID, ref string) (string, error) {
	grid, err := c.ReadGrid(ctx, sheetID, ref)
	if err != nil {
		return "", err
	}
	if len(grid) == 0 || len(grid[0]) == 0 {
		return "", nil
	}
	return grid[0][0], nil
}

// ReadRow reads a single row range, e.g. "Sheet1!A5:M5".
func (c *Client) ReadRow(ctx context.Context, sheetID, ref string) ([]string, error) {
	grid, err := c.ReadGrid(ctx, sheetID, ref)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return nil, nil
	}
	return grid[0], nil
}

// ReadGrid reads an arbitrary range as a grid of strings. Rows may be
// ragged: the API omits trailing empty cells.
func (c *Client) ReadGrid(ctx context.Context, sheetID, rangeRef string) ([][]string, error) {
	if err := c.checkAccess(sheetID); err != nil {
		return nil, err
	}

	resp, err := c.svc.Spreadsheets.Values.Get(sheetID, rangeRef).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read range %s: %w", rangeRef, err)
	}

	grid := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprint(cell)
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

// WriteCell writes a single value to a cell reference like "Sheet1!I5".
func (c *Client) WriteCell(ctx context.Context, sheetID, ref, value string) error {
	if err := c.checkAccess(sheetID); err != nil {
		return err
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := c.svc.Spreadsheets.Values.Update(sheetID, ref, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write cell %s: %w", ref, err)
	}
	return nil
}

// FindNextUncategorizedRow scans the sheet from fromRow+1 downward for the
// first row that has an app name in column B but no category in column I
// (blank or the "Uncategorized" placeholder). Returns nil when every
// remaining row is categorized. Each call re-reads the whole tail; there
// is no pagination cap.
func (c *Client) FindNextUncategorizedRow(ctx context.Context, sheetID string, fromRow int, tab string) (*RemoteRow, error) {
	start := fromRow + 1
	rangeRef := fmt.Sprintf("%sA%d:%s", RangePrefix(tab), start, gridEndColumn)

	grid, err := c.ReadGrid(ctx, sheetID, rangeRef)
	if err != nil {
		return nil, err
	}
	return nextUncategorized(grid, start), nil
}

// Ref builds a cell reference like "Sheet1!I5" (or "I5" when tab is
// blank).
func Ref(tab, column string, row int) string {
	return RangePrefix(tab) + column + strconv.Itoa(row)
}

// RangePrefix returns "Tab!" for a named tab or "" for the first sheet.
func RangePrefix(tab string) string {
	if tab == "" {
		return ""
	}
	return tab + "!"
}
