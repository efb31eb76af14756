package uploader

import (
	"context"

	"github.com/dvloznov/notification-logger/internal/domain"
	"github.com/dvloznov/notification-logger/internal/notify"
	"github.com/dvloznov/notification-logger/internal/sheets"
)

// SheetService is the slice of the remote sync client the coordinator
// needs. This interface enables mocking the remote end in tests.
type SheetService interface {
	// IsSignedIn reports whether a valid access token is available.
	IsSignedIn() bool

	// AppendRows appends rows to the sheet and reports the starting row
	// number of the appended block when it could be recovered.
	AppendRows(ctx context.Context, sheetID string, rows [][]string, tab string) (domain.AppendOutcome, error)

	// ReadCell reads a single cell, "" when empty.
	ReadCell(ctx context.Context, sheetID, ref string) (string, error)

	// WriteCell writes a single cell.
	WriteCell(ctx context.Context, sheetID, ref, value string) error
}

// PromptSink receives categorization prompts for uploaded rows. A
// disabled sink makes the coordinator skip prompting silently.
type PromptSink interface {
	Enabled() bool
	Post(ctx context.Context, p notify.Prompt)
}

var (
	_ SheetService = (*sheets.Client)(nil)
	_ PromptSink   = (*notify.Manager)(nil)
)
