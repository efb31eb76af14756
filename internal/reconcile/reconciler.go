// Package reconcile closes the categorization loop: it finds the next
// remote row still needing a user-assigned category and writes the
// user's choice back to the correct cell.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/notification-logger/internal/domain"
	"github.com/dvloznov/notification-logger/internal/notify"
	"github.com/dvloznov/notification-logger/internal/prefs"
	"github.com/dvloznov/notification-logger/internal/sheets"
)

// SheetService is the slice of the remote sync client the reconciler
// needs. This interface enables mocking the remote end in tests.
type SheetService interface {
	FindNextUncategorizedRow(ctx context.Context, sheetID string, fromRow int, tab string) (*sheets.RemoteRow, error)
	WriteCell(ctx context.Context, sheetID, ref, value string) error
}

// PromptRegistry is the active categorization-prompt set kept by the
// notification manager.
type PromptRegistry interface {
	Active() []notify.Prompt
	Cancel(rowNumber int)
}

var (
	_ SheetService   = (*sheets.Client)(nil)
	_ PromptRegistry = (*notify.Manager)(nil)
)

// Item is one pending categorization: the remote row plus the captured
// metadata shown to the user.
type Item struct {
	RowNumber int    `json:"row_number"`
	AppName   string `json:"app_name"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	TabName   string `json:"tab_name,omitempty"`
}

// Reconciler locates pending items and writes categories back.
type Reconciler struct {
	sheets  SheetService
	prefs   *prefs.Prefs
	prompts PromptRegistry
	log     zerolog.Logger
}

// New wires a reconciler.
func New(sh SheetService, pr *prefs.Prefs, prompts PromptRegistry, log zerolog.Logger) *Reconciler {
	return &Reconciler{sheets: sh, prefs: pr, prompts: prompts, log: log}
}

// NextByRemoteScan finds the next uncategorized row after fromRow by
// scanning the sheet. It sees everything in the remote store, at the
// cost of re-reading the sheet tail. A nil item means nothing is left to
// categorize.
func (r *Reconciler) NextByRemoteScan(ctx context.Context, fromRow int) (*Item, error) {
	sheetID := r.prefs.SheetID()
	tab := r.prefs.SheetTab()

	row, err := r.sheets.FindNextUncategorizedRow(ctx, sheetID, fromRow, tab)
	if err != nil {
		return nil, fmt.Errorf("find next uncategorized row: %w", err)
	}
	if row == nil {
		return nil, nil
	}

	return &Item{
		RowNumber: row.RowNumber,
		AppName:   cellAt(row.Data, 1),
		Title:     cellAt(row.Data, 2),
		Text:      cellAt(row.Data, 3),
		TabName:   tab,
	}, nil
}

// NextByActivePrompts finds the next pending item among the currently
// active local prompts: same source app as current, a different row,
// earliest posted first. Cheaper than a remote scan but blind to rows
// the device was never prompted for. A nil item means no further prompt
// is active.
func (r *Reconciler) NextByActivePrompts(current notify.Prompt) *Item {
	var next *notify.Prompt
	for _, p := range r.prompts.Active() {
		if p.AppName != current.AppName || p.RowNumber == current.RowNumber {
			continue
		}
		if next == nil || p.PostedAt.Before(next.PostedAt) {
			candidate := p
			next = &candidate
		}
	}
	if next == nil {
		return nil
	}
	return &Item{
		RowNumber: next.RowNumber,
		AppName:   next.AppName,
		Title:     next.Title,
		Text:      next.Text,
		TabName:   next.TabName,
	}
}

// Submit writes the chosen category to the row's category cell. The
// category write is the operation's success signal; the comment write
// is independent and best-effort. On success the row's active prompt is
// cancelled and the category recency list updated.
func (r *Reconciler) Submit(ctx context.Context, rowNumber int, category, comment string) error {
	sheetID := r.prefs.SheetID()
	tab := r.prefs.SheetTab()

	ref := sheets.Ref(tab, domain.CategoryColumn, rowNumber)
	if err := r.sheets.WriteCell(ctx, sheetID, ref, category); err != nil {
		return fmt.Errorf("write category: %w", err)
	}

	if comment != "" {
		commentRef := sheets.Ref(tab, domain.CommentColumn, rowNumber)
		if err := r.sheets.WriteCell(ctx, sheetID, commentRef, comment); err != nil {
			r.log.Warn().Err(err).Int("row", rowNumber).
				Msg("Failed to write comment, category write stands")
		}
	}

	if err := r.prefs.UpdateCategoryRecency(category); err != nil {
		r.log.Warn().Err(err).Msg("Failed to update category recency")
	}
	r.prompts.Cancel(rowNumber)

	r.log.Info().Int("row", rowNumber).Str("category", category).Msg("Row categorized")
	return nil
}

func cellAt(row []string, index int) string {
	if index >= len(row) {
		return ""
	}
	return row[index]
}
