// Package uploader drains the local queue in batches and pushes it to the
// remote sheet. One coordinator owns the whole upload lifecycle: trigger
// coalescing, retry with backoff, marking rows uploaded and raising
// categorization prompts.
package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/notification-logger/internal/domain"
	"github.com/dvloznov/notification-logger/internal/notify"
	"github.com/dvloznov/notification-logger/internal/prefs"
	"github.com/dvloznov/notification-logger/internal/sheets"
	"github.com/dvloznov/notification-logger/internal/store"
)

// batchSize bounds how many rows one run uploads per table.
const batchSize = 50

// Coordinator is the background upload unit. Trigger it from anywhere;
// the single worker goroutine guarantees runs never overlap, and a
// trigger arriving while a run is in flight is dropped, not queued.
type Coordinator struct {
	store   *store.Store
	prefs   *prefs.Prefs
	sheets  SheetService
	prompts PromptSink
	policy  RetryPolicy
	log     zerolog.Logger

	// Buffered to one: a pending trigger already covers any number of
	// additional ones.
	trigger chan struct{}
}

// New creates a coordinator. The prompt sink may be notify.NewManager
// with no providers, which disables prompting.
func New(st *store.Store, pr *prefs.Prefs, sh SheetService, sink PromptSink, policy RetryPolicy, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:   st,
		prefs:   pr,
		sheets:  sh,
		prompts: sink,
		policy:  policy,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an upload run. Non-blocking; coalesces with any run
// already requested or in flight.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Start runs the coordinator loop until the context is cancelled.
// Intended to be called in its own goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
			c.RunWithRetry(ctx)
		}
	}
}

// RunWithRetry executes one upload run, reattempting retryable failures
// per the retry policy. After the attempt ceiling the failure is
// terminal: queued rows stay pending until a future trigger.
func (c *Coordinator) RunWithRetry(ctx context.Context) domain.UploadOutcome {
	var outcome domain.UploadOutcome
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		outcome = c.RunOnce(ctx)
		if !outcome.Retryable() || attempt == c.policy.MaxAttempts {
			break
		}

		wait := c.policy.Backoff(attempt)
		c.log.Info().
			Int("attempt", attempt).
			Int("max_attempts", c.policy.MaxAttempts).
			Dur("backoff", wait).
			Err(outcome.Err()).
			Msg("Upload failed, retrying")

		select {
		case <-ctx.Done():
			return outcome
		case <-time.After(wait):
		}
	}

	if outcome.IsFailure() {
		c.log.Error().Err(outcome.Err()).Msg("Upload failed permanently, rows stay queued")
	}
	return outcome
}

// RunOnce performs a single upload attempt: the notification batch first,
// then the transaction batch.
func (c *Coordinator) RunOnce(ctx context.Context) domain.UploadOutcome {
	// Lack of sign-in or configuration is a trivially successful skip,
	// not a failure: the run simply has nothing it can do yet.
	if !c.sheets.IsSignedIn() {
		c.log.Warn().Msg("Not signed in, skipping upload")
		return domain.UploadSuccess(0)
	}
	sheetID := c.prefs.SheetID()
	if sheetID == "" {
		c.log.Warn().Msg("Sheet ID not configured, skipping upload")
		return domain.UploadSuccess(0)
	}
	tab := c.prefs.SheetTab()

	events, err := c.store.PendingEvents(ctx, batchSize)
	if err != nil {
		return domain.UploadFailure(err, true)
	}

	if len(events) == 0 {
		c.log.Debug().Msg("No pending notification events to upload")
		if !c.uploadTransactions(ctx, sheetID, tab) {
			return domain.UploadFailure(errors.New("transaction upload failed"), true)
		}
		return domain.UploadSuccess(0)
	}

	c.log.Info().
		Int("count", len(events)).
		Str("sheet_id", sheetID).
		Msg("Uploading notification events")

	rows := make([][]string, len(events))
	for i := range events {
		rows[i] = events[i].SheetRow()
	}

	appended, err := c.sheets.AppendRows(ctx, sheetID, rows, tab)
	if err != nil {
		return domain.UploadFailure(err, sheets.IsRetryable(err))
	}

	for i := range events {
		if err := c.store.MarkEventUploaded(ctx, events[i].ID); err != nil {
			c.log.Error().Err(err).Int64("id", events[i].ID).Msg("Failed to mark event uploaded")
		}
	}
	c.log.Info().Int("rows_added", len(events)).Msg("Uploaded notification events")

	if appended.StartRow > 0 {
		c.showCategoryPrompts(ctx, events, sheetID, tab, appended.StartRow)
	}

	// Transactions ride the same run after the notification batch. A
	// transaction failure at this point is logged but not retried here;
	// the rows stay pending for the next trigger.
	if !c.uploadTransactions(ctx, sheetID, tab) {
		c.log.Error().Msg("Transaction upload failed but notification upload succeeded")
	}

	if remaining, err := c.store.PendingEventCount(ctx); err == nil && remaining > 0 {
		c.log.Info().Int("remaining", remaining).Msg("More events pending, trigger another upload")
		c.Trigger()
	}

	return domain.UploadSuccess(len(events))
}

// showCategoryPrompts reads back the category cell of each appended row
// and raises a prompt carrying the data the reconciler needs to resume.
// Skipped silently when no prompt channel is available.
func (c *Coordinator) showCategoryPrompts(ctx context.Context, events []domain.CapturedEvent, sheetID, tab string, startRow int) {
	if !c.prompts.Enabled() {
		c.log.Warn().Msg("No prompt channel configured, skipping categorization prompts")
		return
	}

	for i := range events {
		rowNum := startRow + i
		category, err := c.sheets.ReadCell(ctx, sheetID, sheets.Ref(tab, domain.CategoryColumn, rowNum))
		if err != nil || category == "" {
			category = domain.UncategorizedLabel
		}

		c.prompts.Post(ctx, notify.Prompt{
			RowNumber: rowNum,
			AppName:   events[i].AppName,
			Title:     events[i].Title,
			Text:      events[i].Text,
			Category:  category,
			TabName:   tab,
		})
	}
}

// uploadTransactions drains the pending manual transactions. Each one's
// pre-chosen category is written straight to its category cell; a
// transaction is marked uploaded only when that write succeeds.
func (c *Coordinator) uploadTransactions(ctx context.Context, sheetID, tab string) bool {
	pending, err := c.store.PendingTransactions(ctx, batchSize)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to load pending transactions")
		return false
	}
	if len(pending) == 0 {
		return true
	}

	c.log.Info().Int("count", len(pending)).Msg("Uploading manual transactions")

	rows := make([][]string, len(pending))
	for i := range pending {
		rows[i] = pending[i].SheetRow()
	}

	appended, err := c.sheets.AppendRows(ctx, sheetID, rows, tab)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to append transaction rows")
		return false
	}
	if appended.StartRow == 0 {
		// Without a row number the category cannot be written; leave the
		// batch pending rather than upload rows that stay uncategorized.
		c.log.Error().Msg("Transaction append returned no start row")
		return false
	}

	for i := range pending {
		rowNum := appended.StartRow + i
		ref := sheets.Ref(tab, domain.CategoryColumn, rowNum)
		if err := c.sheets.WriteCell(ctx, sheetID, ref, pending[i].Category); err != nil {
			c.log.Warn().Err(err).Int64("id", pending[i].ID).
				Msg("Failed to write category for transaction")
			continue
		}
		if err := c.store.MarkTransactionUploaded(ctx, pending[i].ID); err != nil {
			c.log.Error().Err(err).Int64("id", pending[i].ID).
				Msg("Failed to mark transaction uploaded")
			continue
		}
		c.log.Debug().Int64("id", pending[i].ID).Int("row", rowNum).
			Str("category", pending[i].Category).Msg("Uploaded transaction")
	}
	return true
}
