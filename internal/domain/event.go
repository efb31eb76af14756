package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sheet column layout is a fixed external contract:
// A-F carry capture metadata, I is the category, M is the comment.
const (
	CategoryColumn = "I"
	CommentColumn  = "M"

	// UncategorizedLabel is the placeholder value the sheet uses for rows
	// that have not been categorized yet.
	UncategorizedLabel = "Uncategorized"
)

// CapturedEvent is one locally queued record derived from an intercepted
// device notification. NotificationKey is the stable per-notification key
// reported by the device and acts as the dedup key (unique in the store).
type CapturedEvent struct {
	ID              int64
	NotificationKey string
	AppName         string
	PackageName     string
	Title           string
	Text            string
	Timestamp       int64 // epoch millis
	Uploaded        bool
	Comment         string
}

// Validate checks the invariants a captured event must hold before it is
// queued. Package name must be non-empty.
func (e *CapturedEvent) Validate() error {
	if e.PackageName == "" {
		return fmt.Errorf("captured event: package name cannot be blank")
	}
	return nil
}

// SheetRow converts the event to the row format expected by the sheet.
// Columns: [UTC Timestamp, App Name, Title, Text, Local Timestamp, Notification Key]
func (e *CapturedEvent) SheetRow() []string {
	return []string{
		formatTimestamp(e.Timestamp, true),
		e.AppName,
		e.Title,
		e.Text,
		formatTimestamp(e.Timestamp, false),
		e.NotificationKey,
	}
}

// ManualTransaction is a user-entered financial transaction that flows
// through the same upload pipeline as captured events. Its category is
// chosen at entry time, so no categorization prompt is raised for it.
type ManualTransaction struct {
	ID        int64
	Account   string
	Amount    decimal.Decimal
	Currency  string
	Category  string
	Timestamp int64 // epoch millis
	Uploaded  bool
	Comment   string
}

// DedupKey derives the synthetic export key for a transaction. Unlike
// captured events there is no natural key, so timestamp and row id are
// combined at export time.
func (t *ManualTransaction) DedupKey() string {
	return fmt.Sprintf("manual_%d_%d", t.Timestamp, t.ID)
}

// SheetRow converts the transaction to the row format expected by the sheet.
// Columns: [UTC Timestamp, Account, Title, Description, Local Timestamp, Transaction Key]
func (t *ManualTransaction) SheetRow() []string {
	return []string{
		formatTimestamp(t.Timestamp, true),
		t.Account,
		"Manual Entry",
		fmt.Sprintf("%s %s", t.Currency, t.Amount.String()),
		formatTimestamp(t.Timestamp, false),
		t.DedupKey(),
	}
}

// formatTimestamp renders an epoch-millis timestamp for sheet export,
// either as an ISO instant (UTC) or in local time.
func formatTimestamp(millis int64, utc bool) string {
	ts := time.UnixMilli(millis)
	if utc {
		return ts.UTC().Format(time.RFC3339)
	}
	return ts.Format("2006-01-02 15:04:05")
}
