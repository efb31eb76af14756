package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/notification-logger/internal/capture"
	"github.com/dvloznov/notification-logger/internal/notify"
	"github.com/dvloznov/notification-logger/internal/prefs"
	"github.com/dvloznov/notification-logger/internal/reconcile"
	"github.com/dvloznov/notification-logger/internal/sheets"
	"github.com/dvloznov/notification-logger/internal/store"
)

type countingTrigger struct {
	count int
}

func (c *countingTrigger) Trigger() { c.count++ }

type fakeSheetStatus struct {
	signedIn bool
}

func (f *fakeSheetStatus) IsSignedIn() bool { return f.signedIn }

type fakeRegistry struct {
	active    []notify.Prompt
	cancelled []int
}

func (f *fakeRegistry) Active() []notify.Prompt { return f.active }
func (f *fakeRegistry) Cancel(row int)          { f.cancelled = append(f.cancelled, row) }

type fakeReconcileSheets struct {
	written map[string]string
	rows    []*sheets.RemoteRow
}

func (f *fakeReconcileSheets) FindNextUncategorizedRow(_ context.Context, _ string, fromRow int, _ string) (*sheets.RemoteRow, error) {
	for _, r := range f.rows {
		if r.RowNumber > fromRow {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeReconcileSheets) WriteCell(_ context.Context, _ string, ref, value string) error {
	if f.written == nil {
		f.written = map[string]string{}
	}
	f.written[ref] = value
	return nil
}

func newTestPrefs(t *testing.T) *prefs.Prefs {
	t.Helper()
	p, err := prefs.New(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("prefs.New: %v", err)
	}
	return p
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func postJSON(t *testing.T, handler http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestIngest_RequiresConsent(t *testing.T) {
	pr := newTestPrefs(t)
	st := newTestStore(t)
	trigger := &countingTrigger{}
	listener := capture.NewListener(pr, st, trigger, zerolog.Nop())
	h := NewNotificationsHandler(listener, st, pr, zerolog.Nop())

	rec := postJSON(t, h.Ingest, capture.Event{Key: "k1", PackageName: "com.bank.app"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without consent, got %d", rec.Code)
	}

	count, err := st.PendingEventCount(context.Background())
	if err != nil {
		t.Fatalf("PendingEventCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected nothing queued, got %d", count)
	}
}

func TestIngest_QueuesWhitelistedEvent(t *testing.T) {
	pr := newTestPrefs(t)
	if err := pr.SetPrivacyAccepted(true); err != nil {
		t.Fatal(err)
	}
	if err := pr.AddToWhitelist("com.bank.app"); err != nil {
		t.Fatal(err)
	}
	st := newTestStore(t)
	trigger := &countingTrigger{}
	listener := capture.NewListener(pr, st, trigger, zerolog.Nop())
	h := NewNotificationsHandler(listener, st, pr, zerolog.Nop())

	rec := postJSON(t, h.Ingest, capture.Event{
		Key:         "k1",
		AppName:     "Bank",
		PackageName: "com.bank.app",
		Title:       "Payment",
		Text:        "You paid 12.50",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	count, err := st.PendingEventCount(context.Background())
	if err != nil {
		t.Fatalf("PendingEventCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 queued event, got %d", count)
	}
	if trigger.count != 1 {
		t.Fatalf("expected 1 upload trigger, got %d", trigger.count)
	}
}

func TestRescan_QueuesOnlyNewEvents(t *testing.T) {
	pr := newTestPrefs(t)
	if err := pr.SetPrivacyAccepted(true); err != nil {
		t.Fatal(err)
	}
	if err := pr.AddToWhitelist("com.bank.app"); err != nil {
		t.Fatal(err)
	}
	st := newTestStore(t)
	trigger := &countingTrigger{}
	listener := capture.NewListener(pr, st, trigger, zerolog.Nop())
	h := NewNotificationsHandler(listener, st, pr, zerolog.Nop())

	// First event arrives live.
	postJSON(t, h.Ingest, capture.Event{Key: "k1", PackageName: "com.bank.app", Title: "first"})

	rec := postJSON(t, h.Rescan, map[string]interface{}{
		"active": []capture.Event{
			{Key: "k1", PackageName: "com.bank.app", Title: "first"},
			{Key: "k2", PackageName: "com.bank.app", Title: "second"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Scanned int `json:"scanned"`
		Queued  int `json:"queued"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Scanned != 2 || resp.Queued != 1 {
		t.Fatalf("expected scanned=2 queued=1, got %+v", resp)
	}
}

func TestListPending(t *testing.T) {
	pr := newTestPrefs(t)
	if err := pr.SetPrivacyAccepted(true); err != nil {
		t.Fatal(err)
	}
	if err := pr.AddToWhitelist("com.bank.app"); err != nil {
		t.Fatal(err)
	}
	st := newTestStore(t)
	listener := capture.NewListener(pr, st, &countingTrigger{}, zerolog.Nop())
	h := NewNotificationsHandler(listener, st, pr, zerolog.Nop())

	postJSON(t, h.Ingest, capture.Event{Key: "k1", PackageName: "com.bank.app", Title: "Payment"})

	req := httptest.NewRequest(http.MethodGet, "/api/pending", nil)
	rec := httptest.NewRecorder()
	h.ListPending(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count         int `json:"count"`
		Notifications []struct {
			Key   string `json:"key"`
			Title string `json:"title"`
		} `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Notifications[0].Key != "k1" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
}

func TestCreateTransaction(t *testing.T) {
	pr := newTestPrefs(t)
	st := newTestStore(t)
	trigger := &countingTrigger{}
	h := NewTransactionsHandler(st, pr, trigger, zerolog.Nop())

	rec := postJSON(t, h.Create, map[string]string{
		"account":  "Checking",
		"amount":   "12.50",
		"currency": "EUR",
		"category": "Food",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	count, err := st.PendingTransactionCount(context.Background())
	if err != nil {
		t.Fatalf("PendingTransactionCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", count)
	}
	if trigger.count != 1 {
		t.Fatalf("expected upload trigger, got %d", trigger.count)
	}

	// Recency lists reflect the entry.
	if got := pr.RecentCurrencies()[0]; got != "EUR" {
		t.Fatalf("expected EUR at recency head, got %q", got)
	}
	if got := pr.RecentCategories()[0]; got != "Food" {
		t.Fatalf("expected Food at recency head, got %q", got)
	}
}

func TestCreateTransaction_Validation(t *testing.T) {
	pr := newTestPrefs(t)
	st := newTestStore(t)
	h := NewTransactionsHandler(st, pr, &countingTrigger{}, zerolog.Nop())

	tests := []struct {
		name string
		body map[string]string
	}{
		{"bad amount", map[string]string{"amount": "twelve", "currency": "EUR", "category": "Food"}},
		{"missing amount", map[string]string{"currency": "EUR", "category": "Food"}},
		{"zero amount", map[string]string{"amount": "0", "currency": "EUR", "category": "Food"}},
		{"negative amount", map[string]string{"amount": "-3.50", "currency": "EUR", "category": "Food"}},
		{"missing currency", map[string]string{"amount": "5.00", "category": "Food"}},
		{"missing category", map[string]string{"amount": "5.00", "currency": "EUR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.Create, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}

	count, _ := st.PendingTransactionCount(context.Background())
	if count != 0 {
		t.Fatalf("expected nothing queued, got %d", count)
	}
}

func TestListCategories(t *testing.T) {
	pr := newTestPrefs(t)
	h := NewCategoriesHandler(pr, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/categories", nil)
	rec := httptest.NewRecorder()
	h.ListCategories(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Categories []string `json:"categories"`
		Recent     []string `json:"recent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Categories) == 0 || len(resp.Recent) == 0 {
		t.Fatalf("expected non-empty category lists: %s", rec.Body.String())
	}
}

func TestCategorize_WritesAndReturnsLocalNext(t *testing.T) {
	pr := newTestPrefs(t)
	if err := pr.SetSheetID("sheet-1"); err != nil {
		t.Fatal(err)
	}
	sh := &fakeReconcileSheets{}
	registry := &fakeRegistry{active: []notify.Prompt{
		{RowNumber: 5, AppName: "Bank", Title: "Payment A"},
		{RowNumber: 7, AppName: "Bank", Title: "Payment B"},
	}}
	rec := reconcile.New(sh, pr, registry, zerolog.Nop())
	h := NewCategorizeHandler(rec, registry, zerolog.Nop())

	resp := postJSON(t, h.Submit, map[string]interface{}{
		"row":      5,
		"category": "Food",
		"next":     "local",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := sh.written["I5"]; got != "Food" {
		t.Fatalf("expected I5=Food, got %q", got)
	}

	var out struct {
		Next *reconcile.Item `json:"next"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Next == nil || out.Next.RowNumber != 7 {
		t.Fatalf("expected next row 7, got %+v", out.Next)
	}
}

func TestCategorize_RemoteNext(t *testing.T) {
	pr := newTestPrefs(t)
	if err := pr.SetSheetID("sheet-1"); err != nil {
		t.Fatal(err)
	}
	sh := &fakeReconcileSheets{rows: []*sheets.RemoteRow{
		{RowNumber: 9, Data: []string{"ts", "Bank", "Coffee", "3.40"}},
	}}
	registry := &fakeRegistry{}
	rec := reconcile.New(sh, pr, registry, zerolog.Nop())
	h := NewCategorizeHandler(rec, registry, zerolog.Nop())

	resp := postJSON(t, h.Submit, map[string]interface{}{
		"row":      5,
		"category": "Food",
		"next":     "remote",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out struct {
		Next *reconcile.Item `json:"next"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Next == nil || out.Next.RowNumber != 9 || out.Next.AppName != "Bank" {
		t.Fatalf("expected next row 9 for Bank, got %+v", out.Next)
	}
}

func TestCategorizeNext_ScansFromRow(t *testing.T) {
	pr := newTestPrefs(t)
	if err := pr.SetSheetID("sheet-1"); err != nil {
		t.Fatal(err)
	}
	sh := &fakeReconcileSheets{rows: []*sheets.RemoteRow{
		{RowNumber: 4, Data: []string{"ts", "Bank", "Old", ""}},
		{RowNumber: 9, Data: []string{"ts", "Bank", "Coffee", "3.40"}},
	}}
	rec := reconcile.New(sh, pr, &fakeRegistry{}, zerolog.Nop())
	h := NewCategorizeHandler(rec, &fakeRegistry{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/categorize/next?from=5", nil)
	w := httptest.NewRecorder()
	h.Next(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var out struct {
		Next *reconcile.Item `json:"next"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Next == nil || out.Next.RowNumber != 9 {
		t.Fatalf("expected next row 9, got %+v", out.Next)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/categorize/next?from=x", nil)
	w = httptest.NewRecorder()
	h.Next(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
}

func TestCategorize_Validation(t *testing.T) {
	pr := newTestPrefs(t)
	rec := reconcile.New(&fakeReconcileSheets{}, pr, &fakeRegistry{}, zerolog.Nop())
	h := NewCategorizeHandler(rec, &fakeRegistry{}, zerolog.Nop())

	resp := postJSON(t, h.Submit, map[string]interface{}{"row": 0, "category": "Food"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing row, got %d", resp.Code)
	}

	resp = postJSON(t, h.Submit, map[string]interface{}{"row": 5})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing category, got %d", resp.Code)
	}
}

func TestStatus(t *testing.T) {
	pr := newTestPrefs(t)
	if err := pr.SetSheetID("sheet-1"); err != nil {
		t.Fatal(err)
	}
	st := newTestStore(t)
	registry := &fakeRegistry{active: []notify.Prompt{{RowNumber: 5}}}
	h := NewStatusHandler(st, pr, &fakeSheetStatus{signedIn: true}, registry, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		SignedIn        bool `json:"signed_in"`
		SheetConfigured bool `json:"sheet_configured"`
		ActivePrompts   int  `json:"active_prompts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.SignedIn || !resp.SheetConfigured || resp.ActivePrompts != 1 {
		t.Fatalf("unexpected status: %s", rec.Body.String())
	}
}

func TestConsent(t *testing.T) {
	pr := newTestPrefs(t)
	h := NewConsentHandler(pr, zerolog.Nop())

	rec := postJSON(t, h.Set, map[string]bool{"accepted": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !pr.PrivacyAccepted() {
		t.Fatal("expected consent to be persisted")
	}
}
