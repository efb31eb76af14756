package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/notification-logger/internal/logger"
	"github.com/dvloznov/notification-logger/internal/notify"
	"github.com/dvloznov/notification-logger/internal/prefs"
	"github.com/dvloznov/notification-logger/internal/sheets"
)

type fakeSheets struct {
	next     *sheets.RemoteRow
	findErr  error
	written  map[string]string
	writeErr map[string]error
	fromRow  int
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{written: map[string]string{}, writeErr: map[string]error{}}
}

func (f *fakeSheets) FindNextUncategorizedRow(_ context.Context, _ string, fromRow int, _ string) (*sheets.RemoteRow, error) {
	f.fromRow = fromRow
	return f.next, f.findErr
}

func (f *fakeSheets) WriteCell(_ context.Context, _ string, ref, value string) error {
	if err := f.writeErr[ref]; err != nil {
		return err
	}
	f.written[ref] = value
	return nil
}

type fakeRegistry struct {
	active    []notify.Prompt
	cancelled []int
}

func (f *fakeRegistry) Active() []notify.Prompt { return f.active }

func (f *fakeRegistry) Cancel(row int) { f.cancelled = append(f.cancelled, row) }

func newTestReconciler(t *testing.T) (*Reconciler, *fakeSheets, *fakeRegistry, *prefs.Prefs) {
	t.Helper()
	pr, err := prefs.New(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("prefs.New() failed: %v", err)
	}
	if err := pr.SetSheetID("sheet-1"); err != nil {
		t.Fatalf("SetSheetID() failed: %v", err)
	}
	sh := newFakeSheets()
	reg := &fakeRegistry{}
	return New(sh, pr, reg, logger.New()), sh, reg, pr
}

func TestNextByRemoteScan(t *testing.T) {
	r, sh, _, _ := newTestReconciler(t)
	sh.next = &sheets.RemoteRow{
		RowNumber: 13,
		Data:      []string{"2026-01-01T10:00:00Z", "Bank", "Payment", "$5 coffee", "2026-01-01 10:00:00", "k1"},
	}

	item, err := r.NextByRemoteScan(context.Background(), 12)
	if err != nil {
		t.Fatalf("NextByRemoteScan() failed: %v", err)
	}
	if sh.fromRow != 12 {
		t.Errorf("Scan started from %d, want 12", sh.fromRow)
	}
	if item == nil || item.RowNumber != 13 {
		t.Fatalf("item = %+v, want row 13", item)
	}
	if item.AppName != "Bank" || item.Title != "Payment" || item.Text != "$5 coffee" {
		t.Errorf("item = %+v, want Bank/Payment/$5 coffee", item)
	}
}

func TestNextByRemoteScan_NothingLeft(t *testing.T) {
	r, _, _, _ := newTestReconciler(t)

	item, err := r.NextByRemoteScan(context.Background(), 12)
	if err != nil {
		t.Fatalf("NextByRemoteScan() failed: %v", err)
	}
	if item != nil {
		t.Errorf("item = %+v, want nil (terminal, not an error)", item)
	}
}

func TestNextByRemoteScan_RaggedRow(t *testing.T) {
	r, sh, _, _ := newTestReconciler(t)
	sh.next = &sheets.RemoteRow{RowNumber: 9, Data: []string{"ts", "Bank"}}

	item, err := r.NextByRemoteScan(context.Background(), 5)
	if err != nil {
		t.Fatalf("NextByRemoteScan() failed: %v", err)
	}
	if item == nil || item.Title != "" || item.Text != "" {
		t.Errorf("item = %+v, want blank title/text for ragged row", item)
	}
}

func TestNextByActivePrompts(t *testing.T) {
	r, _, reg, _ := newTestReconciler(t)
	base := time.Now()
	reg.active = []notify.Prompt{
		{RowNumber: 10, AppName: "Bank", PostedAt: base},                       // current row
		{RowNumber: 14, AppName: "Bank", PostedAt: base.Add(2 * time.Minute)},  // later
		{RowNumber: 12, AppName: "Bank", PostedAt: base.Add(time.Minute)},      // earliest other
		{RowNumber: 11, AppName: "Shop", PostedAt: base.Add(time.Second)},      // other app
	}

	item := r.NextByActivePrompts(notify.Prompt{RowNumber: 10, AppName: "Bank"})
	if item == nil || item.RowNumber != 12 {
		t.Errorf("item = %+v, want earliest-posted other row 12", item)
	}
}

func TestNextByActivePrompts_NoneLeft(t *testing.T) {
	r, _, reg, _ := newTestReconciler(t)
	reg.active = []notify.Prompt{{RowNumber: 10, AppName: "Bank"}}

	if item := r.NextByActivePrompts(notify.Prompt{RowNumber: 10, AppName: "Bank"}); item != nil {
		t.Errorf("item = %+v, want nil", item)
	}
}

func TestSubmit_WritesCategoryAndComment(t *testing.T) {
	r, sh, reg, pr := newTestReconciler(t)

	if err := r.Submit(context.Background(), 5, "Food", "team lunch"); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if sh.written["I5"] != "Food" {
		t.Errorf("category cell = %q, want Food at I5", sh.written["I5"])
	}
	if sh.written["M5"] != "team lunch" {
		t.Errorf("comment cell = %q, want team lunch at M5", sh.written["M5"])
	}
	if len(reg.cancelled) != 1 || reg.cancelled[0] != 5 {
		t.Errorf("cancelled = %v, want [5]", reg.cancelled)
	}
	if got := pr.RecentCategories(); got[0] != "Food" {
		t.Errorf("RecentCategories()[0] = %q, want Food", got[0])
	}
}

func TestSubmit_CategoryWriteFailure(t *testing.T) {
	r, sh, reg, _ := newTestReconciler(t)
	sh.writeErr["I5"] = errors.New("HTTP 503")

	if err := r.Submit(context.Background(), 5, "Food", ""); err == nil {
		t.Fatal("Expected error when category write fails")
	}
	if len(reg.cancelled) != 0 {
		t.Error("Prompt cancelled despite failed category write")
	}
}

func TestSubmit_CommentFailureDoesNotFail(t *testing.T) {
	r, sh, reg, _ := newTestReconciler(t)
	sh.writeErr["M5"] = errors.New("HTTP 500")

	if err := r.Submit(context.Background(), 5, "Food", "lunch"); err != nil {
		t.Fatalf("Submit() = %v, want success despite comment failure", err)
	}
	if sh.written["I5"] != "Food" {
		t.Error("Category write missing")
	}
	if len(reg.cancelled) != 1 {
		t.Error("Prompt not cancelled after successful category write")
	}
}

func TestSubmit_NoCommentSkipsCommentWrite(t *testing.T) {
	r, sh, _, _ := newTestReconciler(t)

	if err := r.Submit(context.Background(), 7, "Bills", ""); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if _, ok := sh.written["M7"]; ok {
		t.Error("Comment cell written for blank comment")
	}
}

func TestSubmit_UsesTabPrefix(t *testing.T) {
	r, sh, _, pr := newTestReconciler(t)
	if err := pr.SetSheetTab("Expenses"); err != nil {
		t.Fatalf("SetSheetTab() failed: %v", err)
	}

	if err := r.Submit(context.Background(), 5, "Food", ""); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if sh.written["Expenses!I5"] != "Food" {
		t.Errorf("written = %v, want Expenses!I5=Food", sh.written)
	}
}
