package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/notification-logger/internal/api/middleware"
	"github.com/dvloznov/notification-logger/internal/capture"
	"github.com/dvloznov/notification-logger/internal/domain"
	"github.com/dvloznov/notification-logger/internal/notify"
	"github.com/dvloznov/notification-logger/internal/prefs"
	"github.com/dvloznov/notification-logger/internal/reconcile"
	"github.com/dvloznov/notification-logger/internal/store"
)

// UploadTrigger requests an upload run. Satisfied by the coordinator.
type UploadTrigger interface {
	Trigger()
}

// SheetStatus is the slice of the sheet client the status endpoint needs.
type SheetStatus interface {
	IsSignedIn() bool
}

// PromptRegistry is the active categorization-prompt set.
type PromptRegistry interface {
	Active() []notify.Prompt
}

// NotificationsHandler handles notification ingest and queue endpoints.
type NotificationsHandler struct {
	listener *capture.Listener
	store    *store.Store
	prefs    *prefs.Prefs
	log      zerolog.Logger
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(listener *capture.Listener, st *store.Store, pr *prefs.Prefs, log zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		listener: listener,
		store:    st,
		prefs:    pr,
		log:      log,
	}
}

// Ingest handles POST /api/notifications
func (h *NotificationsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if !h.prefs.PrivacyAccepted() {
		middleware.WriteError(w, http.StatusForbidden, "Privacy consent not given")
		return
	}

	var ev capture.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.listener.HandlePosted(r.Context(), ev)

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// sliceSource adapts a posted active-notification set to the rescan
// source interface.
type sliceSource []capture.Event

func (s sliceSource) Active(_ context.Context) ([]capture.Event, error) {
	return s, nil
}

// Rescan handles POST /api/notifications/rescan
// The body is the device's full set of currently active notifications.
func (h *NotificationsHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	if !h.prefs.PrivacyAccepted() {
		middleware.WriteError(w, http.StatusForbidden, "Privacy consent not given")
		return
	}

	var req struct {
		Active []capture.Event `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	queued, err := h.listener.Rescan(r.Context(), sliceSource(req.Active))
	if err != nil {
		h.log.Error().Err(err).Msg("Rescan failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Rescan failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scanned": len(req.Active),
		"queued":  queued,
	})
}

// ListPending handles GET /api/pending
func (h *NotificationsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	events, err := h.store.PendingEvents(ctx, 100)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list pending events")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list pending events")
		return
	}

	type pendingEvent struct {
		ID          int64  `json:"id"`
		Key         string `json:"key"`
		AppName     string `json:"app_name"`
		PackageName string `json:"package_name"`
		Title       string `json:"title"`
		Text        string `json:"text"`
		Timestamp   int64  `json:"timestamp"`
	}

	out := make([]pendingEvent, 0, len(events))
	for _, e := range events {
		out = append(out, pendingEvent{
			ID:          e.ID,
			Key:         e.NotificationKey,
			AppName:     e.AppName,
			PackageName: e.PackageName,
			Title:       e.Title,
			Text:        e.Text,
			Timestamp:   e.Timestamp,
		})
	}

	txCount, err := h.store.PendingTransactionCount(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count pending transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to count pending transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications":        out,
		"count":                len(out),
		"pending_transactions": txCount,
	})
}

// PurgeUploaded handles POST /api/purge
func (h *NotificationsHandler) PurgeUploaded(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteUploadedEvents(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to purge uploaded events")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to purge uploaded events")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// TransactionsHandler handles manual transaction entry.
type TransactionsHandler struct {
	store   *store.Store
	prefs   *prefs.Prefs
	uploads UploadTrigger
	log     zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(st *store.Store, pr *prefs.Prefs, uploads UploadTrigger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		store:   st,
		prefs:   pr,
		uploads: uploads,
		log:     log,
	}
}

// Create handles POST /api/transactions
func (h *TransactionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account   string `json:"account"`
		Amount    string `json:"amount"`
		Currency  string `json:"currency"`
		Category  string `json:"category"`
		Comment   string `json:"comment"`
		Timestamp int64  `json:"timestamp"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Amount must be a valid decimal number")
		return
	}
	if !amount.IsPositive() {
		middleware.WriteError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}
	if req.Currency == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Currency is required")
		return
	}
	if req.Category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Category is required")
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	tx := &domain.ManualTransaction{
		Account:   req.Account,
		Amount:    amount,
		Currency:  req.Currency,
		Category:  req.Category,
		Timestamp: req.Timestamp,
		Comment:   req.Comment,
	}

	id, err := h.store.InsertTransaction(r.Context(), tx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to queue transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to queue transaction")
		return
	}

	// Recency lists drive the entry form's quick picks. Failures here
	// must not fail the transaction itself.
	if err := h.prefs.UpdateCurrencyRecency(req.Currency); err != nil {
		h.log.Warn().Err(err).Msg("Failed to update currency recency")
	}
	if req.Category != domain.UncategorizedLabel {
		if err := h.prefs.UpdateCategoryRecency(req.Category); err != nil {
			h.log.Warn().Err(err).Msg("Failed to update category recency")
		}
	}

	h.uploads.Trigger()

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     id,
		"status": "queued",
	})
}

// CategoriesHandler serves the category list and recency data.
type CategoriesHandler struct {
	prefs *prefs.Prefs
	log   zerolog.Logger
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(pr *prefs.Prefs, log zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{prefs: pr, log: log}
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories":        h.prefs.Categories(),
		"recent":            h.prefs.RecentCategories(),
		"recent_currencies": h.prefs.RecentCurrencies(),
	})
}

// CategorizeHandler writes user-chosen categories back to the sheet.
type CategorizeHandler struct {
	reconciler *reconcile.Reconciler
	prompts    PromptRegistry
	log        zerolog.Logger
}

// NewCategorizeHandler creates a new categorize handler.
func NewCategorizeHandler(rec *reconcile.Reconciler, prompts PromptRegistry, log zerolog.Logger) *CategorizeHandler {
	return &CategorizeHandler{reconciler: rec, prompts: prompts, log: log}
}

// Submit handles POST /api/categorize
// With next set to "remote" or "local" the response carries the next
// item still needing a category, or null when nothing is left.
func (h *CategorizeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Row      int    `json:"row"`
		Category string `json:"category"`
		Comment  string `json:"comment"`
		Next     string `json:"next"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Row < 1 {
		middleware.WriteError(w, http.StatusBadRequest, "Row number is required")
		return
	}
	if req.Category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Category is required")
		return
	}

	// Snapshot the prompt before Submit cancels it: local next-item
	// lookup needs the submitted row's app name.
	var current *notify.Prompt
	for _, p := range h.prompts.Active() {
		if p.RowNumber == req.Row {
			q := p
			current = &q
			break
		}
	}

	if err := h.reconciler.Submit(r.Context(), req.Row, req.Category, req.Comment); err != nil {
		h.log.Error().Err(err).Int("row", req.Row).Msg("Failed to write category")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to write category to sheet")
		return
	}

	next, err := h.nextItem(r.Context(), req.Next, req.Row, current)
	if err != nil {
		// The category write itself succeeded, so report that and
		// surface the lookup failure separately.
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "written",
			"row":        req.Row,
			"next_error": err.Error(),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "written",
		"row":    req.Row,
		"next":   next,
	})
}

// Next handles GET /api/categorize/next
// Scans the sheet for the next row still lacking a category, starting
// after the optional from row.
func (h *CategorizeHandler) Next(w http.ResponseWriter, r *http.Request) {
	fromRow := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "from must be a non-negative row number")
			return
		}
		fromRow = n
	}

	item, err := h.reconciler.NextByRemoteScan(r.Context(), fromRow)
	if err != nil {
		h.log.Error().Err(err).Int("from", fromRow).Msg("Failed to scan for uncategorized rows")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to scan sheet")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"next": item})
}

func (h *CategorizeHandler) nextItem(ctx context.Context, mode string, row int, current *notify.Prompt) (*reconcile.Item, error) {
	switch mode {
	case "remote":
		return h.reconciler.NextByRemoteScan(ctx, row)
	case "local":
		if current == nil {
			return nil, nil
		}
		return h.reconciler.NextByActivePrompts(*current), nil
	default:
		return nil, nil
	}
}

// StatusHandler reports service health and queue state.
type StatusHandler struct {
	store   *store.Store
	prefs   *prefs.Prefs
	sheets  SheetStatus
	prompts PromptRegistry
	log     zerolog.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(st *store.Store, pr *prefs.Prefs, sh SheetStatus, prompts PromptRegistry, log zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		store:   st,
		prefs:   pr,
		sheets:  sh,
		prompts: prompts,
		log:     log,
	}
}

// Status handles GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventCount, err := h.store.PendingEventCount(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count pending events")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read queue state")
		return
	}

	txCount, err := h.store.PendingTransactionCount(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count pending transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read queue state")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"signed_in":            h.sheets.IsSignedIn(),
		"sheet_configured":     h.prefs.SheetID() != "",
		"privacy_accepted":     h.prefs.PrivacyAccepted(),
		"pending_events":       eventCount,
		"pending_transactions": txCount,
		"active_prompts":       len(h.prompts.Active()),
	})
}

// ConsentHandler records the user's privacy decision. Capture stays
// disabled until consent is given.
type ConsentHandler struct {
	prefs *prefs.Prefs
	log   zerolog.Logger
}

// NewConsentHandler creates a new consent handler.
func NewConsentHandler(pr *prefs.Prefs, log zerolog.Logger) *ConsentHandler {
	return &ConsentHandler{prefs: pr, log: log}
}

// Set handles POST /api/consent
func (h *ConsentHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.prefs.SetPrivacyAccepted(req.Accepted); err != nil {
		h.log.Error().Err(err).Msg("Failed to persist consent")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to persist consent")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"accepted": req.Accepted})
}
