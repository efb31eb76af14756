// Package capture is the entry point for intercepted device
// notifications: it filters raw events against the user's whitelist,
// queues the survivors and nudges the uploader.
package capture

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/notification-logger/internal/domain"
	"github.com/dvloznov/notification-logger/internal/prefs"
	"github.com/dvloznov/notification-logger/internal/store"
)

// deniedPackages are OS-shell packages whose notifications are never
// captured, whitelist or not.
var deniedPackages = map[string]bool{
	"android":              true,
	"com.android.systemui": true,
}

// Event is one raw posted-notification event as reported by the device
// agent. Key is the stable per-notification key and becomes the dedup
// key of the queued record.
type Event struct {
	Key         string `json:"key"`
	AppName     string `json:"app_name"`
	PackageName string `json:"package_name"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	PostedAt    int64  `json:"posted_at"` // epoch millis, 0 means now
}

// Source lists the notifications currently active on the device. Used by
// the rescan catch-up path when live events were missed.
type Source interface {
	Active(ctx context.Context) ([]Event, error)
}

// UploadTrigger requests an upload run. Satisfied by the coordinator.
type UploadTrigger interface {
	Trigger()
}

// Listener converts raw events into queue rows. HandlePosted never
// propagates a panic: the capture callback must stay alive no matter
// what a single event does.
type Listener struct {
	prefs   *prefs.Prefs
	store   *store.Store
	uploads UploadTrigger
	log     zerolog.Logger
}

// NewListener wires a listener to its queue and upload trigger.
func NewListener(pr *prefs.Prefs, st *store.Store, uploads UploadTrigger, log zerolog.Logger) *Listener {
	return &Listener{prefs: pr, store: st, uploads: uploads, log: log}
}

// HandlePosted processes one live posted-notification event. Accepted
// events are upserted on their dedup key (a re-posted notification
// replaces its earlier capture) and an upload run is requested.
func (l *Listener) HandlePosted(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Str("package", ev.PackageName).
				Msg("Recovered while processing notification")
		}
	}()

	event, ok := l.toCapturedEvent(ev)
	if !ok {
		return
	}

	l.log.Debug().Str("app", event.AppName).Str("title", event.Title).
		Msg("Queuing notification")

	if _, err := l.store.UpsertEvent(ctx, event); err != nil {
		l.log.Error().Err(err).Str("key", ev.Key).Msg("Failed to queue notification")
		return
	}
	l.uploads.Trigger()
}

// Rescan lists all currently-active device notifications, applies the
// same filter as the live path and queues anything not seen before
// (insert-if-absent: an existing capture is kept, not replaced). Returns
// the number of newly queued events.
func (l *Listener) Rescan(ctx context.Context, source Source) (int, error) {
	active, err := source.Active(ctx)
	if err != nil {
		return 0, err
	}
	l.log.Info().Int("active", len(active)).Msg("Rescanning active notifications")

	newCount := 0
	for _, ev := range active {
		event, ok := l.toCapturedEvent(ev)
		if !ok {
			continue
		}
		inserted, err := l.store.InsertEventIfAbsent(ctx, event)
		if err != nil {
			l.log.Error().Err(err).Str("key", ev.Key).Msg("Failed to queue rescanned notification")
			continue
		}
		if inserted {
			newCount++
		}
	}

	if newCount > 0 {
		l.uploads.Trigger()
	}
	l.log.Info().Int("new", newCount).Msg("Rescan complete")
	return newCount, nil
}

// toCapturedEvent filters and converts a raw event. Reports false when
// the event is dropped: not whitelisted, an OS-shell package, or empty
// of any text.
func (l *Listener) toCapturedEvent(ev Event) (*domain.CapturedEvent, bool) {
	if !l.prefs.IsWhitelisted(ev.PackageName) {
		return nil, false
	}
	if deniedPackages[ev.PackageName] {
		return nil, false
	}
	if ev.Title == "" && ev.Text == "" {
		return nil, false
	}

	timestamp := ev.PostedAt
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}
	appName := ev.AppName
	if appName == "" {
		appName = ev.PackageName
	}

	return &domain.CapturedEvent{
		NotificationKey: ev.Key,
		AppName:         appName,
		PackageName:     ev.PackageName,
		Title:           ev.Title,
		Text:            ev.Text,
		Timestamp:       timestamp,
	}, true
}
