// Package notify posts categorization prompts back to the user's device
// and keeps track of which prompts are still active, standing in for the
// platform notification tray: the reconciler's local lookup mode
// enumerates the active set instead of re-reading the sheet.
package notify

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	// activePromptTTL is how long a prompt stays enumerable before it is
	// considered stale and dropped from the active set.
	activePromptTTL = 72 * time.Hour

	cleanupInterval = time.Hour
)

// Prompt carries enough identifying data for the categorization flow to
// resume later: the remote row number plus the captured metadata shown to
// the user.
type Prompt struct {
	RowNumber int
	AppName   string
	Title     string
	Text      string
	Category  string
	TabName   string
	PostedAt  time.Time
}

// Provider delivers a prompt over one outbound channel.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// Send delivers the prompt. Errors are best-effort information; a
	// failed send never fails the upload that produced the prompt.
	Send(ctx context.Context, p Prompt) error
}

// Manager fans prompts out to the configured providers and records them
// in the active registry. A manager with no providers is disabled: the
// coordinator skips prompting silently, mirroring a device with
// notifications turned off.
type Manager struct {
	providers []Provider
	active    *cache.Cache
	log       zerolog.Logger
}

// NewManager creates a manager over the given providers.
func NewManager(log zerolog.Logger, providers ...Provider) *Manager {
	return &Manager{
		providers: providers,
		active:    cache.New(activePromptTTL, cleanupInterval),
		log:       log,
	}
}

// Enabled reports whether any delivery channel is configured.
func (m *Manager) Enabled() bool {
	return len(m.providers) > 0
}

// Post records the prompt in the active set and delivers it through every
// provider. Delivery failures are logged, never returned: the prompt is
// still considered active so the local lookup mode can find it.
func (m *Manager) Post(ctx context.Context, p Prompt) {
	if p.PostedAt.IsZero() {
		p.PostedAt = time.Now()
	}
	m.active.Set(promptKey(p.RowNumber), p, cache.DefaultExpiration)

	for _, provider := range m.providers {
		if err := provider.Send(ctx, p); err != nil {
			m.log.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Int("row", p.RowNumber).
				Msg("Failed to deliver categorization prompt")
		}
	}
}

// Active returns the live prompts ordered by post time, earliest first.
func (m *Manager) Active() []Prompt {
	items := m.active.Items()
	prompts := make([]Prompt, 0, len(items))
	for _, item := range items {
		if p, ok := item.Object.(Prompt); ok {
			prompts = append(prompts, p)
		}
	}
	sort.Slice(prompts, func(i, j int) bool {
		return prompts[i].PostedAt.Before(prompts[j].PostedAt)
	})
	return prompts
}

// Cancel removes the prompt for a row from the active set, typically
// after its category has been written back.
func (m *Manager) Cancel(rowNumber int) {
	m.active.Delete(promptKey(rowNumber))
}

func promptKey(rowNumber int) string {
	return strconv.Itoa(rowNumber)
}
