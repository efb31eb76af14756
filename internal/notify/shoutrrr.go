package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

var (
	_ Provider = (*ShoutrrrProvider)(nil)
	_ Provider = (*LogProvider)(nil)
)

// ShoutrrrProvider pushes prompts through nicholas-fedor/shoutrrr service
// URLs (ntfy, gotify, telegram, ...), the channel back to the device for
// a headless deployment.
type ShoutrrrProvider struct {
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrProvider validates the URLs by building the sender up front.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one shoutrrr URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create shoutrrr sender: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrProvider{sender: sender, timeout: timeout}, nil
}

// Name implements Provider.
func (s *ShoutrrrProvider) Name() string { return "shoutrrr" }

// Send implements Provider.
func (s *ShoutrrrProvider) Send(_ context.Context, p Prompt) error {
	params := stypes.Params{"title": "Transaction Logged"}
	body := fmt.Sprintf("%s: %s (row %d)", p.Title, p.Category, p.RowNumber)
	if p.Text != "" {
		body = fmt.Sprintf("%s: %s - %s (row %d)", p.Title, p.Category, p.Text, p.RowNumber)
	}

	for _, err := range s.sender.Send(body, &params) {
		if err != nil {
			return fmt.Errorf("shoutrrr send: %w", err)
		}
	}
	return nil
}

// LogProvider writes prompts to the service log. Useful as a default
// channel when no push URL is configured but prompt visibility is still
// wanted in the daemon output.
type LogProvider struct {
	Printf func(format string, args ...interface{})
}

// Name implements Provider.
func (l *LogProvider) Name() string { return "log" }

// Send implements Provider.
func (l *LogProvider) Send(_ context.Context, p Prompt) error {
	l.Printf("categorize row %d: %s - %s / %s", p.RowNumber, p.AppName, p.Title, p.Category)
	return nil
}
