// Package notify reports failed runs to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// maxContextLines bounds the error context included in a notification
const maxContextLines = 10

// Failure describes a failed command
type Failure struct {
	Command string
	Err     error
}

// Notifier delivers failure notifications
type Notifier interface {
	Notify(ctx context.Context, failure Failure) error
}

// Nop discards notifications
type Nop struct{}

func (Nop) Notify(context.Context, Failure) error { return nil }

// Config holds Mailgun settings
type Config struct {
	URL     string        `toml:"url"`
	Key     string        `toml:"key"`
	From    string        `toml:"from"`
	To      string        `toml:"to"`
	Subject string        `toml:"subject"`
	Timeout time.Duration `toml:"timeout"`
}

// Enabled reports whether enough is configured to send mail
func (c Config) Enabled() bool {
	return c.URL != "" && c.Key != ""
}

// Validate checks an enabled configuration
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid mailgun url %q", c.URL)
	}
	if c.From == "" || c.To == "" {
		return errors.New("mailgun from and to must be set")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("mailgun timeout must not be negative, got %v", c.Timeout)
	}
	return nil
}

// Mailgun posts failures to the Mailgun messages API
type Mailgun struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewMailgun returns a notifier for config. A nil client uses one with the
// configured timeout.
func NewMailgun(config Config, client *http.Client, logger *slog.Logger) (*Mailgun, error) {
	if !config.Enabled() {
		return nil, errors.New("mailgun url and key must be set")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Subject == "" {
		config.Subject = defaultSubject()
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailgun{config: config, client: client, logger: logger}, nil
}

func defaultSubject() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "dayshift failure"
	}
	return host
}

// Notify sends one message describing failure
func (m *Mailgun) Notify(ctx context.Context, failure Failure) error {
	form := url.Values{
		"from":    {m.config.From},
		"to":      {m.config.To},
		"subject": {m.config.Subject},
		"text":    {Text(failure)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.config.Key)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	m.logger.Info("failure notification sent", "to", m.config.To, "command", failure.Command)
	return nil
}

// Text renders the message body: the command line, the error and up to ten
// lines of context taken from the errors it wraps.
func Text(failure Failure) string {
	lines := []string{failure.Command}
	if failure.Err != nil {
		lines = append(lines, failure.Err.Error())
		lines = append(lines, contextLines(failure.Err)...)
	}
	return strings.Join(lines, "\n")
}

// contextLines lists the errors joined into err, or failing that the chain of
// errors it wraps
func contextLines(err error) []string {
	var lines []string

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if len(lines) == maxContextLines {
				break
			}
			lines = append(lines, "  "+e.Error())
		}
		return lines
	}

	for e := errors.Unwrap(err); e != nil && len(lines) < maxContextLines; e = errors.Unwrap(e) {
		lines = append(lines, "  caused by: "+e.Error())
	}
	return lines
}
