// Package email sends transactional mail through SendGrid.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/angelmondragon/oakline-backend/pkg/config"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
)

// Message is a single-recipient transactional email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message or returns why it could not.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type sendFunc func(ctx context.Context, msg *mail.SGMailV3) (*rest.Response, error)

// Client is a SendGrid-backed Sender with bounded retries.
type Client struct {
	send      sendFunc
	from      *mail.Email
	attempts  int
	baseDelay time.Duration
	logg      *logger.Logger
}

// New returns a SendGrid client, or a Sender that only logs when no API key
// is configured.
func New(cfg config.SendgridConfig, logg *logger.Logger) Sender {
	if !cfg.Enabled() {
		return &logOnly{logg: logg}
	}
	sg := sendgrid.NewSendClient(strings.TrimSpace(cfg.APIKey))
	return &Client{
		send:      sg.SendWithContext,
		from:      mail.NewEmail(cfg.FromName, cfg.DefaultFrom),
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		logg:      logg,
	}
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("recipient is required")
	}
	payload := mail.NewSingleEmail(c.from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), msg.Text, msg.HTML)

	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.sendOnce(ctx, payload)
		if lastErr == nil {
			if c.logg != nil {
				logCtx := c.logg.WithFields(ctx, map[string]any{"subject": msg.Subject, "attempt": attempt})
				c.logg.Info(logCtx, "email sent")
			}
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) || attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func (c *Client) sendOnce(ctx context.Context, payload *mail.SGMailV3) error {
	resp, err := c.send(ctx, payload)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return fmt.Errorf("sendgrid status %d", resp.StatusCode)
	default:
		return permanentError{status: resp.StatusCode, body: resp.Body}
	}
}

type permanentError struct {
	status int
	body   string
}

func (e permanentError) Error() string {
	return fmt.Sprintf("sendgrid rejected message: status %d: %s", e.status, e.body)
}

type logOnly struct {
	logg *logger.Logger
}

func (l *logOnly) Send(ctx context.Context, msg Message) error {
	if l.logg != nil {
		logCtx := l.logg.WithField(ctx, "subject", msg.Subject)
		l.logg.Warn(logCtx, "sendgrid api key missing, email skipped")
	}
	return nil
}
