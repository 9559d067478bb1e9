package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	ErrKeyMissing           = errors.New("sendgrid api key is not set")
	ErrInvalidMailSender    = errors.New("invalid mail sender")
	ErrInvalidMailRecipient = errors.New("invalid mail recipient")
)

// EmailConfig configures the SendGrid channel.
type EmailConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
	ToName    string
	ToEmail   string
}

func (c EmailConfig) Validate() error {
	switch {
	case c.APIKey == "":
		return ErrKeyMissing
	case c.FromEmail == "":
		return ErrInvalidMailSender
	case c.ToEmail == "":
		return ErrInvalidMailRecipient
	}
	return nil
}

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Email sends events through SendGrid.
type Email struct {
	cfg    EmailConfig
	sender mailSender
}

// NewEmail validates cfg and creates the channel.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Email{cfg: cfg, sender: sendgrid.NewSendClient(cfg.APIKey)}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Notify(ctx context.Context, ev Event) error {
	fromName := e.cfg.FromName
	if fromName == "" {
		fromName = e.cfg.FromEmail
	}
	toName := e.cfg.ToName
	if toName == "" {
		toName = e.cfg.ToEmail
	}

	from := mail.NewEmail(fromName, e.cfg.FromEmail)
	to := mail.NewEmail(toName, e.cfg.ToEmail)
	htmlBody := "<pre>" + html.EscapeString(ev.Body) + "</pre>"
	message := mail.NewSingleEmail(from, ev.Subject, to, ev.Body, htmlBody)

	resp, err := e.sender.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("failed to send email: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}
