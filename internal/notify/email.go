// Package notify mails operators. Providers are interchangeable; the
// deployment picks SES or SendGrid and callers only see Sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// ErrNoRecipients is returned for a message without any address.
var ErrNoRecipients = errors.New("notify: no recipients")

// Sender delivers one operator message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a plain-text operator notification. Category tags the message
// at the provider (alert kind) so operators can filter on it.
type Message struct {
	To       []string
	Subject  string
	Text     string
	Category string
}

func (m Message) validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	return nil
}

// From is the sending identity.
type From struct {
	Address string
	Name    string
}

const defaultFromName = "Commerce Concierge"

func (f From) withDefaults() From {
	if f.Name == "" {
		f.Name = defaultFromName
	}
	return f
}

// ParseRecipients splits a comma separated address list and drops blanks.
func ParseRecipients(list string) []string {
	var out []string
	for _, addr := range strings.Split(list, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers through the SendGrid v3 API.
type SendGridSender struct {
	client sendgridAPI
	from   From
	logger *logging.Logger
}

// NewSendGridSender builds a sender for apiKey.
func NewSendGridSender(apiKey string, from From, logger *logging.Logger) (*SendGridSender, error) {
	if apiKey == "" {
		return nil, errors.New("notify: sendgrid api key required")
	}
	return newSendGridSender(sendgrid.NewSendClient(apiKey), from, logger), nil
}

func newSendGridSender(client sendgridAPI, from From, logger *logging.Logger) *SendGridSender {
	return &SendGridSender{client: client, from: from.withDefaults(), logger: logging.OrDefault(logger)}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.from.Name, s.from.Address))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, addr := range msg.To {
		p.AddTos(mail.NewEmail("", addr))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Text))
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("notify: sendgrid: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid status %d", resp.StatusCode)
	}
	s.logger.InfoContext(ctx, "operator email sent", "provider", "sendgrid",
		"recipients", len(msg.To), "category", msg.Category)
	return nil
}

// LogSender only logs. It stands in when no provider is configured so
// alerts still leave a trace.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	return &LogSender{logger: logging.OrDefault(logger)}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.WarnContext(ctx, "operator email not sent, no provider configured",
		"to", strings.Join(msg.To, ","), "subject", msg.Subject, "category", msg.Category)
	return nil
}

var (
	_ Sender = (*SendGridSender)(nil)
	_ Sender = (*LogSender)(nil)
)
