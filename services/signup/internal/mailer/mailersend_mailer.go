package mailer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

var ErrNotConfigured = errors.New("MailerSend not configured")

type MailerSendClient struct {
	client  *mailersend.Mailersend
	enabled bool
}

func NewMailerSend(apiKey string) *MailerSendClient {
	m := &MailerSendClient{enabled: apiKey != ""}
	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}
	return m
}

func (m *MailerSendClient) Send(ctx context.Context, msg Message) error {
	if !m.enabled {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	email := m.client.Email.NewMessage()
	email.SetFrom(mailersend.From{Name: msg.From.Name, Email: msg.From.Email})
	email.SetRecipients([]mailersend.Recipient{{Name: msg.To.Name, Email: msg.To.Email}})
	email.SetSubject(msg.Subject)

	if strings.TrimSpace(msg.Text) != "" {
		email.SetText(msg.Text)
	}
	if strings.TrimSpace(msg.HTML) != "" {
		email.SetHTML(msg.HTML)
	}

	_, err := m.client.Email.Send(ctx, email)
	return err
}
