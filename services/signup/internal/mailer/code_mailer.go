package mailer

import (
	"context"
	"fmt"

	"github.com/diagnosis/luxsuv-signup/services/signup/internal/otp"
)

const (
	verificationTemplate = "verification_code"
	verificationSubject  = "Your LuxSUV verification code"
)

// CodeMailer renders the verification mail and hands it to a Sender.
type CodeMailer struct {
	sender   Sender
	renderer *Renderer
	from     Address
}

func NewCodeMailer(sender Sender, renderer *Renderer, from Address) *CodeMailer {
	return &CodeMailer{sender: sender, renderer: renderer, from: from}
}

func (m *CodeMailer) DeliverCode(ctx context.Context, to otp.Recipient, code int) error {
	data := map[string]any{
		"Subject":   verificationSubject,
		"FirstName": to.FirstName,
		"Code":      fmt.Sprintf("%06d", code),
	}

	html, err := m.renderer.Render(verificationTemplate+".html", data)
	if err != nil {
		return err
	}
	text, err := m.renderer.Render(verificationTemplate+".txt", data)
	if err != nil {
		return err
	}

	return m.sender.Send(ctx, Message{
		From:    m.from,
		To:      Address{Name: to.FirstName, Email: to.Email},
		Subject: verificationSubject,
		Text:    text,
		HTML:    html,
	})
}
