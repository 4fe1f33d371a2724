package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender delivers messages through SendGrid.
type EmailSender struct {
	client      *sendgrid.Client
	fromName    string
	fromAddress string
	sandbox     bool
}

// NewEmailSender builds a SendGrid-backed sender. Sandbox mode accepts the
// message at the API without delivering it, for non-production setups.
func NewEmailSender(apiKey, fromName, fromAddress string, sandbox bool) *EmailSender {
	return &EmailSender{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromAddress: fromAddress,
		sandbox:     sandbox,
	}
}

func (s *EmailSender) Send(_ context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromAddress)
	to := mail.NewEmail("", msg.Address)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "")

	if s.sandbox {
		settings := mail.NewMailSettings()
		settings.SetSandboxMode(mail.NewSetting(true))
		message.MailSettings = settings
	}

	response, err := s.client.Send(message)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("send email: sendgrid status %d", response.StatusCode)
	}
	return nil
}
