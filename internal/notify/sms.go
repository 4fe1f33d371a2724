package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSSender delivers messages through Twilio. The subject is dropped; SMS
// carries only the body.
type SMSSender struct {
	client    *twilio.RestClient
	fromPhone string
}

// NewSMSSender builds a Twilio-backed sender.
func NewSMSSender(accountSID, authToken, fromPhone string) *SMSSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &SMSSender{client: client, fromPhone: fromPhone}
}

func (s *SMSSender) Send(_ context.Context, msg Message) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.Address)
	params.SetFrom(s.fromPhone)
	params.SetBody(msg.Body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}
