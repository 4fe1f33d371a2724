package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes messages to the log instead of delivering them. Used in
// development when no delivery channel is configured. The body, which
// carries the code, is deliberately logged so local flows can complete.
type LogSender struct {
	log *logrus.Entry
}

// NewLogSender builds the log-only sender.
func NewLogSender() *LogSender {
	return &LogSender{log: logrus.WithField("component", "notify")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.WithFields(map[string]interface{}{
		"address": msg.Address,
		"subject": msg.Subject,
		"body":    msg.Body,
	}).Info("notification (log delivery)")
	return nil
}
