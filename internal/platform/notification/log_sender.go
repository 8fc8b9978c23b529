package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogEmailSender writes email deliveries to the structured log instead of an
// SMTP gateway. Used until a real provider is configured.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("channel", "email").
		Str("to", to).
		Str("subject", subject).
		Int("body_len", len(body)).
		Msg("notification delivered")
	return nil
}

// LogSMSSender writes SMS deliveries to the structured log.
type LogSMSSender struct {
	Logger zerolog.Logger
}

func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().
		Str("channel", "sms").
		Str("to", to).
		Int("body_len", len(body)).
		Msg("notification delivered")
	return nil
}
