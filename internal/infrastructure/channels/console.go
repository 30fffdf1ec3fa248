package channels

import (
	"context"
	"log/slog"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSOLE SENDER
// ══════════════════════════════════════════════════════════════════════════════

// ConsoleSender logs notifications instead of delivering them. Used in
// development so the worker runs without gateway credentials. Implements
// both notification.EmailSender and notification.SMSSender.
type ConsoleSender struct {
	logger *slog.Logger
}

// NewConsoleSender creates a console sender.
func NewConsoleSender(logger *slog.Logger) *ConsoleSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSender{logger: logger}
}

// SendEmail logs the message and reports success.
func (s *ConsoleSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.logger.Info("console email",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}

// SendSMS logs the message and reports success.
func (s *ConsoleSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("console sms",
		"to", to,
		"body", body,
	)
	return nil
}
