package service

import (
	"context"

	"go.uber.org/zap"
)

// Mailer abstracts email delivery. The actual transport lives outside
// this system; job handlers only depend on this interface.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outgoing mail to the log instead of delivering it.
// Default implementation for development and tests.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a new logging mailer
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.Info("Outgoing mail",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}

var _ Mailer = (*LogMailer)(nil)
