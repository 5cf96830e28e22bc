package main

import (
	"context"

	"go.uber.org/zap"
)

// logMailer writes verification codes to the log instead of sending mail.
// It stands in for an SMTP or provider integration in development.
type logMailer struct {
	logger *zap.Logger
}

func newLogMailer(logger *zap.Logger) *logMailer {
	return &logMailer{logger: logger.Named("mailer")}
}

func (m *logMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("verification code issued",
		zap.String("email", email),
		zap.String("code", code),
	)
	return nil
}
