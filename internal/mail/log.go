// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// LogMailer writes recovery secrets to the log instead of sending mail.
// For development only: secrets in logs are a liability in production.
type LogMailer struct {
	logger *slog.Logger
}

var _ auth.Mailer = (*LogMailer)(nil)

// NewLogMailer creates a mailer that logs instead of sending.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendResetCode(_ context.Context, to, code string) error {
	m.logger.Info("password reset code issued", "to", to, "code", code)
	return nil
}

func (m *LogMailer) SendResetLink(_ context.Context, to, token string) error {
	m.logger.Info("password reset link issued", "to", to, "token", token)
	return nil
}
