// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package mail delivers password recovery messages. It provides an SMTP
// mailer for production and a log-only mailer for development setups
// without an SMTP relay.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"net/url"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// Config holds SMTP delivery settings.
type Config struct {
	// Addr is the SMTP relay in "host:port" format.
	Addr string
	// Username and Password authenticate against the relay. Both empty
	// means unauthenticated delivery (local relays, test servers).
	Username string
	Password string
	// From is the sender address on outgoing messages.
	From string
	// ResetBaseURL is the page the reset link points at, e.g.
	// "https://example.com/reset-password".
	ResetBaseURL string
}

// sendFunc matches smtp.SendMail and exists so tests can intercept delivery.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends recovery mail through an SMTP relay.
type SMTPMailer struct {
	cfg  Config
	send sendFunc
}

var _ auth.Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer creates a mailer for the given relay configuration.
func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, oops.
			Code("MAIL_CONFIG_INVALID").
			With("addr", cfg.Addr).
			Wrapf(err, "smtp address must be host:port")
	}
	if cfg.From == "" {
		return nil, oops.
			Code("MAIL_CONFIG_INVALID").
			Errorf("smtp sender address is required")
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}, nil
}

// SendResetCode mails a six digit reset code to the given address.
func (m *SMTPMailer) SendResetCode(ctx context.Context, to, code string) error {
	body := fmt.Sprintf("Your password reset code is: %s\r\n\r\nThe code expires in one hour.", code)
	return m.deliver(ctx, to, "Your Password Reset Code", body)
}

// SendResetLink mails a password reset link carrying the given token.
func (m *SMTPMailer) SendResetLink(ctx context.Context, to, token string) error {
	link := m.cfg.ResetBaseURL + "?token=" + url.QueryEscape(token)
	body := fmt.Sprintf("To reset your password, open the link below:\r\n\r\n%s\r\n\r\nThe link expires in one hour. If you did not request this, you can ignore this message.", link)
	return m.deliver(ctx, to, "Reset Your Password", body)
}

func (m *SMTPMailer) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").Wrap(err)
	}

	msg := []byte("From: " + m.cfg.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n")

	var a smtp.Auth
	if m.cfg.Username != "" || m.cfg.Password != "" {
		host, _, _ := net.SplitHostPort(m.cfg.Addr)
		a = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	if err := m.send(m.cfg.Addr, a, m.cfg.From, []string{to}, msg); err != nil {
		return oops.
			Code("MAIL_SEND_FAILED").
			With("addr", m.cfg.Addr).
			With("subject", subject).
			Wrap(err)
	}
	return nil
}
