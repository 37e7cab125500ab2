// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package httpapi exposes the authentication service over HTTP. It owns
// the router, the session cookie, per-IP rate limiting, and the mapping
// from error codes to HTTP statuses.
package httpapi

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "gatehouse_session"

// AuthService is the part of the auth controller the HTTP layer uses.
type AuthService interface {
	Signup(ctx context.Context, email, password string) (*auth.Account, error)
	Login(ctx context.Context, email, password string) (*auth.Session, string, error)
	Logout(ctx context.Context, sessionID ulid.ULID) error
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)
	Profile(ctx context.Context, session *auth.Session) (*auth.Account, error)
}

// RecoveryService is the part of the recovery controller the HTTP layer uses.
type RecoveryService interface {
	IssueCode(ctx context.Context, email string) error
	RequestToken(ctx context.Context, email string) error
	Complete(ctx context.Context, secret, newPassword string) error
}

var (
	_ AuthService     = (*auth.Service)(nil)
	_ RecoveryService = (*auth.RecoveryService)(nil)
)
