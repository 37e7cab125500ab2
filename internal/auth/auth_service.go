// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Service provides account and session operations.
type Service struct {
	accounts AccountRepository
	sessions SessionRepository
	hasher   PasswordHasher
	logger   *slog.Logger
}

// NewService creates a new Service.
func NewService(accounts AccountRepository, sessions SessionRepository, hasher PasswordHasher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		logger:   logger,
	}
}

// Signup validates the email and password, hashes the password, and creates
// the account. Email comparison is case-insensitive; the address is stored
// lowercased.
func (s *Service) Signup(ctx context.Context, email, password string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, oops.Code("AUTH_EMAIL_TAKEN").
				Errorf("an account with this email already exists")
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account created",
		"account_id", account.ID.String())

	return account, nil
}

// Login authenticates an account and creates a session.
// Returns the session, plaintext token, and any error.
//
// The lockout check runs before password verification so that a locked
// account rejects even a correct password without touching the hasher.
// Failed attempts are recorded atomically in the store; the session write
// is durable before Login returns.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").
			Errorf("invalid email or password")
	}
	if err := ValidateEmail(email); err != nil {
		return nil, "", err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").
				Errorf("invalid email or password")
		}
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	now := time.Now()
	if IsLockedOut(account.AccountLockedUntil, now) {
		return nil, "", s.lockedError(account.AccountLockedUntil, now)
	}

	valid, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(err)
	}

	if !valid {
		state, recErr := s.accounts.RecordLoginFailure(ctx, account.ID, LockoutThreshold, LockoutDuration)
		if recErr != nil {
			return nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "record login failure").
				Wrap(recErr)
		}
		if state.Locked() {
			s.logger.WarnContext(ctx, "account locked after repeated failures",
				"account_id", account.ID.String(),
				"locked_until", state.LockedUntil)
			return nil, "", s.lockedError(state.LockedUntil, now)
		}
		return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").
			With("attempts", state.Attempts).
			Errorf("invalid email or password")
	}

	if err := s.accounts.RecordLoginSuccess(ctx, account.ID, now); err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "record login success").
			Wrap(err)
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(account.ID, account.Email, account.Role, tokenHash, now.Add(SessionTTL))
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"session_id", session.ID.String())

	return session, token, nil
}

// lockedError builds the lockout error carrying the remaining minutes.
func (s *Service) lockedError(lockedUntil *time.Time, now time.Time) error {
	return oops.Code("AUTH_ACCOUNT_LOCKED").
		With("locked_until", lockedUntil).
		With("remaining_minutes", RemainingLockMinutes(lockedUntil, now)).
		Errorf("account is temporarily locked")
}

// Logout invalidates a session.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", sessionID.String()).
				Wrap(err)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// ValidateSession resolves a session token to its session. Unknown and
// expired tokens are indistinguishable to the caller.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	tokenHash := HashSessionToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash, time.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	return session, nil
}

// Profile returns the account behind a session. The session carries a
// snapshot of email and role, but the profile always reflects the live
// account record.
func (s *Service) Profile(ctx context.Context, session *Session) (*Account, error) {
	if session == nil {
		return nil, oops.Code("SESSION_INVALID").Errorf("session cannot be nil")
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("ACCOUNT_GONE").
				With("account_id", session.AccountID.String()).
				Errorf("account no longer exists")
		}
		return nil, oops.Code("AUTH_PROFILE_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	return account, nil
}
