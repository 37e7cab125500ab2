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

// RecoveryService provides password recovery operations. Two flows issue
// secrets: a six-digit code stored on the account row, and an opaque token
// stored in its own table. Both converge on Complete, which dispatches on
// the shape of the secret. Completing either flow invalidates the other.
type RecoveryService struct {
	accounts AccountRepository
	tokens   ResetTokenRepository
	sessions SessionRepository
	hasher   PasswordHasher
	mailer   Mailer
	logger   *slog.Logger
}

// NewRecoveryService creates a new RecoveryService.
func NewRecoveryService(accounts AccountRepository, tokens ResetTokenRepository, sessions SessionRepository, hasher PasswordHasher, mailer Mailer, logger *slog.Logger) *RecoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryService{
		accounts: accounts,
		tokens:   tokens,
		sessions: sessions,
		hasher:   hasher,
		mailer:   mailer,
		logger:   logger,
	}
}

// IssueCode generates a six-digit reset code for the account with the given
// email, stores it with a one-hour expiry, and mails it. Unknown emails
// return RESET_ACCOUNT_NOT_FOUND; this endpoint deliberately reports whether
// an account exists.
func (s *RecoveryService) IssueCode(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := ValidateEmail(email); err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_ACCOUNT_NOT_FOUND").
				Errorf("no account with this email")
		}
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	code, err := GenerateResetCode()
	if err != nil {
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "generate reset code").
			Wrap(err)
	}

	expires := time.Now().Add(ResetCodeExpiry)
	if err := s.accounts.SetResetCode(ctx, account.ID, code, expires); err != nil {
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "store reset code").
			Wrap(err)
	}

	// The stored code stays valid even when delivery fails; a later retry
	// within the expiry window can still complete with it.
	if err := s.mailer.SendResetCode(ctx, account.Email, code); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("operation", "send reset code").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "reset code issued",
		"account_id", account.ID.String())

	return nil
}

// RequestToken generates an opaque reset token for the given email, upserts
// its record, and mails a recovery link. It never reveals whether an account
// exists; unknown emails still receive mail and get a token record that can
// never complete.
func (s *RecoveryService) RequestToken(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := ValidateEmail(email); err != nil {
		return err
	}

	token, tokenHash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	record, err := NewResetToken(email, tokenHash, time.Now().Add(ResetCodeExpiry))
	if err != nil {
		return err
	}

	if err := s.tokens.Upsert(ctx, record); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			Wrap(err)
	}

	// Like IssueCode, the stored record outlives a failed delivery.
	if err := s.mailer.SendResetLink(ctx, email, token); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("operation", "send reset link").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "reset token issued")

	return nil
}

// Complete finishes either recovery flow. A secret of exactly six digits is
// treated as a mailed code; anything else as a reset token. The consuming
// flow's secret is spent atomically, the other flow's secret is invalidated,
// and all of the account's sessions are revoked.
func (s *RecoveryService) Complete(ctx context.Context, secret, newPassword string) error {
	if secret == "" {
		return oops.Code("RESET_INVALID_SECRET").Errorf("reset secret cannot be empty")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if IsResetCode(secret) {
		return s.completeWithCode(ctx, secret, hash)
	}
	return s.completeWithToken(ctx, secret, hash)
}

func (s *RecoveryService) completeWithCode(ctx context.Context, code, newHash string) error {
	accountID, email, err := s.accounts.ConsumeResetCode(ctx, code, newHash, time.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_INVALID_SECRET").
				Errorf("invalid or expired reset code")
		}
		return oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "consume reset code").
			Wrap(err)
	}

	if err := s.tokens.DeleteByEmail(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate reset token after code reset",
			"account_id", accountID.String(),
			"error", err)
	}
	s.revokeSessions(ctx, accountID)

	s.logger.InfoContext(ctx, "password reset via code",
		"account_id", accountID.String())

	return nil
}

func (s *RecoveryService) completeWithToken(ctx context.Context, token, newHash string) error {
	email, err := s.tokens.Consume(ctx, HashResetToken(token), time.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_INVALID_SECRET").
				Errorf("invalid or expired reset token")
		}
		return oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Token records exist for emails without accounts.
			return oops.Code("RESET_INVALID_SECRET").
				Errorf("invalid or expired reset token")
		}
		return oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash); err != nil {
		return oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "update password").
			Wrap(err)
	}

	if err := s.accounts.ClearResetCode(ctx, account.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate reset code after token reset",
			"account_id", account.ID.String(),
			"error", err)
	}
	s.revokeSessions(ctx, account.ID)

	s.logger.InfoContext(ctx, "password reset via token",
		"account_id", account.ID.String())

	return nil
}

// revokeSessions ends all sessions for an account after a password change.
// Failures are logged, not surfaced; the reset itself already committed.
func (s *RecoveryService) revokeSessions(ctx context.Context, accountID ulid.ULID) {
	if err := s.sessions.DeleteByAccount(ctx, accountID); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke sessions after password reset",
			"account_id", accountID.String(),
			"error", err)
	}
}
