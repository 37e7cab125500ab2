// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// ResetTokenRepository implements auth.ResetTokenRepository using PostgreSQL.
type ResetTokenRepository struct {
	db DB
}

// NewResetTokenRepository creates a new ResetTokenRepository.
func NewResetTokenRepository(db DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Upsert stores a reset token, replacing any existing record for the email.
func (r *ResetTokenRepository) Upsert(ctx context.Context, token *auth.ResetToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reset_tokens (id, email, token_hash, created_at, expires_at)
		VALUES ($1, LOWER($2), $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			token_hash = EXCLUDED.token_hash,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`,
		ulid.Make().String(),
		token.Email,
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
	)
	if err != nil {
		return oops.Code("RESET_TOKEN_UPSERT_FAILED").
			With("operation", "upsert reset token").
			Wrap(err)
	}
	return nil
}

// Consume deletes the unexpired record with the given token hash and returns
// its email. DELETE ... RETURNING makes consumption exactly-once: of two
// concurrent calls with the same hash, one gets the row and one gets nothing.
func (r *ResetTokenRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	row := r.db.QueryRow(ctx, `
		DELETE FROM reset_tokens
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING email
	`, tokenHash, now)

	var email string
	err := row.Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("RESET_TOKEN_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return "", oops.Code("RESET_TOKEN_CONSUME_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return email, nil
}

// DeleteByEmail removes any record for the given email.
func (r *ResetTokenRepository) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM reset_tokens WHERE email = LOWER($1)
	`, email)
	if err != nil {
		return oops.Code("RESET_TOKEN_DELETE_FAILED").
			With("operation", "delete reset token by email").
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes all expired records.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM reset_tokens WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("RESET_TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired reset tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)
