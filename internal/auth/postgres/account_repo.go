// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, role, invalid_login_attempts,
			account_locked_until, reset_key, reset_expires,
			last_login_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		account.Role,
		account.InvalidLoginAttempts,
		account.AccountLockedUntil,
		account.ResetKey,
		account.ResetExpires,
		account.LastLoginTime,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").
				With("email", account.Email).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, role, invalid_login_attempts,
		       account_locked_until, reset_key, reset_expires,
		       last_login_time, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, role, invalid_login_attempts,
		       account_locked_until, reset_key, reset_expires,
		       last_login_time, created_at, updated_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`, email)

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// RecordLoginFailure increments the failure counter and imposes the lock in
// one conditional UPDATE. The counter zeroes exactly when the lock is set,
// so concurrent failures cannot skip past the threshold.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockFor time.Duration) (auth.LoginFailureState, error) {
	now := time.Now()
	row := r.db.QueryRow(ctx, `
		UPDATE accounts SET
			invalid_login_attempts = CASE
				WHEN invalid_login_attempts + 1 >= $2 THEN 0
				ELSE invalid_login_attempts + 1
			END,
			account_locked_until = CASE
				WHEN invalid_login_attempts + 1 >= $2 THEN $3::timestamptz
				ELSE account_locked_until
			END,
			updated_at = $4
		WHERE id = $1
		RETURNING invalid_login_attempts, account_locked_until
	`, id.String(), threshold, now.Add(lockFor), now)

	var state auth.LoginFailureState
	err := row.Scan(&state.Attempts, &state.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.LoginFailureState{}, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return auth.LoginFailureState{}, oops.Code("ACCOUNT_RECORD_FAILURE_FAILED").
			With("operation", "record login failure").
			With("id", id.String()).
			Wrap(err)
	}

	// A stale lock left over from a previous cycle is not a lock imposed by
	// this failure.
	if state.LockedUntil != nil && !state.LockedUntil.After(now) {
		state.LockedUntil = nil
	}
	return state, nil
}

// RecordLoginSuccess zeroes the failure counter, clears the lock, and stamps
// the login time in a single UPDATE.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			invalid_login_attempts = 0,
			account_locked_until = NULL,
			last_login_time = $2,
			updated_at = $2
		WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("ACCOUNT_RECORD_SUCCESS_FAILED").
			With("operation", "record login success").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetResetCode sets reset_key and reset_expires together.
func (r *AccountRepository) SetResetCode(ctx context.Context, id ulid.ULID, code string, expires time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET reset_key = $2, reset_expires = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), code, expires, time.Now())
	if err != nil {
		return oops.Code("ACCOUNT_SET_RESET_CODE_FAILED").
			With("operation", "set reset code").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ClearResetCode clears reset_key and reset_expires together.
func (r *AccountRepository) ClearResetCode(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET reset_key = NULL, reset_expires = NULL, updated_at = $2
		WHERE id = $1
	`, id.String(), time.Now())
	if err != nil {
		return oops.Code("ACCOUNT_CLEAR_RESET_CODE_FAILED").
			With("operation", "clear reset code").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ConsumeResetCode matches, spends, and applies a reset code in one UPDATE.
// The WHERE clause holds the match and the expiry check, so of two
// concurrent calls with the same code exactly one sees an affected row.
func (r *AccountRepository) ConsumeResetCode(ctx context.Context, code, newPasswordHash string, now time.Time) (ulid.ULID, string, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE accounts SET
			password_hash = $2,
			reset_key = NULL,
			reset_expires = NULL,
			invalid_login_attempts = 0,
			account_locked_until = NULL,
			updated_at = $3
		WHERE reset_key = $1 AND reset_expires > $3
		RETURNING id, email
	`, code, newPasswordHash, now)

	var idStr, email string
	err := row.Scan(&idStr, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, "", oops.Code("RESET_CODE_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, "", oops.Code("ACCOUNT_CONSUME_RESET_CODE_FAILED").
			With("operation", "consume reset code").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return ulid.ULID{}, "", oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	return id, email, nil
}

// UpdatePassword updates only the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now())
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *AccountRepository) scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr         string
		email         string
		passwordHash  string
		role          *string
		attempts      int
		lockedUntil   *time.Time
		resetKey      *string
		resetExpires  *time.Time
		lastLoginTime *time.Time
		createdAt     time.Time
		updatedAt     time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&role,
		&attempts,
		&lockedUntil,
		&resetKey,
		&resetExpires,
		&lastLoginTime,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.Account{
		ID:                   id,
		Email:                email,
		PasswordHash:         passwordHash,
		Role:                 role,
		InvalidLoginAttempts: attempts,
		AccountLockedUntil:   lockedUntil,
		ResetKey:             resetKey,
		ResetExpires:         resetExpires,
		LastLoginTime:        lastLoginTime,
		CreatedAt:            createdAt,
		UpdatedAt:            updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
