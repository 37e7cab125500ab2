// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"regexp"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Password policy constraints.
const (
	MinPasswordLength = 8
	MaxEmailLength    = 254
)

// emailRegex is a pragmatic syntax check: one @, no whitespace, dotted
// domain. Deliverability is proven by the recovery mail, not the regex.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Account represents a registered identity, keyed by unique email.
type Account struct {
	ID                   ulid.ULID
	Email                string
	PasswordHash         string
	Role                 *string
	InvalidLoginAttempts int
	AccountLockedUntil   *time.Time
	ResetKey             *string
	ResetExpires         *time.Time
	LastLoginTime        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewAccount creates a validated Account from an email and password hash.
// Email syntax and password policy are the caller's responsibility; this
// constructor only guards against programming errors.
func NewAccount(email, passwordHash string) (*Account, error) {
	if email == "" {
		return nil, oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the account is currently locked out.
func (a *Account) IsLocked() bool {
	return IsLockedOut(a.AccountLockedUntil, time.Now())
}

// HasActiveResetCode reports whether a reset code is set and unexpired at now.
func (a *Account) HasActiveResetCode(now time.Time) bool {
	return a.ResetKey != nil && a.ResetExpires != nil && a.ResetExpires.After(now)
}

// ValidateEmail validates email syntax. It never touches storage.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email is required")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("invalid email format")
	}
	return nil
}

// ValidatePassword enforces the canonical password policy: at least
// MinPasswordLength characters with an upper-case letter, a lower-case
// letter, a digit, and a symbol. Enforced server-side only.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return oops.Code("AUTH_WEAK_PASSWORD").
			Errorf("password must contain upper and lower case letters, a digit, and a symbol")
	}
	return nil
}

// LoginFailureState is the account state after an atomically recorded
// failed login attempt.
type LoginFailureState struct {
	// Attempts is the counter value after the update. Zero when the
	// failure imposed a lock.
	Attempts int

	// LockedUntil is non-nil iff this failure crossed the lockout
	// threshold and imposed a lock.
	LockedUntil *time.Time
}

// Locked reports whether this failure imposed a lock.
func (s LoginFailureState) Locked() bool {
	return s.LockedUntil != nil
}

// AccountRepository manages account persistence. All email matching is
// case-insensitive; stored casing is preserved for display.
type AccountRepository interface {
	// Create stores a new account. Returns ErrConflict (wrapped) if the
	// email is already registered.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// RecordLoginFailure atomically increments the failure counter and,
	// when the result reaches threshold, zeroes it and sets the lock to
	// now+lockFor. One conditional update; no read-then-write race.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockFor time.Duration) (LoginFailureState, error)

	// RecordLoginSuccess zeroes the failure counter, clears any lock, and
	// stamps last_login_time, in a single update.
	RecordLoginSuccess(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetResetCode sets reset_key and reset_expires together.
	SetResetCode(ctx context.Context, id ulid.ULID, code string, expires time.Time) error

	// ClearResetCode clears reset_key and reset_expires together.
	ClearResetCode(ctx context.Context, id ulid.ULID) error

	// ConsumeResetCode atomically matches an account whose reset_key
	// equals code and whose reset_expires is after now, replaces its
	// password hash, and clears the code fields, all in one update.
	// Returns the consumed account's ID and email, or ErrNotFound when no
	// account matches. Exactly one of two concurrent calls with the same
	// code can succeed.
	ConsumeResetCode(ctx context.Context, code, newPasswordHash string, now time.Time) (ulid.ULID, string, error)

	// UpdatePassword replaces only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
