// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/samber/oops"
)

// Password recovery configuration.
const (
	// ResetCodeMin and ResetCodeMax bound the numeric reset code range.
	// Every code has exactly six digits, so codes never need zero padding.
	ResetCodeMin = 100000
	ResetCodeMax = 999999

	// ResetCodeExpiry is how long a mailed reset code stays valid.
	ResetCodeExpiry = time.Hour

	// ResetTokenBytes is the entropy of a reset token. 32 bytes = 64 hex chars.
	ResetTokenBytes = 32
)

// GenerateResetCode returns a uniformly distributed six-digit code as a
// string. Rejection sampling keeps the distribution uniform over the range.
func GenerateResetCode() (string, error) {
	const span = uint64(ResetCodeMax - ResetCodeMin + 1)
	// Largest multiple of span that fits in a uint64; values at or above it
	// would bias the modulo and are redrawn.
	limit := (^uint64(0) / span) * span

	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", oops.Code("RESET_CODE_GENERATE_FAILED").
				With("operation", "crypto/rand.Read").
				Wrap(err)
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v >= limit {
			continue
		}
		return strconv.FormatUint(ResetCodeMin+v%span, 10), nil
	}
}

// IsResetCode reports whether secret has the shape of a mailed reset code:
// exactly six ASCII digits. Anything else is treated as a reset token.
func IsResetCode(secret string) bool {
	if len(secret) != 6 {
		return false
	}
	for _, c := range secret {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ResetToken is the link-style recovery record, keyed by email. At most one
// token exists per email; requesting a new one replaces the old.
type ResetToken struct {
	Email     string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewResetToken creates a validated ResetToken for an email address.
func NewResetToken(email, tokenHash string, expiresAt time.Time) (*ResetToken, error) {
	if email == "" {
		return nil, oops.Code("RESET_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &ResetToken{
		Email:     email,
		TokenHash: tokenHash,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}, nil
}

// GenerateResetToken creates a secure random reset token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext goes into the
// mailed link; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", ResetTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashResetToken(token)

	return token, hash, nil
}

// HashResetToken computes the SHA256 hash of a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ResetTokenRepository manages link-style recovery records.
type ResetTokenRepository interface {
	// Upsert stores a reset token, replacing any existing record for the
	// same email.
	Upsert(ctx context.Context, token *ResetToken) error

	// Consume atomically deletes the unexpired record with the given token
	// hash and returns its email. Returns ErrNotFound for unknown or
	// expired tokens. A token can be consumed at most once.
	Consume(ctx context.Context, tokenHash string, now time.Time) (email string, err error)

	// DeleteByEmail removes any record for the given email.
	DeleteByEmail(ctx context.Context, email string) error

	// DeleteExpired removes all expired records and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Mailer delivers recovery mail. Implementations live in internal/mail.
type Mailer interface {
	// SendResetCode mails a six-digit reset code to the recipient.
	SendResetCode(ctx context.Context, to, code string) error

	// SendResetLink mails a recovery link carrying the reset token.
	SendResetLink(ctx context.Context, to, token string) error
}
