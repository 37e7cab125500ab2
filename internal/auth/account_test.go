// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestNewAccount(t *testing.T) {
	t.Run("creates valid account", func(t *testing.T) {
		account, err := auth.NewAccount("user@example.com", "$argon2id$hash")
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", account.Email)
		assert.Equal(t, "$argon2id$hash", account.PasswordHash)
		assert.False(t, account.ID.Compare(ulid.ULID{}) == 0)
		assert.Zero(t, account.InvalidLoginAttempts)
		assert.Nil(t, account.AccountLockedUntil)
		assert.Nil(t, account.Role)
		assert.False(t, account.CreatedAt.IsZero())
	})

	t.Run("rejects empty email", func(t *testing.T) {
		_, err := auth.NewAccount("", "$argon2id$hash")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_EMAIL")
	})

	t.Run("rejects empty password hash", func(t *testing.T) {
		_, err := auth.NewAccount("user@example.com", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
	})
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"simple address", "user@example.com", false},
		{"subdomain", "user@mail.example.com", false},
		{"plus tag", "user+tag@example.com", false},
		{"empty", "", true},
		{"missing at", "userexample.com", true},
		{"missing domain dot", "user@example", true},
		{"whitespace in local part", "us er@example.com", true},
		{"two at signs", "user@@example.com", true},
		{"over length limit", strings.Repeat("a", 250) + "@b.co", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateEmail(tt.email)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_EMAIL")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"meets all rules", "Passw0rd!", false},
		{"longer passphrase", "Correct-Horse-Battery-1", false},
		{"too short", "Pw0rd!", true},
		{"missing upper", "passw0rd!", true},
		{"missing lower", "PASSW0RD!", true},
		{"missing digit", "Password!", true},
		{"missing symbol", "Passw0rdX", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidatePassword(tt.password)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "AUTH_WEAK_PASSWORD")
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("oversized password rejected", func(t *testing.T) {
		err := auth.ValidatePassword("Aa1!" + strings.Repeat("x", auth.MaxPasswordBytes))
		assert.ErrorIs(t, err, auth.ErrPasswordTooLong)
	})
}

func TestAccount_IsLocked(t *testing.T) {
	t.Run("unlocked when no lock set", func(t *testing.T) {
		account := &auth.Account{}
		assert.False(t, account.IsLocked())
	})

	t.Run("locked when lock is in future", func(t *testing.T) {
		until := time.Now().Add(10 * time.Minute)
		account := &auth.Account{AccountLockedUntil: &until}
		assert.True(t, account.IsLocked())
	})

	t.Run("unlocked when lock has expired", func(t *testing.T) {
		until := time.Now().Add(-time.Minute)
		account := &auth.Account{AccountLockedUntil: &until}
		assert.False(t, account.IsLocked())
	})
}

func TestAccount_HasActiveResetCode(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	code := "123456"

	t.Run("false when no code set", func(t *testing.T) {
		account := &auth.Account{}
		assert.False(t, account.HasActiveResetCode(now))
	})

	t.Run("true when code set and unexpired", func(t *testing.T) {
		expires := now.Add(time.Hour)
		account := &auth.Account{ResetKey: &code, ResetExpires: &expires}
		assert.True(t, account.HasActiveResetCode(now))
	})

	t.Run("false when code expired", func(t *testing.T) {
		expires := now.Add(-time.Minute)
		account := &auth.Account{ResetKey: &code, ResetExpires: &expires}
		assert.False(t, account.HasActiveResetCode(now))
	})
}
