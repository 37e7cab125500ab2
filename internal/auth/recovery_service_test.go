// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

type recoveryFixture struct {
	accounts *mockAccountRepo
	tokens   *mockResetTokenRepo
	sessions *mockSessionRepo
	hasher   *mockHasher
	mailer   *mockMailer
	svc      *RecoveryService
}

func newRecoveryFixture() *recoveryFixture {
	f := &recoveryFixture{
		accounts: &mockAccountRepo{},
		tokens:   &mockResetTokenRepo{},
		sessions: &mockSessionRepo{},
		hasher:   &mockHasher{},
		mailer:   &mockMailer{},
	}
	f.svc = NewRecoveryService(f.accounts, f.tokens, f.sessions, f.hasher, f.mailer, discardLogger())
	return f
}

func TestRecoveryService_IssueCode(t *testing.T) {
	t.Run("stores and mails six-digit code", func(t *testing.T) {
		f := newRecoveryFixture()
		account := testAccount(t)

		var issued string
		f.accounts.On("GetByEmail", mock.Anything, "user@example.com").Return(account, nil)
		f.accounts.On("SetResetCode", mock.Anything, account.ID, mock.MatchedBy(func(code string) bool {
			issued = code
			return IsResetCode(code)
		}), mock.MatchedBy(func(expires time.Time) bool {
			return time.Until(expires) > 59*time.Minute
		})).Return(nil)
		f.mailer.On("SendResetCode", mock.Anything, account.Email, mock.MatchedBy(func(code string) bool {
			return code == issued
		})).Return(nil)

		require.NoError(t, f.svc.IssueCode(context.Background(), "user@example.com"))
		f.accounts.AssertExpectations(t)
		f.mailer.AssertExpectations(t)
	})

	t.Run("unknown email reports RESET_ACCOUNT_NOT_FOUND", func(t *testing.T) {
		f := newRecoveryFixture()
		f.accounts.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, ErrNotFound)

		err := f.svc.IssueCode(context.Background(), "ghost@example.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_ACCOUNT_NOT_FOUND")
		f.mailer.AssertNotCalled(t, "SendResetCode", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("mail failure keeps the stored code", func(t *testing.T) {
		f := newRecoveryFixture()
		account := testAccount(t)

		f.accounts.On("GetByEmail", mock.Anything, "user@example.com").Return(account, nil)
		f.accounts.On("SetResetCode", mock.Anything, account.ID, mock.Anything, mock.Anything).Return(nil)
		f.mailer.On("SendResetCode", mock.Anything, account.Email, mock.Anything).
			Return(assert.AnError)

		err := f.svc.IssueCode(context.Background(), "user@example.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_SEND_FAILED")
		f.accounts.AssertNotCalled(t, "ClearResetCode", mock.Anything, mock.Anything)
	})

	t.Run("invalid email rejected before lookup", func(t *testing.T) {
		f := newRecoveryFixture()

		err := f.svc.IssueCode(context.Background(), "not-an-email")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_EMAIL")
		f.accounts.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	})
}

func TestRecoveryService_RequestToken(t *testing.T) {
	t.Run("upserts record and mails link", func(t *testing.T) {
		f := newRecoveryFixture()

		var mailedToken string
		f.tokens.On("Upsert", mock.Anything, mock.MatchedBy(func(r *ResetToken) bool {
			return r.Email == "user@example.com" && r.TokenHash != ""
		})).Return(nil)
		f.mailer.On("SendResetLink", mock.Anything, "user@example.com", mock.MatchedBy(func(token string) bool {
			mailedToken = token
			return len(token) == 64
		})).Return(nil)

		require.NoError(t, f.svc.RequestToken(context.Background(), "user@example.com"))
		f.tokens.AssertExpectations(t)
		f.mailer.AssertExpectations(t)
		assert.NotEmpty(t, mailedToken)
	})

	t.Run("does not check account existence", func(t *testing.T) {
		f := newRecoveryFixture()

		f.tokens.On("Upsert", mock.Anything, mock.Anything).Return(nil)
		f.mailer.On("SendResetLink", mock.Anything, "ghost@example.com", mock.Anything).Return(nil)

		require.NoError(t, f.svc.RequestToken(context.Background(), "ghost@example.com"))
		f.accounts.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	})

	t.Run("mail failure keeps the stored record", func(t *testing.T) {
		f := newRecoveryFixture()

		f.tokens.On("Upsert", mock.Anything, mock.Anything).Return(nil)
		f.mailer.On("SendResetLink", mock.Anything, "user@example.com", mock.Anything).
			Return(assert.AnError)

		err := f.svc.RequestToken(context.Background(), "user@example.com")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_SEND_FAILED")
		f.tokens.AssertNotCalled(t, "DeleteByEmail", mock.Anything, mock.Anything)
	})
}

func TestRecoveryService_Complete(t *testing.T) {
	t.Run("six-digit secret consumes the code flow", func(t *testing.T) {
		f := newRecoveryFixture()
		accountID := ulid.Make()

		f.hasher.On("Hash", "NewPassw0rd!").Return("$argon2id$newhash", nil)
		f.accounts.On("ConsumeResetCode", mock.Anything, "123456", "$argon2id$newhash", mock.Anything).
			Return(accountID, "user@example.com", nil)
		f.tokens.On("DeleteByEmail", mock.Anything, "user@example.com").Return(nil)
		f.sessions.On("DeleteByAccount", mock.Anything, accountID).Return(nil)

		require.NoError(t, f.svc.Complete(context.Background(), "123456", "NewPassw0rd!"))
		f.accounts.AssertExpectations(t)
		f.tokens.AssertCalled(t, "DeleteByEmail", mock.Anything, "user@example.com")
		f.sessions.AssertCalled(t, "DeleteByAccount", mock.Anything, accountID)
	})

	t.Run("non-digit secret goes through the token flow", func(t *testing.T) {
		f := newRecoveryFixture()
		account := testAccount(t)
		token, tokenHash, err := GenerateResetToken()
		require.NoError(t, err)

		f.hasher.On("Hash", "NewPassw0rd!").Return("$argon2id$newhash", nil)
		f.tokens.On("Consume", mock.Anything, tokenHash, mock.Anything).Return(account.Email, nil)
		f.accounts.On("GetByEmail", mock.Anything, account.Email).Return(account, nil)
		f.accounts.On("UpdatePassword", mock.Anything, account.ID, "$argon2id$newhash").Return(nil)
		f.accounts.On("ClearResetCode", mock.Anything, account.ID).Return(nil)
		f.sessions.On("DeleteByAccount", mock.Anything, account.ID).Return(nil)

		require.NoError(t, f.svc.Complete(context.Background(), token, "NewPassw0rd!"))
		f.accounts.AssertExpectations(t)
	})

	t.Run("expired or unknown code reports RESET_INVALID_SECRET", func(t *testing.T) {
		f := newRecoveryFixture()

		f.hasher.On("Hash", "NewPassw0rd!").Return("$argon2id$newhash", nil)
		f.accounts.On("ConsumeResetCode", mock.Anything, "654321", mock.Anything, mock.Anything).
			Return(ulid.ULID{}, "", ErrNotFound)

		err := f.svc.Complete(context.Background(), "654321", "NewPassw0rd!")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_INVALID_SECRET")
	})

	t.Run("unknown token reports RESET_INVALID_SECRET", func(t *testing.T) {
		f := newRecoveryFixture()

		f.hasher.On("Hash", "NewPassw0rd!").Return("$argon2id$newhash", nil)
		f.tokens.On("Consume", mock.Anything, mock.Anything, mock.Anything).Return("", ErrNotFound)

		err := f.svc.Complete(context.Background(), "deadbeef", "NewPassw0rd!")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_INVALID_SECRET")
	})

	t.Run("token for email without account reports RESET_INVALID_SECRET", func(t *testing.T) {
		f := newRecoveryFixture()

		f.hasher.On("Hash", "NewPassw0rd!").Return("$argon2id$newhash", nil)
		f.tokens.On("Consume", mock.Anything, mock.Anything, mock.Anything).Return("ghost@example.com", nil)
		f.accounts.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, ErrNotFound)

		err := f.svc.Complete(context.Background(), "deadbeef", "NewPassw0rd!")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_INVALID_SECRET")
	})

	t.Run("weak new password rejected before any consumption", func(t *testing.T) {
		f := newRecoveryFixture()

		err := f.svc.Complete(context.Background(), "123456", "weak")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_WEAK_PASSWORD")
		f.accounts.AssertNotCalled(t, "ConsumeResetCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty secret rejected", func(t *testing.T) {
		f := newRecoveryFixture()

		err := f.svc.Complete(context.Background(), "", "NewPassw0rd!")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_INVALID_SECRET")
	})
}
