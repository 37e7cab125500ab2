// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"
)

// --- Mock implementations ---

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) Create(ctx context.Context, account *Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Account), args.Error(1)
}

func (m *mockAccountRepo) GetByEmail(ctx context.Context, email string) (*Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Account), args.Error(1)
}

func (m *mockAccountRepo) RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockFor time.Duration) (LoginFailureState, error) {
	args := m.Called(ctx, id, threshold, lockFor)
	return args.Get(0).(LoginFailureState), args.Error(1)
}

func (m *mockAccountRepo) RecordLoginSuccess(ctx context.Context, id ulid.ULID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *mockAccountRepo) SetResetCode(ctx context.Context, id ulid.ULID, code string, expires time.Time) error {
	args := m.Called(ctx, id, code, expires)
	return args.Error(0)
}

func (m *mockAccountRepo) ClearResetCode(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockAccountRepo) ConsumeResetCode(ctx context.Context, code, newPasswordHash string, now time.Time) (ulid.ULID, string, error) {
	args := m.Called(ctx, code, newPasswordHash, now)
	return args.Get(0).(ulid.ULID), args.String(1), args.Error(2)
}

func (m *mockAccountRepo) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, session *Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockSessionRepo) GetByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*Session, error) {
	args := m.Called(ctx, tokenHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Session), args.Error(1)
}

func (m *mockSessionRepo) Delete(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) DeleteByAccount(ctx context.Context, accountID ulid.ULID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type mockResetTokenRepo struct {
	mock.Mock
}

func (m *mockResetTokenRepo) Upsert(ctx context.Context, token *ResetToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockResetTokenRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	args := m.Called(ctx, tokenHash, now)
	return args.String(0), args.Error(1)
}

func (m *mockResetTokenRepo) DeleteByEmail(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *mockResetTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type mockHasher struct {
	mock.Mock
}

func (m *mockHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *mockHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendResetCode(ctx context.Context, to, code string) error {
	args := m.Called(ctx, to, code)
	return args.Error(0)
}

func (m *mockMailer) SendResetLink(ctx context.Context, to, token string) error {
	args := m.Called(ctx, to, token)
	return args.Error(0)
}
