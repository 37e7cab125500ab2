// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
)

func createTestAccount(t *testing.T, repo *postgres.AccountRepository, email string) *auth.Account {
	t.Helper()
	ctx := context.Background()

	account, err := auth.NewAccount(email, "$argon2id$hash")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, account))

	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, account.ID.String())
	})
	return account
}

func TestAccountRepository_Integration_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	t.Run("round trip by id and email", func(t *testing.T) {
		account := createTestAccount(t, repo, "roundtrip@example.com")

		byID, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.Email, byID.Email)

		byEmail, err := repo.GetByEmail(ctx, "ROUNDTRIP@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Equal(t, account.ID, byEmail.ID)
	})

	t.Run("duplicate email with different casing conflicts", func(t *testing.T) {
		createTestAccount(t, repo, "casing@example.com")

		dup, err := auth.NewAccount("CASING@example.com", "$argon2id$hash")
		require.NoError(t, err)
		err = repo.Create(ctx, dup)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrConflict)
	})
}

func TestAccountRepository_Integration_LockoutCycle(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)
	account := createTestAccount(t, repo, "lockout@example.com")

	state, err := repo.RecordLoginFailure(ctx, account.ID, auth.LockoutThreshold, auth.LockoutDuration)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.False(t, state.Locked())

	state, err = repo.RecordLoginFailure(ctx, account.ID, auth.LockoutThreshold, auth.LockoutDuration)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Attempts)
	assert.False(t, state.Locked())

	state, err = repo.RecordLoginFailure(ctx, account.ID, auth.LockoutThreshold, auth.LockoutDuration)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Attempts, "counter resets when lock is imposed")
	require.True(t, state.Locked())
	assert.WithinDuration(t, time.Now().Add(auth.LockoutDuration), *state.LockedUntil, 5*time.Second)

	require.NoError(t, repo.RecordLoginSuccess(ctx, account.ID, time.Now()))
	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.InvalidLoginAttempts)
	assert.Nil(t, stored.AccountLockedUntil)
	assert.NotNil(t, stored.LastLoginTime)
}

func TestAccountRepository_Integration_ConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)
	account := createTestAccount(t, repo, "concurrent@example.com")

	const workers = 6
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			_, _ = repo.RecordLoginFailure(ctx, account.ID, auth.LockoutThreshold, auth.LockoutDuration)
		}()
	}
	wg.Wait()

	// Six failures with threshold three: the lock was imposed at least once
	// and the counter never exceeded the threshold.
	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Less(t, stored.InvalidLoginAttempts, auth.LockoutThreshold)
	assert.NotNil(t, stored.AccountLockedUntil)
}

func TestAccountRepository_Integration_ConsumeResetCode(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	t.Run("consumes exactly once", func(t *testing.T) {
		account := createTestAccount(t, repo, "consume@example.com")
		require.NoError(t, repo.SetResetCode(ctx, account.ID, "123456", time.Now().Add(time.Hour)))

		id, email, err := repo.ConsumeResetCode(ctx, "123456", "$argon2id$newhash", time.Now())
		require.NoError(t, err)
		assert.Equal(t, account.ID, id)
		assert.Equal(t, account.Email, email)

		_, _, err = repo.ConsumeResetCode(ctx, "123456", "$argon2id$otherhash", time.Now())
		require.Error(t, err, "second consumption must fail")
		assert.ErrorIs(t, err, auth.ErrNotFound)

		stored, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "$argon2id$newhash", stored.PasswordHash)
		assert.Nil(t, stored.ResetKey)
		assert.Nil(t, stored.ResetExpires)
	})

	t.Run("expired code is not consumable", func(t *testing.T) {
		account := createTestAccount(t, repo, "expiredcode@example.com")
		require.NoError(t, repo.SetResetCode(ctx, account.ID, "654321", time.Now().Add(-time.Minute)))

		_, _, err := repo.ConsumeResetCode(ctx, "654321", "$argon2id$newhash", time.Now())
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_Integration(t *testing.T) {
	ctx := context.Background()
	accounts := postgres.NewAccountRepository(testPool)
	sessions := postgres.NewSessionRepository(testPool)

	t.Run("create, lookup, delete", func(t *testing.T) {
		account := createTestAccount(t, accounts, "sessions@example.com")
		_, hash, err := auth.GenerateSessionToken()
		require.NoError(t, err)

		session, err := auth.NewSession(account.ID, account.Email, nil, hash, time.Now().Add(auth.SessionTTL))
		require.NoError(t, err)
		require.NoError(t, sessions.Create(ctx, session))

		got, err := sessions.GetByTokenHash(ctx, hash, time.Now())
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)

		require.NoError(t, sessions.Delete(ctx, session.ID))
		_, err = sessions.GetByTokenHash(ctx, hash, time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("expired session is invisible and sweepable", func(t *testing.T) {
		account := createTestAccount(t, accounts, "expiredsession@example.com")
		_, hash, err := auth.GenerateSessionToken()
		require.NoError(t, err)

		session, err := auth.NewSession(account.ID, account.Email, nil, hash, time.Now().Add(time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, sessions.Create(ctx, session))

		time.Sleep(5 * time.Millisecond)
		_, err = sessions.GetByTokenHash(ctx, hash, time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound)

		count, err := sessions.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(1))
	})

	t.Run("delete by account removes all sessions", func(t *testing.T) {
		account := createTestAccount(t, accounts, "revoke@example.com")
		for range 3 {
			_, hash, err := auth.GenerateSessionToken()
			require.NoError(t, err)
			session, err := auth.NewSession(account.ID, account.Email, nil, hash, time.Now().Add(auth.SessionTTL))
			require.NoError(t, err)
			require.NoError(t, sessions.Create(ctx, session))
		}

		require.NoError(t, sessions.DeleteByAccount(ctx, account.ID))

		var remaining int
		err := testPool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE account_id = $1`,
			account.ID.String()).Scan(&remaining)
		require.NoError(t, err)
		assert.Zero(t, remaining)
	})
}

func TestResetTokenRepository_Integration(t *testing.T) {
	ctx := context.Background()
	tokens := postgres.NewResetTokenRepository(testPool)

	cleanup := func(email string) {
		t.Cleanup(func() {
			_, _ = testPool.Exec(ctx, `DELETE FROM reset_tokens WHERE email = $1`, email)
		})
	}

	t.Run("upsert replaces previous token for the email", func(t *testing.T) {
		cleanup("upsert@example.com")

		first, err := auth.NewResetToken("upsert@example.com", "hash-one", time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, tokens.Upsert(ctx, first))

		second, err := auth.NewResetToken("upsert@example.com", "hash-two", time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, tokens.Upsert(ctx, second))

		_, err = tokens.Consume(ctx, "hash-one", time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound, "replaced token must be dead")

		email, err := tokens.Consume(ctx, "hash-two", time.Now())
		require.NoError(t, err)
		assert.Equal(t, "upsert@example.com", email)
	})

	t.Run("consume is exactly once", func(t *testing.T) {
		cleanup("once@example.com")

		record, err := auth.NewResetToken("once@example.com", "once-hash", time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, tokens.Upsert(ctx, record))

		_, err = tokens.Consume(ctx, "once-hash", time.Now())
		require.NoError(t, err)

		_, err = tokens.Consume(ctx, "once-hash", time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("expired token is not consumable but sweepable", func(t *testing.T) {
		cleanup("stale@example.com")

		record, err := auth.NewResetToken("stale@example.com", "stale-hash", time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.NoError(t, tokens.Upsert(ctx, record))

		_, err = tokens.Consume(ctx, "stale-hash", time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound)

		count, err := tokens.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(1))
	})
}
