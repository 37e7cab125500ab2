// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
)

func TestResetTokenRepository_Upsert(t *testing.T) {
	t.Run("inserts or replaces by email", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		record, err := auth.NewResetToken("user@example.com", "somehash",
			time.Now().Add(auth.ResetCodeExpiry))
		require.NoError(t, err)

		mock.ExpectExec(`INSERT INTO reset_tokens .+ ON CONFLICT \(email\) DO UPDATE`).
			WithArgs(pgxmock.AnyArg(), record.Email, record.TokenHash,
				record.CreatedAt, record.ExpiresAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := postgres.NewResetTokenRepository(mock)
		require.NoError(t, repo.Upsert(context.Background(), record))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestResetTokenRepository_Consume(t *testing.T) {
	t.Run("deletes matching row and returns email", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectQuery(`DELETE FROM reset_tokens WHERE token_hash = \$1 AND expires_at > \$2 RETURNING email`).
			WithArgs("somehash", now).
			WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("user@example.com"))

		repo := postgres.NewResetTokenRepository(mock)
		email, err := repo.Consume(context.Background(), "somehash", now)
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", email)
	})

	t.Run("unknown or expired hash maps to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectQuery(`DELETE FROM reset_tokens WHERE token_hash = \$1 AND expires_at > \$2 RETURNING email`).
			WithArgs("unknownhash", now).
			WillReturnRows(pgxmock.NewRows([]string{"email"}))

		repo := postgres.NewResetTokenRepository(mock)
		_, err = repo.Consume(context.Background(), "unknownhash", now)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestResetTokenRepository_DeleteByEmail(t *testing.T) {
	t.Run("removes record", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM reset_tokens WHERE email = LOWER\(\$1\)`).
			WithArgs("user@example.com").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		repo := postgres.NewResetTokenRepository(mock)
		require.NoError(t, repo.DeleteByEmail(context.Background(), "user@example.com"))
	})
}

func TestResetTokenRepository_DeleteExpired(t *testing.T) {
	t.Run("returns deleted count", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectExec(`DELETE FROM reset_tokens WHERE expires_at <= \$1`).
			WithArgs(now).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))

		repo := postgres.NewResetTokenRepository(mock)
		count, err := repo.DeleteExpired(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})
}
