package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevokedTokenRepo_Revoke(t *testing.T) {
	db, mock := newMock(t)
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT IGNORE INTO revoked_tokens").
		WithArgs("jti-1", uint64(3), exp).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT IGNORE INTO revoked_tokens").
		WithArgs("jti-1", uint64(3), exp).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewRevokedTokenRepo(db)
	fresh, err := repo.Revoke(context.Background(), "jti-1", 3, exp)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = repo.Revoke(context.Background(), "jti-1", 3, exp)
	require.NoError(t, err)
	assert.False(t, fresh)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokedTokenRepo_IsRevoked(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT 1 FROM revoked_tokens").WithArgs("yes").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM revoked_tokens").WithArgs("no").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT 1 FROM revoked_tokens").WithArgs("down").
		WillReturnError(errors.New("connection reset"))

	repo := NewRevokedTokenRepo(db)
	ok, err := repo.IsRevoked(context.Background(), "yes")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsRevoked(context.Background(), "no")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.IsRevoked(context.Background(), "down")
	assert.Error(t, err)
}

func TestRevokedTokenRepo_DeleteExpired(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM revoked_tokens WHERE expires_at <=").
		WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewRevokedTokenRepo(db).DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
