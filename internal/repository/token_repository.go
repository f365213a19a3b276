package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RevokedTokenRepo is the MySQL denylist of token ids.  It satisfies
// security.Denylist.
type RevokedTokenRepo struct{ DB *sql.DB }

func NewRevokedTokenRepo(db *sql.DB) *RevokedTokenRepo { return &RevokedTokenRepo{DB: db} }

// Revoke inserts jti.  It reports false when the id was already revoked,
// which is how refresh-token replay is detected.
func (r *RevokedTokenRepo) Revoke(ctx context.Context, jti string, userID uint64, exp time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO revoked_tokens (jti, user_id, expires_at) VALUES (?,?,?)",
		jti, userID, exp.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsRevoked reports whether jti is on the denylist.
func (r *RevokedTokenRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_tokens WHERE jti=? LIMIT 1", jti).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteExpired purges rows for tokens that have expired on their own.
func (r *RevokedTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
