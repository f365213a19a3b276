package model

import "time"

// User is a registered identity as stored in the `users` table. The id is
// immutable; PasswordHash changes only through an explicit password change
// or a transparent rehash on login.
//
// Fields:
//
//	ID           - primary key identifier of the user.
//	Email        - unique, lower-cased email address.
//	Username     - unique handle.
//	PasswordHash - PHC encoded argon2id digest (legacy rows may hold bcrypt).
//	IsActive     - deactivated accounts can no longer authenticate.
//	CreatedAt    - timestamp of creation.
//	UpdatedAt    - timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	Username     string    // users.username
	PasswordHash string    // users.password_hash
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}
