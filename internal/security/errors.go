// Package security holds the session-trust primitives: the RSA key ring that
// signs and verifies tokens, the password vault, and the token service that
// issues, validates and rotates access/refresh tokens.
package security

import "errors"

// Token validation failures. Callers at the API boundary must collapse all of
// them into a single unauthorized outcome; the distinction is for logs only.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrMalformedToken    = errors.New("malformed token")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrExpiredToken      = errors.New("expired token")
	ErrWrongTokenType    = errors.New("wrong token type")
	ErrRevokedToken      = errors.New("revoked token")
	ErrUnknownIdentity   = errors.New("unknown identity")
)

// ErrInvalidCredentials is returned by login flows whether the account or
// the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrSigningUnavailable is returned by a verify-only key ring asked to sign.
var ErrSigningUnavailable = errors.New("signing key not loaded")

// IsUnauthorized reports whether err belongs to the token/identity family
// that must surface as a plain 401.
func IsUnauthorized(err error) bool {
	for _, target := range []error{
		ErrMissingCredential,
		ErrMalformedToken,
		ErrInvalidSignature,
		ErrExpiredToken,
		ErrWrongTokenType,
		ErrRevokedToken,
		ErrUnknownIdentity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
