package security

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType is carried inside the signed claims so a token can never be used
// for a purpose it was not minted for.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Claims is the signed payload of every token.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Token is an issued, signed token and the metadata the caller needs to hand
// it out.
type Token struct {
	Value     string
	Type      TokenType
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pair is what login and refresh return.
type Pair struct {
	Access  Token
	Refresh Token
}

// Session is the result of a successful validation.
type Session struct {
	IdentityID uint64
	TokenID    string
	Type       TokenType
	ExpiresAt  time.Time
}

// TokenConfig holds token lifetimes and the issuer stamped into claims.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

// TokenService issues and validates tokens. Validation touches no shared
// mutable state except the optional denylist.
type TokenService struct {
	keys     *KeyRing
	cfg      TokenConfig
	now      func() time.Time
	denylist Denylist

	decoyOnce sync.Once
	decoy     string
}

type TokenOption func(*TokenService)

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithDenylist enables revocation checks and refresh-token rotation.
func WithDenylist(d Denylist) TokenOption {
	return func(s *TokenService) { s.denylist = d }
}

func NewTokenService(keys *KeyRing, cfg TokenConfig, opts ...TokenOption) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	s := &TokenService{keys: keys, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AccessTTL is the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

func (s *TokenService) IssueAccessToken(identityID uint64) (Token, error) {
	return s.issue(identityID, TypeAccess, s.cfg.AccessTTL)
}

func (s *TokenService) IssueRefreshToken(identityID uint64) (Token, error) {
	return s.issue(identityID, TypeRefresh, s.cfg.RefreshTTL)
}

// IssuePair mints a fresh access and refresh token for identityID.
func (s *TokenService) IssuePair(identityID uint64) (Pair, error) {
	access, err := s.IssueAccessToken(identityID)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.IssueRefreshToken(identityID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (s *TokenService) issue(identityID uint64, typ TokenType, ttl time.Duration) (Token, error) {
	now := s.now().UTC()
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(ttl))
	id := uuid.NewString()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(identityID, 10),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  iat,
			NotBefore: iat,
			ExpiresAt: exp,
			ID:        id,
		},
	}
	signed, err := s.keys.Sign(claims)
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Token{Value: signed, Type: typ, ID: id, IssuedAt: iat.Time, ExpiresAt: exp.Time}, nil
}

// Validate checks signature, expiry, issuer and token type, then consults the
// denylist. The returned error wraps one of ErrMalformedToken,
// ErrInvalidSignature, ErrExpiredToken, ErrWrongTokenType or ErrRevokedToken.
func (s *TokenService) Validate(ctx context.Context, token string, expected TokenType) (Session, error) {
	if token == "" {
		return Session{}, ErrMalformedToken
	}
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	var claims Claims
	if err := s.keys.Verify(token, &claims, opts...); err != nil {
		return Session{}, err
	}
	if claims.Type != expected {
		return Session{}, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.Type, expected)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return Session{}, fmt.Errorf("%w: bad subject %q", ErrMalformedToken, claims.Subject)
	}
	if claims.ID == "" {
		return Session{}, fmt.Errorf("%w: missing token id", ErrMalformedToken)
	}
	sess := Session{IdentityID: id, TokenID: claims.ID, Type: claims.Type, ExpiresAt: claims.ExpiresAt.Time.UTC()}

	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			// fail closed
			return Session{}, fmt.Errorf("%w: denylist lookup: %v", ErrRevokedToken, err)
		}
		if revoked {
			return Session{}, ErrRevokedToken
		}
	}
	return sess, nil
}

// DummyVerify spends one signature verification on a throwaway token. The
// session guard calls it when no credential was presented so that path costs
// about the same as a rejected token. A verify-only ring has nothing to sign
// the decoy with and skips the work.
func (s *TokenService) DummyVerify() {
	s.decoyOnce.Do(func() {
		now := time.Now().UTC()
		s.decoy, _ = s.keys.Sign(Claims{
			Type: TypeAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "0",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(100 * 365 * 24 * time.Hour)),
				ID:        "decoy",
			},
		})
	})
	if s.decoy == "" {
		return
	}
	var claims Claims
	_ = s.keys.Verify(s.decoy, &claims, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
}

// Refresh validates a refresh token and returns a new access token together
// with a rotated refresh token. With a denylist configured the presented
// refresh token is consumed, so replaying it fails with ErrRevokedToken.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	sess, err := s.Validate(ctx, refreshToken, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	if s.denylist != nil {
		fresh, err := s.denylist.Revoke(ctx, sess.TokenID, sess.IdentityID, sess.ExpiresAt)
		if err != nil {
			return Pair{}, fmt.Errorf("consume refresh token: %w", err)
		}
		if !fresh {
			return Pair{}, ErrRevokedToken
		}
	}
	return s.IssuePair(sess.IdentityID)
}

// Revoke puts a validated token on the denylist until it would have expired.
// Without a denylist it is a no-op.
func (s *TokenService) Revoke(ctx context.Context, sess Session) error {
	if s.denylist == nil {
		return nil
	}
	_, err := s.denylist.Revoke(ctx, sess.TokenID, sess.IdentityID, sess.ExpiresAt)
	return err
}
