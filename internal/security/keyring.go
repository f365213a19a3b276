package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// KeyRing holds the process-wide RSA keypair. It is built once at startup and
// never mutated, so it can be shared by every request goroutine without a
// lock. A ring built with NewVerifyOnlyKeyRing carries no private key and can
// only check tokens.
type KeyRing struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// LoadKeyRing reads a PEM encoded private key (PKCS#1 or PKCS#8) and the
// matching PEM public key from disk. Any failure here is meant to stop the
// process.
func LoadKeyRing(privatePath, publicPath string) (*KeyRing, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return NewKeyRing(priv, pub)
}

// NewKeyRing builds a ring from already parsed keys. The public key must be
// the public half of priv.
func NewKeyRing(priv *rsa.PrivateKey, pub *rsa.PublicKey) (*KeyRing, error) {
	if priv == nil || pub == nil {
		return nil, errors.New("keyring: both keys are required")
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, errors.New("keyring: public key does not match private key")
	}
	return &KeyRing{private: priv, public: pub}, nil
}

// NewVerifyOnlyKeyRing builds a ring for services that only check tokens.
func NewVerifyOnlyKeyRing(pub *rsa.PublicKey) (*KeyRing, error) {
	if pub == nil {
		return nil, errors.New("keyring: public key is required")
	}
	return &KeyRing{public: pub}, nil
}

// CanSign reports whether the ring holds a private key.
func (k *KeyRing) CanSign() bool { return k.private != nil }

// Sign serializes claims as an RS256 JWT.
func (k *KeyRing) Sign(claims jwt.Claims) (string, error) {
	if k.private == nil {
		return "", ErrSigningUnavailable
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(k.private)
}

// Verify parses token into claims and checks its signature against the
// public key, plus whatever claim validation the parser options request.
// Errors are mapped onto the package taxonomy.
func (k *KeyRing) Verify(token string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		// reject non-canonical base64, otherwise the padding bits of the last
		// signature character can be flipped without invalidating the token
		jwt.WithStrictDecoding(),
	}, opts...)
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return k.public, nil
	}, opts...)
	if err == nil {
		return nil
	}
	return classify(err)
}

// classify maps jwt parser failures onto the taxonomy. Signature problems are
// checked before claim problems because the parser only validates claims of
// a token whose signature already verified. A signature segment that does not
// decode is a signature failure, not a malformed token.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed) && strings.Contains(err.Error(), "decode signature"):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
