package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2Params are the argon2id cost parameters. Memory is in KiB.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params follows the RFC 9106 second recommended option scaled
// to 64 MiB.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 2, SaltLen: 16, KeyLen: 32}
}

// bounds applied to parameters read back from a stored digest
const (
	maxDigestMemory  = 1024 * 1024 // 1 GiB
	maxDigestTime    = 64
	maxDigestKeyLen  = 128
	minDigestSaltLen = 8
)

// PasswordVault hashes passwords with argon2id and verifies both argon2id and
// legacy bcrypt digests.
type PasswordVault struct {
	params Argon2Params
	rand   io.Reader

	dummyOnce sync.Once
	dummy     string
}

func NewPasswordVault(p Argon2Params) *PasswordVault {
	def := DefaultArgon2Params()
	if p.Time == 0 {
		p.Time = def.Time
	}
	if p.Memory == 0 {
		p.Memory = def.Memory
	}
	if p.Threads == 0 {
		p.Threads = def.Threads
	}
	if p.SaltLen == 0 {
		p.SaltLen = def.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = def.KeyLen
	}
	return &PasswordVault{params: p, rand: rand.Reader}
}

// Hash returns a PHC formatted argon2id digest with a fresh random salt.
func (v *PasswordVault) Hash(plain string) (string, error) {
	salt := make([]byte, v.params.SaltLen)
	if _, err := io.ReadFull(v.rand, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return v.digest(plain, salt), nil
}

func (v *PasswordVault) digest(plain string, salt []byte) string {
	key := argon2.IDKey([]byte(plain), salt, v.params.Time, v.params.Memory, v.params.Threads, v.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, v.params.Memory, v.params.Time, v.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// Verify reports whether plain matches digest. A malformed digest simply
// fails verification.
func (v *PasswordVault) Verify(plain, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
	}
	d, ok := parseArgon2(digest)
	if !ok {
		return false
	}
	key := argon2.IDKey([]byte(plain), d.salt, d.params.Time, d.params.Memory, d.params.Threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash on
// the next successful login: bcrypt digests and argon2id digests weaker than
// the vault's current parameters.
func (v *PasswordVault) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	d, ok := parseArgon2(digest)
	if !ok {
		return true
	}
	return d.params.Time < v.params.Time ||
		d.params.Memory < v.params.Memory ||
		d.params.Threads < v.params.Threads ||
		uint32(len(d.key)) < v.params.KeyLen
}

// DummyVerify spends one verification on a throwaway digest. Login calls it
// when the account does not exist so both failure paths cost the same.
func (v *PasswordVault) DummyVerify(plain string) {
	v.dummyOnce.Do(func() {
		d, err := v.Hash("dummy-password-for-timing")
		if err != nil {
			// a fixed salt still costs a full derivation
			d = v.digest("dummy-password-for-timing", make([]byte, v.params.SaltLen))
		}
		v.dummy = d
	})
	_ = v.Verify(plain, v.dummy)
}

type argon2Digest struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func parseArgon2(digest string) (argon2Digest, bool) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return argon2Digest{}, false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argon2Digest{}, false
	}
	var (
		memory, tm uint32
		threads    uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &tm, &threads); err != nil {
		return argon2Digest{}, false
	}
	if memory == 0 || memory > maxDigestMemory || tm == 0 || tm > maxDigestTime || threads == 0 {
		return argon2Digest{}, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minDigestSaltLen {
		return argon2Digest{}, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxDigestKeyLen {
		return argon2Digest{}, false
	}
	return argon2Digest{
		params: Argon2Params{Time: tm, Memory: memory, Threads: threads, SaltLen: uint32(len(salt)), KeyLen: uint32(len(key))},
		salt:   salt,
		key:    key,
	}, true
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}
