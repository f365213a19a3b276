package config // package config loads application configuration from environment variables

import (
	"log" // log is used to report configuration errors and halt execution
	"os"  // os provides access to environment variables
	"time"
)

// Config holds the runtime configuration of the API process. Required values
// are enforced by must(); everything else falls back to a default.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	DBUser string
	DBPass string // empty allowed
	DBHost string
	DBPort string
	DBName string

	PrivateKeyPath string // PEM private key used to sign tokens
	PublicKeyPath  string // PEM public key used to verify tokens
	Issuer         string // iss claim stamped into every token
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days

	Argon2Time      uint32 // argon2id iterations
	Argon2MemoryKiB uint32 // argon2id memory cost
	Argon2Threads   uint8  // argon2id parallelism

	RevocationSweep time.Duration // how often expired denylist rows are purged
	MigrateOnStart  bool
	SentryDSN       string
}

// Load reads configuration values from environment variables.
func Load() Config {
	return Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		PrivateKeyPath: must("JWT_PRIVATE_KEY_PATH"),
		PublicKeyPath:  must("JWT_PUBLIC_KEY_PATH"),
		Issuer:         envStr("JWT_ISSUER", "portfolio-builder"),
		AccessTTLMin:   envInt("ACCESS_TOKEN_TTL_MIN", 15),
		RefreshTTLDays: envInt("REFRESH_TOKEN_TTL_DAYS", 7),

		Argon2Time:      uint32(envInt("ARGON2_TIME", 3)),
		Argon2MemoryKiB: uint32(envInt("ARGON2_MEMORY_KIB", 64*1024)),
		Argon2Threads:   uint8(envInt("ARGON2_THREADS", 2)),

		RevocationSweep: envDur("REVOCATION_SWEEP_INTERVAL", 10*time.Minute),
		MigrateOnStart:  envBool("DB_MIGRATE", true),
		SentryDSN:       os.Getenv("SENTRY_DSN"),
	}
}

// AccessTTL converts AccessTTLMin into a duration.
func (c Config) AccessTTL() time.Duration { return time.Duration(c.AccessTTLMin) * time.Minute }

// RefreshTTL converts RefreshTTLDays into a duration.
func (c Config) RefreshTTL() time.Duration { return time.Duration(c.RefreshTTLDays) * 24 * time.Hour }

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
