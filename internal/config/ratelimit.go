package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig controls the per-identity limiter guarding the AI
// generation endpoints.
type RateLimitConfig struct {
	Enabled       bool
	PerMinute     int
	PerHour       int
	Backend       string // "memory" or "redis"
	Prefix        string
	SweepInterval time.Duration
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:       envBool("RATE_LIMIT_ENABLED", true),
		PerMinute:     envInt("RATE_LIMIT_PER_MINUTE", 10),
		PerHour:       envInt("RATE_LIMIT_PER_HOUR", 100),
		Backend:       envStr("RATE_LIMIT_BACKEND", "memory"),
		Prefix:        envStr("RATE_LIMIT_PREFIX", "rl"),
		SweepInterval: envDur("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
	}
	if def.PerMinute < 1 {
		def.PerMinute = 1
	}
	if def.PerHour < def.PerMinute {
		def.PerHour = def.PerMinute
	}
	if def.Backend != "redis" {
		def.Backend = "memory"
	}
	if def.SweepInterval <= 0 {
		def.SweepInterval = 5 * time.Minute
	}
	return def
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
