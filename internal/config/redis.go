package config

// This file defines the Redis client constructor. Redis backs the shared
// rate limiter, the public portfolio response cache and the AI response
// cache. When no Redis is reachable the caller decides whether to degrade
// (caches) or refuse to start (a redis-backed rate limiter).

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters.  REDIS_ADDR is a host:port
// shorthand; REDIS_HOST and REDIS_PORT take precedence when both are set.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	TLS         bool
	DialTimeout time.Duration
}

func LoadRedisConfig() RedisConfig {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", "")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	return RedisConfig{
		Addr:        addr,
		Password:    envStr("REDIS_PASSWORD", ""),
		DB:          envInt("REDIS_DB", 0),
		TLS:         envBool("REDIS_TLS", false),
		DialTimeout: envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
	}
}

// NewRedisClient connects and pings with a short timeout.  The client is
// closed and an error returned when the server does not answer.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		TLSConfig:   tlsConf,
		DialTimeout: cfg.DialTimeout,
		// the limiter has a sub-millisecond budget; do not stall requests
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// String hides the password when the config is logged.
func (c RedisConfig) String() string {
	return "redis://" + c.Addr + "/" + strconv.Itoa(c.DB)
}
