package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedGenerator answers repeated prompts from redis. Cache failures are
// logged and fall through to the wrapped generator.
type CachedGenerator struct {
	next   Generator
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewCachedGenerator wraps next. A nil rdb returns next unchanged.
func NewCachedGenerator(next Generator, rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) Generator {
	if rdb == nil {
		return next
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedGenerator{next: next, rdb: rdb, ttl: ttl, prefix: "ai", log: log}
}

// CacheKey is the redis key for p.
func (g *CachedGenerator) CacheKey(p Prompt) string {
	buf, _ := json.Marshal(p)
	sum := sha256.Sum256(buf)
	return g.prefix + ":" + hex.EncodeToString(sum[:])
}

func (g *CachedGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	key := g.CacheKey(p)
	text, err := g.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return text, nil
	case !errors.Is(err, redis.Nil):
		g.log.Warn("ai cache read failed", "error", err)
	}

	text, err = g.next.Generate(ctx, p)
	if err != nil {
		return "", err
	}
	if err := g.rdb.Set(context.WithoutCancel(ctx), key, text, g.ttl).Err(); err != nil {
		g.log.Warn("ai cache write failed", "error", err)
	}
	return text, nil
}
