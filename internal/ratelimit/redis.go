package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript checks both window counters and increments them only when
// neither is at its ceiling. It returns {allowed, minuteCountBefore,
// hourCountBefore}.
var takeScript = redis.NewScript(`
	local m = tonumber(redis.call('GET', KEYS[1]) or '0')
	local h = tonumber(redis.call('GET', KEYS[2]) or '0')
	local limit_m = tonumber(ARGV[1])
	local limit_h = tonumber(ARGV[2])

	if m >= limit_m or h >= limit_h then
		return { 0, m, h }
	end

	local nm = redis.call('INCR', KEYS[1])
	local nh = redis.call('INCR', KEYS[2])
	if nm == 1 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
	if nh == 1 then redis.call('PEXPIRE', KEYS[2], ARGV[4]) end

	return { 1, nm - 1, nh - 1 }
`)

// RedisStore shares counters between instances. Each window lives in its own
// key named after the window start, so a stale window is simply a different
// key that expires on its own.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
}

func NewRedisStore(rdb redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) keys(key string, mStart, hStart time.Time) []string {
	// hash tag keeps both keys in one cluster slot
	base := s.prefix + ":{" + key + "}"
	return []string{
		base + ":m:" + strconv.FormatInt(mStart.Unix(), 10),
		base + ":h:" + strconv.FormatInt(hStart.Unix(), 10),
	}
}

func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, p Policy) (Decision, error) {
	mStart, hStart := windowStarts(now)
	mTTL := mStart.Add(time.Minute).Sub(now) + time.Second
	hTTL := hStart.Add(time.Hour).Sub(now) + time.Second

	vals, err := takeScript.Run(ctx, s.rdb, s.keys(key, mStart, hStart),
		p.PerMinute, p.PerHour, mTTL.Milliseconds(), hTTL.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return Decision{}, fmt.Errorf("unexpected script result %#v", vals)
	}
	return decide(p, now, mStart, hStart, int(asInt64(arr[1])), int(asInt64(arr[2]))), nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
