// Package ratelimit admits or denies calls per identity using two fixed
// windows, one per minute and one per hour. Fixed windows allow a burst of
// up to twice the ceiling across a boundary; that is accepted in exchange for
// O(1) state per key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps any backend failure. The limiter denies when it
// sees one.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Policy holds the ceilings for both windows.
type Policy struct {
	PerMinute int
	PerHour   int
}

// Window describes one granularity's quota after a decision.
type Window struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Decision is the outcome of Admit. RetryAfter is zero when Allowed.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Minute     Window
	Hour       Window
}

// Store performs an atomic check-then-increment of both windows for key.
// Denied calls must not consume quota.
type Store interface {
	Take(ctx context.Context, key string, now time.Time, p Policy) (Decision, error)
}

// Limiter applies one Policy over a Store.
type Limiter struct {
	store  Store
	policy Policy
}

func New(store Store, p Policy) *Limiter {
	if p.PerMinute < 1 {
		p.PerMinute = 1
	}
	if p.PerHour < 1 {
		p.PerHour = 1
	}
	return &Limiter{store: store, policy: p}
}

func (l *Limiter) Policy() Policy { return l.policy }

// Admit decides whether key may make one more call at now. On a store error
// the returned decision is a denial and the error wraps ErrStoreUnavailable.
func (l *Limiter) Admit(ctx context.Context, key string, now time.Time) (Decision, error) {
	d, err := l.store.Take(ctx, key, now, l.policy)
	if err != nil {
		mStart, hStart := windowStarts(now)
		d = Decision{
			Allowed:    false,
			RetryAfter: time.Second,
			Minute:     Window{Limit: l.policy.PerMinute, Remaining: 0, Reset: mStart.Add(time.Minute)},
			Hour:       Window{Limit: l.policy.PerHour, Remaining: 0, Reset: hStart.Add(time.Hour)},
		}
		return d, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return d, nil
}

func windowStarts(now time.Time) (minute, hour time.Time) {
	return now.Truncate(time.Minute), now.Truncate(time.Hour)
}

// decide turns the pre-call counts of both windows into a Decision. When a
// call is denied, RetryAfter points at the reset of the exhausted window; if
// both are exhausted, the sooner of the two resets.
func decide(p Policy, now, mStart, hStart time.Time, mCount, hCount int) Decision {
	mReset := mStart.Add(time.Minute)
	hReset := hStart.Add(time.Hour)
	mFull := mCount >= p.PerMinute
	hFull := hCount >= p.PerHour

	if mFull || hFull {
		var retry time.Duration
		switch {
		case mFull && hFull:
			retry = min(mReset.Sub(now), hReset.Sub(now))
		case mFull:
			retry = mReset.Sub(now)
		default:
			retry = hReset.Sub(now)
		}
		if retry <= 0 {
			retry = time.Second
		}
		return Decision{
			Allowed:    false,
			RetryAfter: retry,
			Minute:     Window{Limit: p.PerMinute, Remaining: remaining(p.PerMinute, mCount), Reset: mReset},
			Hour:       Window{Limit: p.PerHour, Remaining: remaining(p.PerHour, hCount), Reset: hReset},
		}
	}
	return Decision{
		Allowed: true,
		Minute:  Window{Limit: p.PerMinute, Remaining: remaining(p.PerMinute, mCount+1), Reset: mReset},
		Hour:    Window{Limit: p.PerHour, Remaining: remaining(p.PerHour, hCount+1), Reset: hReset},
	}
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
