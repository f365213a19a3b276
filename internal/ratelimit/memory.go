package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	mu          sync.Mutex
	dead        bool
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
}

// MemoryStore keeps counters in process memory. Each key has its own lock,
// so callers for different identities never contend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

func (s *MemoryStore) lookup(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryStore) Take(_ context.Context, key string, now time.Time, p Policy) (Decision, error) {
	mStart, hStart := windowStarts(now)
	for {
		e := s.lookup(key)
		e.mu.Lock()
		if e.dead {
			// swept between lookup and lock
			e.mu.Unlock()
			continue
		}
		if mStart.After(e.minuteStart) {
			e.minuteStart, e.minuteCount = mStart, 0
		}
		if hStart.After(e.hourStart) {
			e.hourStart, e.hourCount = hStart, 0
		}
		d := decide(p, now, e.minuteStart, e.hourStart, e.minuteCount, e.hourCount)
		if d.Allowed {
			e.minuteCount++
			e.hourCount++
		}
		e.mu.Unlock()
		return d, nil
	}
}

// Sweep drops keys whose hour window has elapsed and returns how many went.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.entries {
		e.mu.Lock()
		if !now.Before(e.hourStart.Add(time.Hour)) {
			e.dead = true
			delete(s.entries, key)
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Len is the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}
