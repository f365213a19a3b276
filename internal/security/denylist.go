package security

import (
	"context"
	"sync"
	"time"
)

// Denylist records revoked token identifiers until the token would have
// expired anyway.
type Denylist interface {
	// Revoke marks jti as revoked. It reports true when this call did the
	// revoking and false when jti was already on the list.
	Revoke(ctx context.Context, jti string, identityID uint64, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryDenylist is a single-process Denylist.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]time.Time)}
}

func (m *MemoryDenylist) Revoke(_ context.Context, jti string, _ uint64, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[jti]; ok {
		return false, nil
	}
	m.entries[jti] = expiresAt
	return true, nil
}

func (m *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[jti]
	return ok, nil
}

// Sweep drops entries whose token has expired and returns how many went.
func (m *MemoryDenylist) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for jti, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, jti)
			n++
		}
	}
	return n
}

// Len is the number of tracked identifiers.
func (m *MemoryDenylist) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run sweeps every interval until ctx is done.
func (m *MemoryDenylist) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Sweep(now)
		}
	}
}
