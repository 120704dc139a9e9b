package cache

import (
	"context"
	"sync"
	"time"

	"points-lottery/internal/model"
)

// MemoryStore is the in-process cache used when no Redis address is configured.
// Entries expire after ttl like their Redis counterparts; zero keeps them forever.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	term    model.TermSnapshot
	termExp time.Time
	hasTerm bool
	pot     int64
	potExp  time.Time
	hasPot  bool
}

// NewMemoryStore creates an empty in-process cache.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now}
}

func (m *MemoryStore) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *MemoryStore) live(has bool, exp time.Time) bool {
	return has && (exp.IsZero() || m.now().Before(exp))
}

// Term returns the cached snapshot of the open term.
func (m *MemoryStore) Term(_ context.Context) (model.TermSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live(m.hasTerm, m.termExp) {
		return model.TermSnapshot{}, false, nil
	}
	return m.term, true, nil
}

// SetTerm replaces the cached snapshot.
func (m *MemoryStore) SetTerm(_ context.Context, snap model.TermSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term, m.termExp, m.hasTerm = snap, m.expiry(), true
	return nil
}

// Seed writes snap and pot unless a newer snapshot is cached.
func (m *MemoryStore) Seed(_ context.Context, snap model.TermSnapshot, pot int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(m.hasTerm, m.termExp) && newer(m.term, snap) {
		return false, nil
	}
	exp := m.expiry()
	m.term, m.termExp, m.hasTerm = snap, exp, true
	m.pot, m.potExp, m.hasPot = pot, exp, true
	return true, nil
}

// IncrTicketCount adds delta to the cached ticket count while the cache holds termID.
func (m *MemoryStore) IncrTicketCount(_ context.Context, termID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(m.hasTerm, m.termExp) && m.term.TermID == termID {
		m.term.TicketCount += delta
	}
	return nil
}

// Pot returns the cached pot.
func (m *MemoryStore) Pot(_ context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live(m.hasPot, m.potExp) {
		return 0, false, nil
	}
	return m.pot, true, nil
}

// SetPot replaces the cached pot.
func (m *MemoryStore) SetPot(_ context.Context, pot int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pot, m.potExp, m.hasPot = pot, m.expiry(), true
	return nil
}

// IncrPot adds delta to the cached pot while the cache holds termID.
func (m *MemoryStore) IncrPot(_ context.Context, termID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(m.hasTerm, m.termExp) && m.term.TermID == termID && m.live(m.hasPot, m.potExp) {
		m.pot += delta
	}
	return nil
}

// Reset drops both entries.
func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term, m.hasTerm = model.TermSnapshot{}, false
	m.pot, m.hasPot = 0, false
	return nil
}
