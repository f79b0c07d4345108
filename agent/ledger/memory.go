package ledger

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	status    status
	receipt   Receipt
	expiresAt time.Time
}

// MemoryLedger keeps reservations in process memory.
type MemoryLedger struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryLedger) Reserve(_ context.Context, key string) (*Receipt, error) {
	key, err := validKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		if e.status == statusCompleted {
			r := e.receipt
			return &r, nil
		}
		return nil, ErrInFlight
	}
	m.entries[key] = memoryEntry{status: statusPending, expiresAt: now.Add(m.ttl)}
	return nil, nil
}

func (m *MemoryLedger) Complete(_ context.Context, key string, receipt Receipt) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt.Key = key
	m.entries[key] = memoryEntry{status: statusCompleted, receipt: receipt, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryLedger) Release(_ context.Context, key string) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// sweepLocked drops expired entries at most once per TTL so keys that never
// come back do not accumulate. m.mu must be held.
func (m *MemoryLedger) sweepLocked(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.nextSweep = now.Add(m.ttl)
}
