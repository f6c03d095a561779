package notification

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/rebill/internal/clock"
)

// Ledger remembers which notification keys have already been sent. Mark
// returns true only for the first caller of a key within the dedup window.
type Ledger interface {
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Sweep(ctx context.Context) error
}

// MemoryLedger is the single-process fallback when redis is not configured.
// Entries expire lazily on Mark and in bulk on Sweep.
type MemoryLedger struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryLedger(c clock.Clock) *MemoryLedger {
	return &MemoryLedger{
		clock:   c,
		entries: make(map[string]time.Time),
	}
}

func (l *MemoryLedger) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.entries[key]; ok && expiry.After(now) {
		return false, nil
	}
	l.entries[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Sweep(_ context.Context) error {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, expiry := range l.entries {
		if !expiry.After(now) {
			delete(l.entries, key)
		}
	}
	return nil
}

// Len reports the number of retained entries, expired or not.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
