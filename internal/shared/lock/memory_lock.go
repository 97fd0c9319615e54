package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/auction-platform-poc/internal/shared/clock"
)

type memEntry struct {
	token    string
	expireAt time.Time
}

// MemoryLocker implementa Locker em memória com a mesma semântica do Redis
// (lease + compare-and-delete). Usado em testes e no ambiente local.
type MemoryLocker struct {
	clk clock.Clock

	mu    sync.Mutex
	locks map[string]memEntry
}

func NewMemoryLocker(clk clock.Clock) *MemoryLocker {
	return &MemoryLocker{clk: clk, locks: make(map[string]memEntry)}
}

func (l *MemoryLocker) Acquire(_ context.Context, resource string, ttl time.Duration) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	if e, ok := l.locks[resource]; ok && now.Before(e.expireAt) {
		return Handle{}, ErrNotAcquired
	}

	token := uuid.NewString()
	l.locks[resource] = memEntry{token: token, expireAt: now.Add(ttl)}
	return Handle{Resource: resource, Token: token}, nil
}

func (l *MemoryLocker) Release(_ context.Context, h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[h.Resource]; ok && e.token == h.Token {
		delete(l.locks, h.Resource)
	}
	return nil
}
