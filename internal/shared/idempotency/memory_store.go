package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/radieske/auction-platform-poc/internal/shared/clock"
)

type memRecord struct {
	payload  []byte // nil = in-progress
	expireAt time.Time
}

// MemoryStore implementa Store em memória, com a mesma máquina de estados
// do RedisStore. Usado em testes e no ambiente local.
type MemoryStore struct {
	clk        clock.Clock
	pendingTTL time.Duration
	resultTTL  time.Duration

	mu      sync.Mutex
	records map[string]memRecord
}

func NewMemoryStore(clk clock.Clock, pendingTTL, resultTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		clk:        clk,
		pendingTTL: pendingTTL,
		resultTTL:  resultTTL,
		records:    make(map[string]memRecord),
	}
}

func (s *MemoryStore) CheckOrReserve(_ context.Context, key string) (Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	if rec, ok := s.records[key]; ok && now.Before(rec.expireAt) {
		if rec.payload == nil {
			return Check{State: StateInProgress}, nil
		}
		return Check{State: StateHit, Payload: rec.payload}, nil
	}

	s.records[key] = memRecord{expireAt: now.Add(s.pendingTTL)}
	return Check{State: StateReserved}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = memRecord{payload: payload, expireAt: s.clk.Now().Add(s.resultTTL)}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}
