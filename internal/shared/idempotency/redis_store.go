package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingMarker nunca colide com um resultado real (resultados são JSON).
const pendingMarker = "__pending__"

// RedisStore implementa Store sobre Redis.
// PendingTTL é independente do TTL do lock: uma requisição que morreu
// esperando o mutex não deixa a chave presa para sempre.
type RedisStore struct {
	Client     *redis.Client
	PendingTTL time.Duration
	ResultTTL  time.Duration
}

func NewRedisStore(c *redis.Client, pendingTTL, resultTTL time.Duration) *RedisStore {
	return &RedisStore{Client: c, PendingTTL: pendingTTL, ResultTTL: resultTTL}
}

func (s *RedisStore) CheckOrReserve(ctx context.Context, key string) (Check, error) {
	ok, err := s.Client.SetNX(ctx, key, pendingMarker, s.PendingTTL).Result()
	if err != nil {
		return Check{}, err
	}
	if ok {
		return Check{State: StateReserved}, nil
	}

	val, err := s.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		// marcador expirou entre o SETNX e o GET; trata como reserva perdida
		return Check{State: StateInProgress}, nil
	}
	if err != nil {
		return Check{}, err
	}
	if val == pendingMarker {
		return Check{State: StateInProgress}, nil
	}
	return Check{State: StateHit, Payload: []byte(val)}, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, payload []byte) error {
	return s.Client.Set(ctx, key, payload, s.ResultTTL).Err()
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.Client.Del(ctx, key).Err()
}
