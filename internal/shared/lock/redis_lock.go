package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func lockKey(resource string) string { return "lock:" + resource }

// releaseScript apaga a chave apenas se o token ainda for o do chamador.
// Evita que um holder lento libere um lock que já expirou e foi readquirido.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implementa Locker sobre Redis com SET NX PX.
// O TTL limita a indisponibilidade após crash do holder.
type RedisLocker struct {
	Client *redis.Client
}

func NewRedisLocker(c *redis.Client) *RedisLocker {
	return &RedisLocker{Client: c}
}

func (l *RedisLocker) Acquire(ctx context.Context, resource string, ttl time.Duration) (Handle, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, lockKey(resource), token, ttl).Result()
	if err != nil {
		return Handle{}, err
	}
	if !ok {
		return Handle{}, ErrNotAcquired
	}
	return Handle{Resource: resource, Token: token}, nil
}

func (l *RedisLocker) Release(ctx context.Context, h Handle) error {
	return releaseScript.Run(ctx, l.Client, []string{lockKey(h.Resource)}, h.Token).Err()
}
