package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAcquired indica que o recurso já está travado por outro holder.
	// Não é fatal: o chamador responde "retry later".
	ErrNotAcquired = errors.New("lock not acquired")
)

// Handle identifica uma aquisição específica: o release só apaga o lock
// se o token ainda for o armazenado (compare-and-delete).
type Handle struct {
	Resource string
	Token    string
}

// Locker é o mutex distribuído com lease por recurso (id do leilão).
// Implementações: Redis (produção) e memória (testes/local).
type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (Handle, error)
	Release(ctx context.Context, h Handle) error
}
