package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/radieske/auction-platform-poc/internal/shared/clock"
)

func TestMemoryLocker_AcquireAndBusy(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLocker(clk)
	ctx := context.Background()

	h1, err := l.Acquire(ctx, "auction-1", 5*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, h1.Token)

	// mesmo recurso ocupado; outro recurso livre
	_, err = l.Acquire(ctx, "auction-1", 5*time.Second)
	require.ErrorIs(t, err, ErrNotAcquired)

	_, err = l.Acquire(ctx, "auction-2", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, h1))
	_, err = l.Acquire(ctx, "auction-1", 5*time.Second)
	require.NoError(t, err)
}

func TestMemoryLocker_TTLExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLocker(clk)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "auction-1", 5*time.Second)
	require.NoError(t, err)

	clk.Advance(4 * time.Second)
	_, err = l.Acquire(ctx, "auction-1", 5*time.Second)
	require.ErrorIs(t, err, ErrNotAcquired)

	// lease vencido é considerado abandonado
	clk.Advance(2 * time.Second)
	_, err = l.Acquire(ctx, "auction-1", 5*time.Second)
	require.NoError(t, err)
}

func TestMemoryLocker_StaleReleaseIsNoop(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLocker(clk)
	ctx := context.Background()

	h1, err := l.Acquire(ctx, "auction-1", time.Second)
	require.NoError(t, err)

	// lease expira e outro holder readquire
	clk.Advance(2 * time.Second)
	h2, err := l.Acquire(ctx, "auction-1", 5*time.Second)
	require.NoError(t, err)

	// release com token antigo não pode derrubar o lock do novo holder
	require.NoError(t, l.Release(ctx, h1))
	_, err = l.Acquire(ctx, "auction-1", 5*time.Second)
	require.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, l.Release(ctx, h2))
}
