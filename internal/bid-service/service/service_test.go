package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/internal/bid-service/engine"
	"github.com/radieske/auction-platform-poc/internal/bid-service/repo"
	"github.com/radieske/auction-platform-poc/internal/shared/clock"
	"github.com/radieske/auction-platform-poc/internal/shared/idempotency"
	"github.com/radieske/auction-platform-poc/internal/shared/lock"
	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeLedger simula o ledger com a mesma disciplina de versão do Postgres.
type fakeLedger struct {
	snap      engine.AuctionSnapshot
	proxies   []engine.ProxyBid
	bids      []repo.Bid
	commits   []repo.Resolution
	commitErr error

	// simula um writer concorrente: a versão avança entre o snapshot
	// devolvido e o commit subsequente
	versionSkewOnce bool
}

func (f *fakeLedger) Auction(_ context.Context, _ string) (repo.Auction, error) {
	return repo.Auction{
		ID:                f.snap.ID,
		SellerID:          f.snap.SellerID,
		CurrentPriceCents: f.snap.CurrentPriceCents,
		IncrementCents:    f.snap.IncrementCents,
		StartTime:         f.snap.StartTime,
		EndTime:           f.snap.EndTime,
		Status:            f.snap.Status,
		Version:           f.snap.Version,
	}, nil
}

func (f *fakeLedger) AuctionForBidding(_ context.Context, _ string) (engine.AuctionSnapshot, []engine.ProxyBid, error) {
	snap := f.snap
	if f.versionSkewOnce {
		f.snap.Version++
		f.versionSkewOnce = false
	}
	return snap, f.proxies, nil
}

func (f *fakeLedger) CommitResolution(_ context.Context, res repo.Resolution) ([]repo.Bid, error) {
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	if res.ExpectedVersion != f.snap.Version {
		return nil, repo.ErrVersionConflict
	}

	f.commits = append(f.commits, res)
	f.snap.CurrentPriceCents = res.NewPriceCents
	f.snap.Version++
	if !res.NewEndTime.IsZero() {
		f.snap.EndTime = res.NewEndTime
	}

	var lastSeq int64
	if len(f.bids) > 0 {
		lastSeq = f.bids[len(f.bids)-1].Seq
	}
	inserted := make([]repo.Bid, 0, len(res.Bids))
	for i, br := range res.Bids {
		b := repo.Bid{
			ID:            uuid.NewString(),
			AuctionID:     res.AuctionID,
			BidderID:      br.BidderID,
			AmountCents:   br.AmountCents,
			Seq:           lastSeq + int64(i) + 1,
			ProxyResolved: br.ProxyResolved,
			CreatedAt:     testNow,
		}
		f.bids = append(f.bids, b)
		inserted = append(inserted, b)
	}
	if len(f.bids) > 0 {
		f.snap.LeaderID = f.bids[len(f.bids)-1].BidderID
	}

	if res.DeactivateProxyOf != "" {
		kept := f.proxies[:0]
		for _, p := range f.proxies {
			if p.BidderID != res.DeactivateProxyOf {
				kept = append(kept, p)
			}
		}
		f.proxies = kept
	}
	if res.Proxy != nil && res.Proxy.Active {
		f.proxies = append(f.proxies, engine.ProxyBid{
			AuctionID:      res.AuctionID,
			BidderID:       res.Proxy.BidderID,
			MaxAmountCents: res.Proxy.MaxAmountCents,
			CreatedAt:      testNow,
		})
	}
	return inserted, nil
}

func (f *fakeLedger) UpsertProxy(_ context.Context, auctionID string, up repo.ProxyUpsert) error {
	if up.Active {
		f.proxies = append(f.proxies, engine.ProxyBid{
			AuctionID:      auctionID,
			BidderID:       up.BidderID,
			MaxAmountCents: up.MaxAmountCents,
			CreatedAt:      testNow,
		})
	}
	return nil
}

func (f *fakeLedger) CancelProxy(_ context.Context, _ string, bidderID string) error {
	kept := f.proxies[:0]
	for _, p := range f.proxies {
		if p.BidderID != bidderID {
			kept = append(kept, p)
		}
	}
	f.proxies = kept
	return nil
}

func (f *fakeLedger) BidHistory(_ context.Context, _ string, limit int) ([]repo.Bid, error) {
	var out []repo.Bid
	for i := len(f.bids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.bids[i])
	}
	return out, nil
}

type fakeCache struct {
	snapshots   map[string]any
	invalidated int
}

func (f *fakeCache) SetSnapshot(_ context.Context, auctionID string, v any) error {
	if f.snapshots == nil {
		f.snapshots = make(map[string]any)
	}
	f.snapshots[auctionID] = v
	return nil
}

func (f *fakeCache) GetSnapshot(_ context.Context, _ string, _ any) (bool, error) { return false, nil }

func (f *fakeCache) InvalidateHistory(_ context.Context, _ string) error {
	f.invalidated++
	return nil
}

func (f *fakeCache) GetHistory(_ context.Context, _ string, _ any) (bool, error) { return false, nil }

func (f *fakeCache) SetHistory(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

type fakePublisher struct{ events []events.BidEvent }

func (f *fakePublisher) PublishBidEvent(_ context.Context, e events.BidEvent) error {
	f.events = append(f.events, e)
	return nil
}

type sentNotification struct{ UserID, Kind string }

type fakeNotifier struct{ sent []sentNotification }

func (f *fakeNotifier) Notify(_ context.Context, userID, _, kind, _ string) error {
	f.sent = append(f.sent, sentNotification{UserID: userID, Kind: kind})
	return nil
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type testEnv struct {
	svc    *Service
	ledger *fakeLedger
	cache  *fakeCache
	publ   *fakePublisher
	notif  *fakeNotifier
	locker *lock.MemoryLocker
	idem   *idempotency.MemoryStore
	clk    *clock.Fake
}

func newTestEnv(t *testing.T, limiter RateLimiter) *testEnv {
	t.Helper()

	clk := clock.NewFake(testNow)
	ledger := &fakeLedger{
		snap: engine.AuctionSnapshot{
			ID:                "a1",
			SellerID:          "seller",
			CurrentPriceCents: 10000,
			IncrementCents:    500,
			StartTime:         testNow.Add(-time.Hour),
			EndTime:           testNow.Add(time.Hour),
			SnipeWindow:       5 * time.Minute,
			Status:            engine.StatusActive,
			Version:           1,
		},
	}
	cache := &fakeCache{}
	publ := &fakePublisher{}
	notif := &fakeNotifier{}
	locker := lock.NewMemoryLocker(clk)
	idem := idempotency.NewMemoryStore(clk, 10*time.Second, time.Hour)

	svc := New(zap.NewNop(), ledger, cache, locker, idem, limiter, publ, notif, clk, 5*time.Second)
	return &testEnv{svc: svc, ledger: ledger, cache: cache, publ: publ, notif: notif, locker: locker, idem: idem, clk: clk}
}

func TestPlaceBid_HappyPath(t *testing.T) {
	env := newTestEnv(t, allowAll{})

	resp, err := env.svc.PlaceBid(context.Background(), "a1", "alice", 12000, "")
	require.NoError(t, err)

	require.Equal(t, int64(12000), resp.CurrentPriceCents)
	require.True(t, resp.IsWinning)
	require.False(t, resp.Duplicate)
	require.NotNil(t, resp.Bid)
	require.Equal(t, "alice", resp.Bid.BidderID)
	require.Equal(t, int64(1), resp.Bid.Seq)

	// commit único, cache sincronizado, evento publicado
	require.Len(t, env.ledger.commits, 1)
	require.Equal(t, 1, env.cache.invalidated)
	require.Len(t, env.publ.events, 1)
	require.Equal(t, events.TypeNewBid, env.publ.events[0].Type)
	require.Equal(t, int64(12000), env.publ.events[0].PriceCents)

	// mutex liberado
	h, err := env.locker.Acquire(context.Background(), "auction:a1", time.Second)
	require.NoError(t, err)
	_ = env.locker.Release(context.Background(), h)
}

func TestPlaceBid_IdempotentRetry(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	first, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "retry-key")
	require.NoError(t, err)

	second, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "retry-key")
	require.NoError(t, err)

	// resultado idêntico, marcado como duplicata, sem novo lançamento
	require.True(t, second.Duplicate)
	second.Duplicate = false
	require.Equal(t, first, second)
	require.Len(t, env.ledger.commits, 1)
	require.Len(t, env.publ.events, 1)
}

func TestPlaceBid_InFlightDuplicateRejected(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	key := idempotency.Fingerprint("k1", "", "", 0, testNow)
	chk, err := env.idem.CheckOrReserve(ctx, key)
	require.NoError(t, err)
	require.Equal(t, idempotency.StateReserved, chk.State)

	_, err = env.svc.PlaceBid(ctx, "a1", "alice", 12000, "k1")
	require.ErrorIs(t, err, ErrDuplicateInFlight)
	require.Empty(t, env.ledger.commits)
}

func TestPlaceBid_LockBusyClearsReservation(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	h, err := env.locker.Acquire(ctx, "auction:a1", 5*time.Second)
	require.NoError(t, err)

	_, err = env.svc.PlaceBid(ctx, "a1", "alice", 12000, "k1")
	require.ErrorIs(t, err, ErrLockBusy)
	require.Empty(t, env.ledger.commits)

	// a reserva de idempotência foi limpa: o retry com a mesma chave prossegue
	require.NoError(t, env.locker.Release(ctx, h))
	resp, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "k1")
	require.NoError(t, err)
	require.False(t, resp.Duplicate)
	require.Len(t, env.ledger.commits, 1)
}

func TestPlaceBid_RateLimited(t *testing.T) {
	env := newTestEnv(t, denyAll{})

	_, err := env.svc.PlaceBid(context.Background(), "a1", "alice", 12000, "")
	require.ErrorIs(t, err, ErrRateLimited)
	require.Empty(t, env.ledger.commits)
}

func TestPlaceBid_ValidationHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, allowAll{})

	_, err := env.svc.PlaceBid(context.Background(), "a1", "alice", 10499, "k1")
	require.ErrorIs(t, err, engine.ErrBidTooLow)
	require.Empty(t, env.ledger.commits)
	require.Empty(t, env.publ.events)

	// rejeição não deixa registro de idempotência para trás
	chk, err := env.idem.CheckOrReserve(context.Background(), idempotency.Fingerprint("k1", "", "", 0, testNow))
	require.NoError(t, err)
	require.Equal(t, idempotency.StateReserved, chk.State)
}

func TestPlaceBid_CommitFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	env.ledger.commitErr = errors.New("pg down")
	_, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "k1")
	require.Error(t, err)

	// falha transitória: mesma chave pode tentar de novo e concluir
	env.ledger.commitErr = nil
	resp, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "k1")
	require.NoError(t, err)
	require.False(t, resp.Duplicate)
	require.Len(t, env.ledger.commits, 1)
}

// flakyIdemStore deixa o registro do resultado falhar sob demanda, como um
// Redis que caiu logo depois do commit no Postgres.
type flakyIdemStore struct {
	*idempotency.MemoryStore
	completeErr error
}

func (s *flakyIdemStore) Complete(ctx context.Context, key string, payload []byte) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.MemoryStore.Complete(ctx, key, payload)
}

func TestPlaceBid_RetryAfterResultRecordLossRecoversOutcome(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	flaky := &flakyIdemStore{MemoryStore: env.idem, completeErr: errors.New("redis down")}
	svc := New(zap.NewNop(), env.ledger, env.cache, env.locker, flaky, allowAll{}, env.publ, env.notif, env.clk, 5*time.Second)

	// o commit passa, mas o resultado não é registrado
	first, err := svc.PlaceBid(ctx, "a1", "alice", 12000, "crash-key")
	require.NoError(t, err)
	require.True(t, first.IsWinning)
	require.Len(t, env.ledger.commits, 1)

	// a reserva pendente expira antes do retry chegar
	flaky.completeErr = nil
	env.clk.Advance(30 * time.Second)

	// o retry re-executa contra o ledger já com o lance aplicado; a resposta
	// original é reconstruída em vez de rejeitar o próprio lance como baixo
	second, err := svc.PlaceBid(ctx, "a1", "alice", 12000, "crash-key")
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	second.Duplicate = false
	require.Equal(t, first, second)
	require.Len(t, env.ledger.commits, 1)

	// o desfecho recuperado fica registrado: o próximo retry é um hit normal
	third, err := svc.PlaceBid(ctx, "a1", "alice", 12000, "crash-key")
	require.NoError(t, err)
	require.True(t, third.Duplicate)
	require.Len(t, env.ledger.commits, 1)
}

func TestPlaceBid_VersionConflictSurfacesAndIsRetryable(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	env.ledger.versionSkewOnce = true
	_, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "k1")
	require.ErrorIs(t, err, repo.ErrVersionConflict)
	require.Empty(t, env.ledger.commits)
	require.Empty(t, env.publ.events)

	// a reserva foi limpa; o retry lê o snapshot novo e conclui
	resp, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "k1")
	require.NoError(t, err)
	require.False(t, resp.Duplicate)
	require.Len(t, env.ledger.commits, 1)
}

func TestPlaceBid_SnipeProtectionExtendsEndTime(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	env.ledger.snap.EndTime = testNow.Add(2 * time.Minute)

	_, err := env.svc.PlaceBid(context.Background(), "a1", "alice", 12000, "")
	require.NoError(t, err)

	require.Len(t, env.ledger.commits, 1)
	require.Equal(t, testNow.Add(5*time.Minute), env.ledger.commits[0].NewEndTime)
	require.Equal(t, testNow.Add(5*time.Minute), env.ledger.snap.EndTime)
}

func TestPlaceBid_OutbidLeaderIsNotified(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	_, err := env.svc.PlaceBid(ctx, "a1", "alice", 12000, "")
	require.NoError(t, err)
	require.Empty(t, env.notif.sent)

	_, err = env.svc.PlaceBid(ctx, "a1", "bob", 13000, "")
	require.NoError(t, err)
	require.Equal(t, []sentNotification{{UserID: "alice", Kind: events.NotifyOutbid}}, env.notif.sent)
}

func TestPlaceBid_ProxyDefendsManualBid(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	env.ledger.proxies = []engine.ProxyBid{
		{AuctionID: "a1", BidderID: "alice", MaxAmountCents: 15000, CreatedAt: testNow.Add(-time.Minute)},
	}

	resp, err := env.svc.PlaceBid(context.Background(), "a1", "bob", 12000, "")
	require.NoError(t, err)

	require.Equal(t, int64(12500), resp.CurrentPriceCents)
	require.False(t, resp.IsWinning)
	require.NotNil(t, resp.Bid)
	require.Equal(t, int64(12000), resp.Bid.AmountCents)
	require.True(t, env.publ.events[0].IsProxyResolved)
}

func TestSetProxyBid_FreshProxyTakesLeadAtMinBid(t *testing.T) {
	env := newTestEnv(t, allowAll{})

	resp, err := env.svc.SetProxyBid(context.Background(), "a1", "alice", 20000)
	require.NoError(t, err)

	require.True(t, resp.Active)
	require.True(t, resp.IsWinning)
	require.Equal(t, int64(10500), resp.CurrentPriceCents)

	require.Len(t, env.ledger.commits, 1)
	require.NotNil(t, env.ledger.commits[0].Proxy)
	require.True(t, env.ledger.commits[0].Proxy.Active)
}

func TestSetProxyBid_OutbidOnArrivalIsStoredInactive(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	env.ledger.proxies = []engine.ProxyBid{
		{AuctionID: "a1", BidderID: "alice", MaxAmountCents: 20000, CreatedAt: testNow.Add(-time.Minute)},
	}

	resp, err := env.svc.SetProxyBid(context.Background(), "a1", "bob", 15000)
	require.NoError(t, err)

	require.False(t, resp.Active)
	require.False(t, resp.IsWinning)
	require.Equal(t, int64(15500), resp.CurrentPriceCents)

	require.NotNil(t, env.ledger.commits[0].Proxy)
	require.False(t, env.ledger.commits[0].Proxy.Active)
}

func TestPriceNeverDecreasesAcrossBids(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	_, err := env.svc.SetProxyBid(ctx, "a1", "alice", 15000)
	require.NoError(t, err)

	last := env.ledger.snap.CurrentPriceCents
	amounts := []int64{11000, 12000, 16000}
	bidders := []string{"bob", "carol", "bob"}
	for i := range amounts {
		resp, err := env.svc.PlaceBid(ctx, "a1", bidders[i], amounts[i], "")
		require.NoError(t, err)
		require.Greater(t, resp.CurrentPriceCents, last)
		last = resp.CurrentPriceCents
	}
}

func TestBidHistory_MostRecentFirst(t *testing.T) {
	env := newTestEnv(t, allowAll{})
	ctx := context.Background()

	_, err := env.svc.PlaceBid(ctx, "a1", "alice", 11000, "")
	require.NoError(t, err)
	_, err = env.svc.PlaceBid(ctx, "a1", "bob", 12000, "")
	require.NoError(t, err)

	hist, err := env.svc.BidHistory(ctx, "a1", 50)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "bob", hist[0].BidderID)
	require.Equal(t, "alice", hist[1].BidderID)
	require.Greater(t, hist[0].Seq, hist[1].Seq)
}
