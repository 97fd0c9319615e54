package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/internal/bid-service/dto"
	"github.com/radieske/auction-platform-poc/internal/bid-service/engine"
	"github.com/radieske/auction-platform-poc/internal/bid-service/repo"
	"github.com/radieske/auction-platform-poc/internal/shared/clock"
	"github.com/radieske/auction-platform-poc/internal/shared/idempotency"
	"github.com/radieske/auction-platform-poc/internal/shared/lock"
	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

var (
	// ErrRateLimited: bidder estourou a janela de lances.
	ErrRateLimited = errors.New("bid rate limit exceeded")
	// ErrLockBusy: mutex do leilão ocupado; 429, o cliente tenta de novo.
	ErrLockBusy = errors.New("too many concurrent bids for this auction")
	// ErrDuplicateInFlight: requisição idêntica ainda em processamento.
	ErrDuplicateInFlight = errors.New("identical request in progress")
)

const historyTTL = 30 * time.Second

// Ledger é o contrato do ledger transacional consumido pelo serviço.
type Ledger interface {
	Auction(ctx context.Context, auctionID string) (repo.Auction, error)
	AuctionForBidding(ctx context.Context, auctionID string) (engine.AuctionSnapshot, []engine.ProxyBid, error)
	CommitResolution(ctx context.Context, res repo.Resolution) ([]repo.Bid, error)
	UpsertProxy(ctx context.Context, auctionID string, up repo.ProxyUpsert) error
	CancelProxy(ctx context.Context, auctionID, bidderID string) error
	BidHistory(ctx context.Context, auctionID string, limit int) ([]repo.Bid, error)
}

// Cache é a visão rápida de leitura mantida pelo sincronizador.
type Cache interface {
	SetSnapshot(ctx context.Context, auctionID string, v any) error
	GetSnapshot(ctx context.Context, auctionID string, dst any) (bool, error)
	InvalidateHistory(ctx context.Context, auctionID string) error
	GetHistory(ctx context.Context, auctionID string, dst any) (bool, error)
	SetHistory(ctx context.Context, auctionID string, v any, ttl time.Duration) error
}

// Publisher faz o fan-out best-effort dos eventos de resolução.
type Publisher interface {
	PublishBidEvent(ctx context.Context, e events.BidEvent) error
}

// Notifier é o colaborador de notificações, fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID, auctionID, kind, message string) error
}

// RateLimiter limita lances por bidder.
type RateLimiter interface {
	Allow(bidderID string) bool
}

// Service orquestra o fluxo do lance:
// rate limit → idempotência → mutex → resolução → commit → cache + broadcast.
type Service struct {
	log     *zap.Logger
	ledger  Ledger
	cache   Cache
	locker  lock.Locker
	idem    idempotency.Store
	limiter RateLimiter
	publ    Publisher
	notif   Notifier
	clk     clock.Clock

	lockTTL time.Duration

	OnBidAccepted func()             // métricas (counter++)
	OnBidRejected func(reason string) // métricas por motivo
	OnLockBusy    func()             // métricas
}

func New(
	log *zap.Logger,
	ledger Ledger,
	cache Cache,
	locker lock.Locker,
	idem idempotency.Store,
	limiter RateLimiter,
	publ Publisher,
	notif Notifier,
	clk clock.Clock,
	lockTTL time.Duration,
) *Service {
	return &Service{
		log:     log,
		ledger:  ledger,
		cache:   cache,
		locker:  locker,
		idem:    idem,
		limiter: limiter,
		publ:    publ,
		notif:   notif,
		clk:     clk,
		lockTTL: lockTTL,
	}
}

func lockResource(auctionID string) string { return "auction:" + auctionID }

// PlaceBid processa um lance manual com exactly-once para retries.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID string, amountCents int64, idemKey string) (dto.PlaceBidResponse, error) {
	if !s.limiter.Allow(bidderID) {
		s.reject("rate_limited")
		return dto.PlaceBidResponse{}, ErrRateLimited
	}

	now := s.clk.Now()
	key := idempotency.Fingerprint(idemKey, auctionID, bidderID, amountCents, now)

	chk, err := s.idem.CheckOrReserve(ctx, key)
	if err != nil {
		return dto.PlaceBidResponse{}, err
	}
	switch chk.State {
	case idempotency.StateHit:
		// retry de requisição já concluída: devolve o resultado cacheado,
		// byte-idêntico, sem novo efeito no ledger
		var resp dto.PlaceBidResponse
		if err := json.Unmarshal(chk.Payload, &resp); err != nil {
			return dto.PlaceBidResponse{}, err
		}
		resp.Duplicate = true
		return resp, nil
	case idempotency.StateInProgress:
		s.reject("in_flight_duplicate")
		return dto.PlaceBidResponse{}, ErrDuplicateInFlight
	}

	h, err := s.locker.Acquire(ctx, lockResource(auctionID), s.lockTTL)
	if err != nil {
		// a reserva não pode ficar presa: libera pro cliente tentar de novo
		_ = s.idem.Clear(ctx, key)
		if errors.Is(err, lock.ErrNotAcquired) {
			if s.OnLockBusy != nil {
				s.OnLockBusy()
			}
			return dto.PlaceBidResponse{}, ErrLockBusy
		}
		return dto.PlaceBidResponse{}, err
	}
	defer func() {
		if rerr := s.locker.Release(ctx, h); rerr != nil {
			s.log.Warn("lock release failed", zap.String("auctionId", auctionID), zap.Error(rerr))
		}
	}()

	in := engine.Input{BidderID: bidderID, AmountCents: amountCents, Now: now}
	out, bids, err := s.resolveAndCommit(ctx, auctionID, in)
	if err != nil {
		// se o processo caiu entre o commit e o registro do resultado, o retry
		// re-executa contra o ledger já atualizado e o próprio lance o rejeita
		// como baixo demais; reconhece esse caso e devolve o desfecho original
		if errors.Is(err, engine.ErrBidTooLow) {
			if resp, ok := s.recoverCommitted(ctx, auctionID, bidderID, amountCents); ok {
				payload, _ := json.Marshal(resp)
				if cerr := s.idem.Complete(ctx, key, payload); cerr != nil {
					s.log.Warn("idempotency record failed", zap.String("key", key), zap.Error(cerr))
				}
				resp.Duplicate = true
				return resp, nil
			}
		}
		_ = s.idem.Clear(ctx, key)
		return dto.PlaceBidResponse{}, err
	}

	resp := dto.PlaceBidResponse{
		CurrentPriceCents: out.PriceCents,
		IsWinning:         out.WinnerID == bidderID,
	}
	for i := range bids {
		if bids[i].BidderID == bidderID {
			resp.Bid = bidView(bids[i])
			break
		}
	}

	// cachear o resultado de forma síncrona fecha a janela de inconsistência
	// entre commit e registro de idempotência
	payload, _ := json.Marshal(resp)
	if err := s.idem.Complete(ctx, key, payload); err != nil {
		s.log.Warn("idempotency record failed", zap.String("key", key), zap.Error(err))
	}

	if s.OnBidAccepted != nil {
		s.OnBidAccepted()
	}
	return resp, nil
}

// recoverCommitted reconstrói a resposta de um lance que já está no ledger.
// Olha os dois lances mais recentes: o do chamador e, se um proxy defendeu,
// o lance de defesa logo acima dele.
func (s *Service) recoverCommitted(ctx context.Context, auctionID, bidderID string, amountCents int64) (dto.PlaceBidResponse, bool) {
	hist, err := s.ledger.BidHistory(ctx, auctionID, 2)
	if err != nil || len(hist) == 0 {
		return dto.PlaceBidResponse{}, false
	}

	for i := range hist {
		if hist[i].BidderID != bidderID || hist[i].AmountCents != amountCents || hist[i].ProxyResolved {
			continue
		}
		a, aerr := s.ledger.Auction(ctx, auctionID)
		if aerr != nil {
			return dto.PlaceBidResponse{}, false
		}
		return dto.PlaceBidResponse{
			Bid:               bidView(hist[i]),
			CurrentPriceCents: a.CurrentPriceCents,
			IsWinning:         hist[0].BidderID == bidderID,
		}, true
	}
	return dto.PlaceBidResponse{}, false
}

// SetProxyBid arma (ou sobe) o lance automático do bidder e o compete
// imediatamente contra os demais proxies ativos.
func (s *Service) SetProxyBid(ctx context.Context, auctionID, bidderID string, maxAmountCents int64) (dto.ProxyBidResponse, error) {
	if !s.limiter.Allow(bidderID) {
		s.reject("rate_limited")
		return dto.ProxyBidResponse{}, ErrRateLimited
	}

	h, err := s.locker.Acquire(ctx, lockResource(auctionID), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			if s.OnLockBusy != nil {
				s.OnLockBusy()
			}
			return dto.ProxyBidResponse{}, ErrLockBusy
		}
		return dto.ProxyBidResponse{}, err
	}
	defer func() {
		if rerr := s.locker.Release(ctx, h); rerr != nil {
			s.log.Warn("lock release failed", zap.String("auctionId", auctionID), zap.Error(rerr))
		}
	}()

	in := engine.Input{BidderID: bidderID, AmountCents: maxAmountCents, IsProxy: true, Now: s.clk.Now()}
	out, _, err := s.resolveAndCommit(ctx, auctionID, in)
	if err != nil {
		return dto.ProxyBidResponse{}, err
	}

	if s.OnBidAccepted != nil {
		s.OnBidAccepted()
	}
	return dto.ProxyBidResponse{
		AuctionID:         auctionID,
		BidderID:          bidderID,
		MaxAmountCents:    maxAmountCents,
		Active:            !out.NewProxyOutbid,
		CurrentPriceCents: out.PriceCents,
		IsWinning:         out.WinnerID == bidderID,
	}, nil
}

// CancelProxyBid desativa o proxy do chamador para o leilão.
func (s *Service) CancelProxyBid(ctx context.Context, auctionID, bidderID string) error {
	h, err := s.locker.Acquire(ctx, lockResource(auctionID), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return ErrLockBusy
		}
		return err
	}
	defer func() { _ = s.locker.Release(ctx, h) }()

	return s.ledger.CancelProxy(ctx, auctionID, bidderID)
}

// resolveAndCommit roda o engine sobre o snapshot e commita o resultado.
// O mutex já está adquirido pelo chamador.
func (s *Service) resolveAndCommit(ctx context.Context, auctionID string, in engine.Input) (engine.Outcome, []repo.Bid, error) {
	snap, proxies, err := s.ledger.AuctionForBidding(ctx, auctionID)
	if err != nil {
		return engine.Outcome{}, nil, err
	}

	out, err := engine.Resolve(snap, in, proxies)
	if err != nil {
		s.reject(rejectReason(err))
		return engine.Outcome{}, nil, err
	}

	if len(out.Bids) == 0 {
		// líder subindo o próprio máximo: só o proxy muda, preço intacto
		err := s.ledger.UpsertProxy(ctx, auctionID, repo.ProxyUpsert{
			BidderID:       in.BidderID,
			MaxAmountCents: in.AmountCents,
			Active:         true,
		})
		return out, nil, err
	}

	res := repo.Resolution{
		AuctionID:         auctionID,
		ExpectedVersion:   snap.Version,
		NewPriceCents:     out.PriceCents,
		NewEndTime:        out.NewEndTime,
		Bids:              out.Bids,
		DeactivateProxyOf: out.DeactivateProxyOf,
	}
	if in.IsProxy {
		res.Proxy = &repo.ProxyUpsert{
			BidderID:       in.BidderID,
			MaxAmountCents: in.AmountCents,
			Active:         !out.NewProxyOutbid,
		}
	}

	bids, err := s.ledger.CommitResolution(ctx, res)
	if err != nil {
		return engine.Outcome{}, nil, err
	}

	s.syncAfterCommit(ctx, snap, out, in)
	return out, bids, nil
}

// syncAfterCommit atualiza cache, broadcast e notificações. Tudo best-effort:
// o lance já está commitado e não volta atrás.
func (s *Service) syncAfterCommit(ctx context.Context, snap engine.AuctionSnapshot, out engine.Outcome, in engine.Input) {
	endTime := snap.EndTime
	if !out.NewEndTime.IsZero() {
		endTime = out.NewEndTime
	}
	view := dto.AuctionResponse{
		ID:                snap.ID,
		SellerID:          snap.SellerID,
		CurrentPriceCents: out.PriceCents,
		IncrementCents:    snap.IncrementCents,
		StartTime:         snap.StartTime,
		EndTime:           endTime,
		Status:            engine.StatusActive,
	}
	if err := s.cache.SetSnapshot(ctx, snap.ID, view); err != nil {
		s.log.Warn("cache snapshot sync failed", zap.String("auctionId", snap.ID), zap.Error(err))
	}
	if err := s.cache.InvalidateHistory(ctx, snap.ID); err != nil {
		s.log.Warn("cache history invalidation failed", zap.String("auctionId", snap.ID), zap.Error(err))
	}

	if err := s.publ.PublishBidEvent(ctx, events.BidEvent{
		Type:            events.TypeNewBid,
		AuctionID:       snap.ID,
		PriceCents:      out.PriceCents,
		WinnerID:        out.WinnerID,
		IsProxyResolved: out.ProxyResolved,
		Ts:              in.Now,
	}); err != nil {
		s.log.Warn("bid event publish failed", zap.String("auctionId", snap.ID), zap.Error(err))
	}

	if snap.LeaderID != "" && snap.LeaderID != out.WinnerID {
		if err := s.notif.Notify(ctx, snap.LeaderID, snap.ID, events.NotifyOutbid, "you have been outbid"); err != nil {
			s.log.Warn("outbid notification failed", zap.String("userId", snap.LeaderID), zap.Error(err))
		}
	}
}

// GetAuction devolve o snapshot de leitura, preferencialmente do cache.
func (s *Service) GetAuction(ctx context.Context, auctionID string) (dto.AuctionResponse, error) {
	var cached dto.AuctionResponse
	if ok, _ := s.cache.GetSnapshot(ctx, auctionID, &cached); ok {
		return cached, nil
	}

	a, err := s.ledger.Auction(ctx, auctionID)
	if err != nil {
		return dto.AuctionResponse{}, err
	}
	view := dto.AuctionResponse{
		ID:                a.ID,
		SellerID:          a.SellerID,
		CurrentPriceCents: a.CurrentPriceCents,
		IncrementCents:    a.IncrementCents,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		Status:            a.Status,
		Result:            a.Result,
		WinnerID:          a.WinnerID,
	}
	if err := s.cache.SetSnapshot(ctx, auctionID, view); err != nil {
		s.log.Warn("cache snapshot fill failed", zap.String("auctionId", auctionID), zap.Error(err))
	}
	return view, nil
}

// BidHistory devolve os lances mais recentes primeiro, com cache de leitura.
func (s *Service) BidHistory(ctx context.Context, auctionID string, limit int) ([]dto.BidView, error) {
	var cached []dto.BidView
	if ok, _ := s.cache.GetHistory(ctx, auctionID, &cached); ok {
		return cached, nil
	}

	bids, err := s.ledger.BidHistory(ctx, auctionID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]dto.BidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, *bidView(b))
	}
	if err := s.cache.SetHistory(ctx, auctionID, views, historyTTL); err != nil {
		s.log.Warn("cache history fill failed", zap.String("auctionId", auctionID), zap.Error(err))
	}
	return views, nil
}

func (s *Service) reject(reason string) {
	if s.OnBidRejected != nil {
		s.OnBidRejected(reason)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, engine.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, engine.ErrSellerBid):
		return "seller_bid"
	case errors.Is(err, engine.ErrAuctionEnded), errors.Is(err, engine.ErrAuctionNotActive):
		return "auction_not_active"
	default:
		return "other"
	}
}

func bidView(b repo.Bid) *dto.BidView {
	return &dto.BidView{
		ID:            b.ID,
		AuctionID:     b.AuctionID,
		BidderID:      b.BidderID,
		AmountCents:   b.AmountCents,
		Seq:           b.Seq,
		ProxyResolved: b.ProxyResolved,
		CreatedAt:     b.CreatedAt,
	}
}
