package closer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/internal/bid-service/repo"
	"github.com/radieske/auction-platform-poc/internal/shared/clock"
	"github.com/radieske/auction-platform-poc/internal/shared/lock"
	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

// Ledger é o recorte do ledger usado no encerramento.
type Ledger interface {
	DueAuctions(ctx context.Context, now time.Time, limit int) ([]string, error)
	CloseAuction(ctx context.Context, auctionID string, now time.Time, force bool) (repo.CloseResult, error)
}

// Publisher emite o evento auction_ended para os assinantes.
type Publisher interface {
	PublishBidEvent(ctx context.Context, e events.BidEvent) error
}

// Notifier entrega notificações de encerramento, fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID, auctionID, kind, message string) error
}

// ReadCache derruba a visão cacheada do leilão depois do fechamento; sem
// isso o GET seguiria servindo ACTIVE até o TTL do snapshot vencer.
type ReadCache interface {
	InvalidateSnapshot(ctx context.Context, auctionID string) error
	InvalidateHistory(ctx context.Context, auctionID string) error
}

// Closer detecta leilões vencidos e os finaliza. Disputa o mesmo mutex do
// fluxo de lances: para efeito de serialização é só mais um "bidder".
type Closer struct {
	Log    *zap.Logger
	Ledger Ledger
	Locker lock.Locker
	Publ   Publisher
	Notif  Notifier
	Cache  ReadCache // opcional
	Clk    clock.Clock

	LockTTL      time.Duration
	PollInterval time.Duration
	BatchSize    int

	OnClosed func(result string) // métricas (counter por resultado)
	OnError  func()              // métricas
}

// Run roda o loop de polling até o contexto ser cancelado. A espera sai do
// relógio injetado, então o loop anda junto com o clock fake nos testes.
func (c *Closer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Clk.After(c.PollInterval):
			c.ScanOnce(ctx)
		}
	}
}

// ScanOnce processa um ciclo: busca vencidos e tenta encerrar um a um.
// Falha em um leilão não bloqueia os demais; o próximo ciclo re-tenta.
func (c *Closer) ScanOnce(ctx context.Context) {
	now := c.Clk.Now()
	ids, err := c.Ledger.DueAuctions(ctx, now, c.BatchSize)
	if err != nil {
		c.Log.Warn("due auctions query failed", zap.Error(err))
		if c.OnError != nil {
			c.OnError()
		}
		return
	}

	for _, id := range ids {
		if _, err := c.CloseOne(ctx, id, false); err != nil {
			switch {
			case errors.Is(err, lock.ErrNotAcquired):
				// lance de último segundo em andamento; próximo ciclo resolve
				c.Log.Debug("auction locked, skipping", zap.String("auctionId", id))
			case errors.Is(err, repo.ErrNotDue), errors.Is(err, repo.ErrNotActive):
				// snipe protection empurrou o fim, ou outro processo já fechou
				c.Log.Debug("auction no longer closable", zap.String("auctionId", id))
			default:
				c.Log.Error("auction close failed", zap.String("auctionId", id), zap.Error(err))
				if c.OnError != nil {
					c.OnError()
				}
			}
		}
	}
}

// CloseOne serializa contra lances em voo e finaliza o leilão.
// force ignora o end_time (admin force-close).
func (c *Closer) CloseOne(ctx context.Context, auctionID string, force bool) (repo.CloseResult, error) {
	h, err := c.Locker.Acquire(ctx, "auction:"+auctionID, c.LockTTL)
	if err != nil {
		return repo.CloseResult{}, err
	}
	defer func() {
		if rerr := c.Locker.Release(ctx, h); rerr != nil {
			c.Log.Warn("lock release failed", zap.String("auctionId", auctionID), zap.Error(rerr))
		}
	}()

	now := c.Clk.Now()
	res, err := c.Ledger.CloseAuction(ctx, auctionID, now, force)
	if err != nil {
		return repo.CloseResult{}, err
	}

	c.Log.Info("auction closed",
		zap.String("auctionId", auctionID),
		zap.String("result", res.Result),
		zap.String("winnerId", res.WinnerID),
	)
	if c.OnClosed != nil {
		c.OnClosed(res.Result)
	}

	// pós-commit best-effort: broadcast e notificações nunca desfazem o fechamento
	if c.Cache != nil {
		if err := c.Cache.InvalidateSnapshot(ctx, auctionID); err != nil {
			c.Log.Warn("snapshot invalidation failed", zap.String("auctionId", auctionID), zap.Error(err))
		}
		if err := c.Cache.InvalidateHistory(ctx, auctionID); err != nil {
			c.Log.Warn("history invalidation failed", zap.String("auctionId", auctionID), zap.Error(err))
		}
	}
	if err := c.Publ.PublishBidEvent(ctx, events.BidEvent{
		Type:       events.TypeAuctionEnded,
		AuctionID:  auctionID,
		PriceCents: res.FinalPriceCents,
		WinnerID:   res.WinnerID,
		Result:     res.Result,
		Ts:         now,
	}); err != nil {
		c.Log.Warn("auction_ended publish failed", zap.String("auctionId", auctionID), zap.Error(err))
	}

	c.notifyAll(ctx, res)
	return res, nil
}

func (c *Closer) notifyAll(ctx context.Context, res repo.CloseResult) {
	notify := func(userID, kind, msg string) {
		if err := c.Notif.Notify(ctx, userID, res.AuctionID, kind, msg); err != nil {
			c.Log.Warn("close notification failed",
				zap.String("userId", userID),
				zap.String("auctionId", res.AuctionID),
				zap.Error(err),
			)
		}
	}

	switch res.Result {
	case repo.ResultWinner:
		notify(res.WinnerID, events.NotifyAuctionWon,
			fmt.Sprintf("you won the auction at %d cents", res.FinalPriceCents))
		notify(res.SellerID, events.NotifyAuctionClosed,
			fmt.Sprintf("your auction sold for %d cents", res.FinalPriceCents))
	case repo.ResultReserveNotMet:
		// o maior lance fica registrado para o vendedor mesmo sem venda
		notify(res.SellerID, events.NotifyAuctionClosed,
			fmt.Sprintf("reserve not met; highest bid was %d cents", res.HighBidCents))
	case repo.ResultNoBids:
		notify(res.SellerID, events.NotifyAuctionClosed, "your auction ended with no bids")
	}

	for _, loser := range res.Losers {
		notify(loser, events.NotifyAuctionLost, "the auction you bid on has ended")
	}
}
