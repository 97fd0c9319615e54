package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuctionCache mantém a visão rápida de leitura: snapshot do leilão e
// histórico de lances. Invalidada/regravada a cada resolução commitada.
type AuctionCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewAuctionCache(c *redis.Client, ttl time.Duration) *AuctionCache {
	return &AuctionCache{Client: c, TTL: ttl}
}

func keySnapshot(auctionID string) string { return "auction:current:" + auctionID }
func keyHistory(auctionID string) string  { return "auction:bids:" + auctionID }

// SetSnapshot regrava o snapshot do leilão (write-through pós-commit).
func (c *AuctionCache) SetSnapshot(ctx context.Context, auctionID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, keySnapshot(auctionID), b, c.TTL).Err()
}

// GetSnapshot lê o snapshot cacheado; false = miss.
func (c *AuctionCache) GetSnapshot(ctx context.Context, auctionID string, dst any) (bool, error) {
	b, err := c.Client.Get(ctx, keySnapshot(auctionID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

// InvalidateSnapshot derruba o snapshot cacheado. Usado no fechamento, onde
// ninguém regrava a visão e o snapshot ACTIVE ficaria servindo até o TTL.
func (c *AuctionCache) InvalidateSnapshot(ctx context.Context, auctionID string) error {
	return c.Client.Del(ctx, keySnapshot(auctionID)).Err()
}

// InvalidateHistory derruba a lista de lances; o read path repovoa.
func (c *AuctionCache) InvalidateHistory(ctx context.Context, auctionID string) error {
	return c.Client.Del(ctx, keyHistory(auctionID)).Err()
}

// GetHistory lê o histórico cacheado; false = miss.
func (c *AuctionCache) GetHistory(ctx context.Context, auctionID string, dst any) (bool, error) {
	b, err := c.Client.Get(ctx, keyHistory(auctionID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

// SetHistory grava o histórico com TTL curto (preenchido pelo read path).
func (c *AuctionCache) SetHistory(ctx context.Context, auctionID string, v any, ttl time.Duration) error {
	b, _ := json.Marshal(v)
	return c.Client.Set(ctx, keyHistory(auctionID), b, ttl).Err()
}
