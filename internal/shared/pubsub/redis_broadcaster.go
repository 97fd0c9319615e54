package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

// RedisBroadcaster publica eventos de resolução no canal Pub/Sub consumido
// pelo stream-service. Publicação é best-effort: falha aqui nunca desfaz um
// lance já commitado.
type RedisBroadcaster struct {
	r       *redis.Client
	channel string
}

func NewRedisBroadcaster(r *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, channel: channel}
}

func (b *RedisBroadcaster) PublishBidEvent(ctx context.Context, e events.BidEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.r.Publish(ctx, b.channel, payload).Err()
}
