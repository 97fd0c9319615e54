package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

// KafkaNotifier publica notificações no tópico consumido pelo
// notification-worker. Fire-and-forget do ponto de vista do motor de lances.
type KafkaNotifier struct {
	Writer *kafka.Writer
}

func NewKafkaNotifier(w *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{Writer: w}
}

func (n *KafkaNotifier) Notify(ctx context.Context, userID, auctionID, kind, message string) error {
	e := events.Notification{
		UserID:    userID,
		AuctionID: auctionID,
		Kind:      kind,
		Message:   message,
		Ts:        time.Now().UTC(),
	}
	b, _ := json.Marshal(e)
	return n.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(userID), Value: b})
}
