package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

// Sink persiste a notificação na caixa de entrada do usuário.
type Sink interface {
	Insert(ctx context.Context, n events.Notification) error
}

// DLQ recebe a mensagem crua quando o processamento falha de vez.
type DLQ interface {
	Send(ctx context.Context, key string, payload []byte) error
}

// Consumer processa notificações do tópico Kafka e as entrega ao Sink.
type Consumer struct {
	Log  *zap.Logger
	Sink Sink
	Dlq  DLQ // pode ser nil

	Retries int           // tentativas de persistência antes da DLQ
	Backoff time.Duration // espera entre tentativas

	OnDelivered    func()
	OnDeadLettered func()
}

// ProcessMessage desserializa e persiste uma notificação.
// Falha de parse ou esgotamento de retries manda o payload para a DLQ;
// a mensagem nunca volta pro tópico principal.
func (c *Consumer) ProcessMessage(ctx context.Context, key, value []byte) error {
	var n events.Notification
	if err := json.Unmarshal(value, &n); err != nil {
		c.Log.Error("unmarshal notification", zap.Error(err))
		c.deadLetter(ctx, key, value)
		return err
	}
	if n.UserID == "" || n.Kind == "" {
		err := fmt.Errorf("notification missing user_id or kind")
		c.Log.Error("invalid notification", zap.Error(err))
		c.deadLetter(ctx, key, value)
		return err
	}

	retries := c.Retries
	if retries <= 0 {
		retries = 3
	}

	var err error
	for i := 0; i < retries; i++ {
		if i > 0 && c.Backoff > 0 {
			time.Sleep(time.Duration(i) * c.Backoff)
		}
		if err = c.Sink.Insert(ctx, n); err == nil {
			if c.OnDelivered != nil {
				c.OnDelivered()
			}
			return nil
		}
	}

	c.Log.Error("notification persist failed",
		zap.String("userId", n.UserID),
		zap.String("kind", n.Kind),
		zap.Error(err),
	)
	c.deadLetter(ctx, key, value)
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, key, value []byte) {
	if c.Dlq == nil {
		return
	}
	if err := c.Dlq.Send(ctx, string(key), value); err != nil {
		c.Log.Error("dlq publish failed", zap.Error(err))
		return
	}
	if c.OnDeadLettered != nil {
		c.OnDeadLettered()
	}
}

// PostgresSink grava notificações na tabela notifications.
type PostgresSink struct {
	PG *sql.DB
}

func (s *PostgresSink) Insert(ctx context.Context, n events.Notification) error {
	ts := n.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, auction_id, kind, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), n.UserID, n.AuctionID, n.Kind, n.Message, ts)
	return err
}
