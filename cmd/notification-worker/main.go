package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/internal/notification"
	"github.com/radieske/auction-platform-poc/internal/shared/config"
	"github.com/radieske/auction-platform-poc/internal/shared/db"
	"github.com/radieske/auction-platform-poc/internal/shared/kafka"
	"github.com/radieske/auction-platform-poc/internal/shared/logger"
)

// kafkaDLQ adapta o writer Kafka ao contrato de DLQ do consumer.
type kafkaDLQ struct{ w *kafka.Writer }

func (d kafkaDLQ) Send(ctx context.Context, key string, payload []byte) error {
	return kafka.WriteJSON(ctx, d.w, key, payload)
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres: caixa de entrada de notificações dos usuários
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	// Kafka consumer do tópico de notificações
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicNotifications, "notification-worker")
	defer reader.Close()

	var dlq notification.DLQ
	if cfg.TopicNotificationsDLQ != "" {
		dlqWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicNotificationsDLQ)
		defer dlqWriter.Close()
		dlq = kafkaDLQ{w: dlqWriter}
	}

	// Métricas Prometheus de entrega
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "notif_messages_consumed_total", Help: "mensagens consumidas"})
	delivered := prometheus.NewCounter(prometheus.CounterOpts{Name: "notif_delivered_total", Help: "notificações persistidas"})
	deadLettered := prometheus.NewCounter(prometheus.CounterOpts{Name: "notif_dead_lettered_total", Help: "mensagens enviadas para a DLQ"})
	prometheus.MustRegister(consumed, delivered, deadLettered)

	cons := &notification.Consumer{
		Log:     log,
		Sink:    &notification.PostgresSink{PG: pg},
		Dlq:     dlq,
		Retries: 3,
		Backoff: 300 * time.Millisecond,

		OnDelivered:    func() { delivered.Inc() },
		OnDeadLettered: func() { deadLettered.Inc() },
	}

	// Servidor HTTP para métricas e health check
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			if err := pg.PingContext(ctx); err != nil {
				http.Error(w, "pg", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("notification-worker started", zap.String("consume", cfg.TopicNotifications))

	// Loop principal: consome e entrega uma mensagem por vez
	for {
		key, value, err := kafka.ReadNext(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		consumed.Inc()
		_ = cons.ProcessMessage(ctx, key, value)
	}
	log.Info("notification-worker stopped")
}
