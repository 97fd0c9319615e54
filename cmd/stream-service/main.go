package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	sharedcache "github.com/radieske/auction-platform-poc/internal/shared/cache"
	"github.com/radieske/auction-platform-poc/internal/shared/config"
	"github.com/radieske/auction-platform-poc/internal/shared/logger"
	"github.com/radieske/auction-platform-poc/internal/shared/metrics"
	"github.com/radieske/auction-platform-poc/internal/stream-service/ws"
)

func main() {
	cfg := config.Load()
	log, _ := logger.New(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	rdb, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Hub WebSocket; origem liberada (o gateway é quem faz o controle)
	hub := ws.NewHub(func(_ *http.Request) bool { return true })

	// Repassa os eventos de lance do Redis Pub/Sub para os clientes
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws.StartRedisSubscriber(ctx, rdb, cfg.RedisPubSubChannel, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)

	// metrics/health
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	log.Info("metrics/health", zap.String("addr", ":"+cfg.MetricsPort))

	addr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Info("stream-service listening", zap.String("addr", addr), zap.String("channel", cfg.RedisPubSubChannel))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Fatal("ws server", zap.Error(err))
	}
}
