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

	"github.com/radieske/auction-platform-poc/internal/bid-service/cache"
	"github.com/radieske/auction-platform-poc/internal/bid-service/repo"
	"github.com/radieske/auction-platform-poc/internal/closer"
	"github.com/radieske/auction-platform-poc/internal/notify"
	sharedcache "github.com/radieske/auction-platform-poc/internal/shared/cache"
	"github.com/radieske/auction-platform-poc/internal/shared/clock"
	"github.com/radieske/auction-platform-poc/internal/shared/config"
	"github.com/radieske/auction-platform-poc/internal/shared/db"
	"github.com/radieske/auction-platform-poc/internal/shared/kafka"
	"github.com/radieske/auction-platform-poc/internal/shared/lock"
	"github.com/radieske/auction-platform-poc/internal/shared/logger"
	"github.com/radieske/auction-platform-poc/internal/shared/pubsub"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	notifWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicNotifications)
	defer notifWriter.Close()

	// Métricas Prometheus do encerramento
	closed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "auction_closed_total", Help: "leilões encerrados por resultado"}, []string{"result"})
	errCount := prometheus.NewCounter(prometheus.CounterOpts{Name: "auction_close_errors_total", Help: "falhas de encerramento"})
	prometheus.MustRegister(closed, errCount)

	c := &closer.Closer{
		Log:          log,
		Ledger:       repo.NewPostgres(pg),
		Locker:       lock.NewRedisLocker(rdb),
		Publ:         pubsub.NewRedisBroadcaster(rdb, cfg.RedisPubSubChannel),
		Notif:        notify.NewKafkaNotifier(notifWriter),
		Cache:        cache.NewAuctionCache(rdb, 5*time.Minute),
		Clk:          clock.NewSystem(),
		LockTTL:      cfg.LockTTL,
		PollInterval: cfg.CloserPollInterval,
		BatchSize:    cfg.CloserBatchSize,

		OnClosed: func(result string) { closed.WithLabelValues(result).Inc() },
		OnError:  func() { errCount.Inc() },
	}

	// Servidor HTTP para métricas e health check
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := pg.PingContext(r.Context()); err != nil {
				http.Error(w, "pg", http.StatusServiceUnavailable)
				return
			}
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health listening", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	// Shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("auction-closer-worker started",
		zap.Duration("pollInterval", cfg.CloserPollInterval),
		zap.Int("batchSize", cfg.CloserBatchSize),
	)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("closer stopped with error", zap.Error(err))
	}
	log.Info("auction-closer-worker stopped")
}
