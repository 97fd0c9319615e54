package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/internal/bid-service/cache"
	bhttp "github.com/radieske/auction-platform-poc/internal/bid-service/http"
	"github.com/radieske/auction-platform-poc/internal/bid-service/repo"
	"github.com/radieske/auction-platform-poc/internal/bid-service/service"
	"github.com/radieske/auction-platform-poc/internal/closer"
	"github.com/radieske/auction-platform-poc/internal/notify"
	sharedcache "github.com/radieske/auction-platform-poc/internal/shared/cache"
	"github.com/radieske/auction-platform-poc/internal/shared/clock"
	"github.com/radieske/auction-platform-poc/internal/shared/config"
	"github.com/radieske/auction-platform-poc/internal/shared/db"
	"github.com/radieske/auction-platform-poc/internal/shared/idempotency"
	"github.com/radieske/auction-platform-poc/internal/shared/kafka"
	"github.com/radieske/auction-platform-poc/internal/shared/lock"
	"github.com/radieske/auction-platform-poc/internal/shared/logger"
	"github.com/radieske/auction-platform-poc/internal/shared/pubsub"
	"github.com/radieske/auction-platform-poc/internal/shared/ratelimit"
)

func main() {
	cfg := config.Load()
	log, _ := logger.New(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	// Postgres (ledger transacional)
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg", zap.Error(err))
	}
	defer pg.Close()

	// Redis: cache de leitura, mutex distribuído, idempotência e pub/sub
	rdb, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Kafka writer (tópico de notificações)
	notifWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicNotifications)
	defer notifWriter.Close()

	// deps
	clk := clock.NewSystem()
	ledger := repo.NewPostgres(pg)
	aCache := cache.NewAuctionCache(rdb, 5*time.Minute)
	locker := lock.NewRedisLocker(rdb)
	idem := idempotency.NewRedisStore(rdb, cfg.IdemPendingTTL, cfg.IdemResultTTL)
	limiter := ratelimit.New(clk, cfg.BidRatePerMin, cfg.BidRateBurst)
	broadcaster := pubsub.NewRedisBroadcaster(rdb, cfg.RedisPubSubChannel)
	notifier := notify.NewKafkaNotifier(notifWriter)

	// Varre buckets ociosos do rate limiter de tempos em tempos
	go func() {
		for range time.Tick(time.Minute) {
			limiter.Sweep(10 * time.Minute)
		}
	}()

	// Métricas Prometheus do fluxo de lances
	accepted := prometheus.NewCounter(prometheus.CounterOpts{Name: "bid_accepted_total", Help: "lances aceitos"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bid_rejected_total", Help: "lances rejeitados por motivo"}, []string{"reason"})
	lockBusy := prometheus.NewCounter(prometheus.CounterOpts{Name: "bid_lock_busy_total", Help: "mutex de leilão ocupado"})
	prometheus.MustRegister(accepted, rejected, lockBusy)

	svc := service.New(log, ledger, aCache, locker, idem, limiter, broadcaster, notifier, clk, cfg.LockTTL)
	svc.OnBidAccepted = func() { accepted.Inc() }
	svc.OnBidRejected = func(reason string) { rejected.WithLabelValues(reason).Inc() }
	svc.OnLockBusy = func() { lockBusy.Inc() }

	// O force-close administrativo passa pelo mesmo caminho do worker:
	// mesmo mutex, mesma transação de encerramento
	adminCloser := &closer.Closer{
		Log:     log,
		Ledger:  ledger,
		Locker:  locker,
		Publ:    broadcaster,
		Notif:   notifier,
		Cache:   aCache,
		Clk:     clk,
		LockTTL: cfg.LockTTL,
	}

	api := &bhttp.API{Log: log, Svc: svc, Admin: adminCloser, AdminToken: cfg.AdminToken}
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	// metrics/health
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
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
	go func() {
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, metricsMux)
	}()

	log.Info("bid-service listening", zap.String("addr", fmt.Sprintf(":%s", cfg.HTTPPort)))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}
