package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/internal/shared/config"
	"github.com/radieske/auction-platform-poc/internal/shared/logger"
)

func rp(to string) *httputil.ReverseProxy {
	u, _ := url.Parse(to)
	return httputil.NewSingleHostReverseProxy(u)
}

func main() {
	cfg := config.Load()
	log, _ := logger.New(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	// targets
	bidURL := os.Getenv("BID_URL")
	if bidURL == "" {
		bidURL = "http://localhost:8083"
	}
	streamURL := os.Getenv("STREAM_URL")
	if streamURL == "" {
		streamURL = "http://localhost:8084"
	}
	bid := rp(bidURL)
	stream := rp(streamURL)

	mux := http.NewServeMux()

	// auctions (ex.: /api/v1/auctions/* -> bid-service)
	mux.Handle("/api/", http.StripPrefix("/api", withSession(bid)))

	// stream em tempo real (/ws -> stream-service)
	mux.Handle("/ws", stream)

	addr := ":" + cfg.HTTPPort
	log.Info("api-gateway listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, withCORS(mux)); err != nil && err != http.ErrServerClosed {
		log.Fatal("gateway failed", zap.Error(err))
	}
}

// withSession resolve a identidade do chamador e injeta X-User-ID.
// No PoC o token Bearer É o userId; numa instalação real entraria a
// validação de JWT aqui.
func withSession(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del("X-User-ID")
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			r.Header.Set("X-User-ID", auth[len(prefix):])
		}
		h.ServeHTTP(w, r)
	})
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
