package ratelimit

import (
	"sync"
	"time"

	"github.com/radieske/auction-platform-poc/internal/shared/clock"
)

// bidderState guarda o estado do token bucket de um bidder
type bidderState struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter limita lances por bidder por janela de tempo (token bucket).
// Relógio injetado para testes determinísticos.
type Limiter struct {
	clk       clock.Clock
	ratePerMin int
	burst      int

	mu      sync.Mutex
	bidders map[string]*bidderState
}

func New(clk clock.Clock, ratePerMin, burst int) *Limiter {
	return &Limiter{
		clk:        clk,
		ratePerMin: ratePerMin,
		burst:      burst,
		bidders:    make(map[string]*bidderState),
	}
}

// Allow consome um token do bidder; false = estourou o limite da janela.
func (l *Limiter) Allow(bidderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	st, ok := l.bidders[bidderID]
	if !ok {
		l.bidders[bidderID] = &bidderState{
			tokens:    float64(l.burst - 1),
			lastCheck: now,
		}
		return true
	}

	// repõe tokens proporcionalmente ao tempo decorrido
	elapsed := now.Sub(st.lastCheck).Minutes()
	st.tokens += elapsed * float64(l.ratePerMin)
	if st.tokens > float64(l.burst) {
		st.tokens = float64(l.burst)
	}
	st.lastCheck = now

	if st.tokens < 1 {
		return false
	}
	st.tokens--
	return true
}

// Sweep remove bidders inativos há mais de maxIdle; chamado num ticker pelo main.
func (l *Limiter) Sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	for id, st := range l.bidders {
		if now.Sub(st.lastCheck) > maxIdle {
			delete(l.bidders, id)
		}
	}
}
