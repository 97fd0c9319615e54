package engine

import (
	"errors"
	"time"
)

// Status do leilão no snapshot.
const (
	StatusActive    = "ACTIVE"
	StatusEnded     = "ENDED"
	StatusCancelled = "CANCELLED"
)

// Erros de validação e de conflito de estado. Rejeições síncronas, sem efeito.
var (
	ErrAuctionNotActive = errors.New("auction not active")
	ErrAuctionEnded     = errors.New("auction already past end time")
	ErrSellerBid        = errors.New("seller cannot bid on own auction")
	ErrInvalidAmount    = errors.New("invalid bid amount")
	ErrBidTooLow        = errors.New("bid below minimum")
)

// AuctionSnapshot é a visão imutável do leilão sobre a qual o lance é resolvido.
// LeaderID é o bidder do último lance registrado ("" se não há lances).
type AuctionSnapshot struct {
	ID                string
	SellerID          string
	CurrentPriceCents int64
	IncrementCents    int64
	ReservePriceCents int64 // 0 = sem reserva
	StartTime         time.Time
	EndTime           time.Time
	SnipeWindow       time.Duration // 0 = proteção desligada
	Status            string
	Version           int64
	LeaderID          string
}

// MinBidCents é o menor lance aceitável sobre o snapshot.
func (a AuctionSnapshot) MinBidCents() int64 {
	return a.CurrentPriceCents + a.IncrementCents
}

// ProxyBid é um lance automático ativo de um bidder concorrente.
type ProxyBid struct {
	AuctionID      string
	BidderID       string
	MaxAmountCents int64
	CreatedAt      time.Time
}

// Input é o lance a resolver: manual (AmountCents = valor ofertado) ou
// proxy recém-armado (AmountCents = máximo autorizado).
type Input struct {
	BidderID    string
	AmountCents int64
	IsProxy     bool
	Now         time.Time
}

// BidRecord é um lance a persistir, na ordem em que deve entrar no ledger.
type BidRecord struct {
	BidderID      string
	AmountCents   int64
	ProxyResolved bool
}

// Outcome é o resultado de uma resolução aceita.
type Outcome struct {
	PriceCents        int64
	WinnerID          string
	Bids              []BidRecord // ordem de persistência (seq crescente)
	DeactivateProxyOf string      // bidder cujo proxy foi superado ("" = nenhum)
	NewProxyOutbid    bool        // proxy recém-armado já nasce superado
	ProxyResolved     bool
	NewEndTime        time.Time // zero = end_time inalterado (snipe protection)
}
