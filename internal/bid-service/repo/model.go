package repo

import (
	"time"

	"github.com/radieske/auction-platform-poc/internal/bid-service/engine"
)

// Auction é o modelo persistido no Postgres.
type Auction struct {
	ID                 string
	SellerID           string
	StartingPriceCents int64
	CurrentPriceCents  int64
	ReservePriceCents  int64 // 0 = sem reserva
	IncrementCents     int64
	StartTime          time.Time
	EndTime            time.Time
	SnipeWindowSecs    int64
	Status             string // ACTIVE | ENDED | CANCELLED
	Result             string // '' | WINNER | NO_BIDS | RESERVE_NOT_MET
	WinnerID           string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Bid é um lance registrado; seq é estritamente crescente por leilão.
type Bid struct {
	ID            string
	AuctionID     string
	BidderID      string
	AmountCents   int64
	Seq           int64
	ProxyResolved bool
	CreatedAt     time.Time
}

// ProxyUpsert descreve o proxy a gravar junto do commit da resolução.
// Active=false cobre o proxy que já nasce superado.
type ProxyUpsert struct {
	BidderID       string
	MaxAmountCents int64
	Active         bool
}

// Resolution é tudo que o commit atômico precisa aplicar no ledger.
// ExpectedVersion pina o snapshot usado na resolução (no lost update).
type Resolution struct {
	AuctionID         string
	ExpectedVersion   int64
	NewPriceCents     int64
	NewEndTime        time.Time // zero = end_time inalterado
	Bids              []engine.BidRecord
	DeactivateProxyOf string
	Proxy             *ProxyUpsert // nil em lance manual
}

// Resultados possíveis do encerramento.
const (
	ResultWinner        = "WINNER"
	ResultNoBids        = "NO_BIDS"
	ResultReserveNotMet = "RESERVE_NOT_MET"
)

// CloseResult é o desfecho de um encerramento, com o necessário para
// notificações e evento de broadcast.
type CloseResult struct {
	AuctionID       string
	SellerID        string
	Result          string
	WinnerID        string
	FinalPriceCents int64
	HighBidCents    int64 // visível ao vendedor mesmo em RESERVE_NOT_MET
	HighBidderID    string
	Losers          []string
}
