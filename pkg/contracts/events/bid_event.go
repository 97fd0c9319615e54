package events

import "time"

// Tipos de evento publicados no canal de broadcast por leilão.
const (
	TypeNewBid       = "new_bid"
	TypeAuctionEnded = "auction_ended"
)

// BidEvent é o evento emitido após cada resolução de lance (e no encerramento).
type BidEvent struct {
	Type            string    `json:"type"` // new_bid | auction_ended
	AuctionID       string    `json:"auction_id"`
	PriceCents      int64     `json:"price_cents"`
	WinnerID        string    `json:"winner_id,omitempty"`
	IsProxyResolved bool      `json:"is_proxy_resolved"`
	Result          string    `json:"result,omitempty"` // só em auction_ended
	Ts              time.Time `json:"ts"`
}
