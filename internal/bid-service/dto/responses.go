package dto

import "time"

// BidView é um lance na resposta da API.
type BidView struct {
	ID            string    `json:"id"`
	AuctionID     string    `json:"auction_id"`
	BidderID      string    `json:"bidder_id"`
	AmountCents   int64     `json:"amount_cents"`
	Seq           int64     `json:"seq"`
	ProxyResolved bool      `json:"proxy_resolved"`
	CreatedAt     time.Time `json:"created_at"`
}

// PlaceBidResponse devolve o lance aceito e o novo preço corrente.
// Duplicate=true quando o resultado veio do guard de idempotência.
type PlaceBidResponse struct {
	Bid               *BidView `json:"bid,omitempty"`
	CurrentPriceCents int64    `json:"current_price_cents"`
	IsWinning         bool     `json:"is_winning"`
	Duplicate         bool     `json:"duplicate,omitempty"`
}

// ProxyBidResponse devolve o proxy gravado e o efeito no preço.
type ProxyBidResponse struct {
	AuctionID         string `json:"auction_id"`
	BidderID          string `json:"bidder_id"`
	MaxAmountCents    int64  `json:"max_amount_cents"`
	Active            bool   `json:"active"`
	CurrentPriceCents int64  `json:"current_price_cents"`
	IsWinning         bool   `json:"is_winning"`
}

// AuctionResponse é o snapshot de leitura (cache-backed).
type AuctionResponse struct {
	ID                string    `json:"id"`
	SellerID          string    `json:"seller_id"`
	CurrentPriceCents int64     `json:"current_price_cents"`
	IncrementCents    int64     `json:"increment_cents"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Status            string    `json:"status"`
	Result            string    `json:"result,omitempty"`
	WinnerID          string    `json:"winner_id,omitempty"`
}

// CloseAuctionResponse é a resposta do force-close administrativo.
type CloseAuctionResponse struct {
	AuctionID       string `json:"auction_id"`
	Result          string `json:"result"`
	WinnerID        string `json:"winner_id,omitempty"`
	FinalPriceCents int64  `json:"final_price_cents"`
}
