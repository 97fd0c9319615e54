package dto

// PlaceBidRequest é o corpo de POST /v1/auctions/{id}/bids.
// O bidder vem do header de sessão, não do corpo.
type PlaceBidRequest struct {
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SetProxyBidRequest é o corpo de PUT /v1/auctions/{id}/proxy-bid.
type SetProxyBidRequest struct {
	MaxAmountCents int64 `json:"max_amount_cents"`
}
