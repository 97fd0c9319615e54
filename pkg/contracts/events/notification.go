package events

import "time"

// Tipos de notificação emitidos pelo motor de lances.
const (
	NotifyOutbid        = "outbid"
	NotifyAuctionWon    = "auction_won"
	NotifyAuctionLost   = "auction_lost"
	NotifyAuctionClosed = "auction_closed" // para o vendedor
)

// Notification é o contrato fire-and-forget enviado ao tópico de notificações.
// O notification-worker é quem efetiva a entrega.
type Notification struct {
	UserID    string    `json:"user_id"`
	AuctionID string    `json:"auction_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Ts        time.Time `json:"ts"`
}
