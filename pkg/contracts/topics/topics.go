package topics

const (
	// Notificações
	AuctionNotifications = "auction_notifications"

	// DLQs
	AuctionNotificationsDLQ = "auction_notifications_dlq"
)
