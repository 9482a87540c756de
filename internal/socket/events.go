package socket

// Transport lifecycle events (socket.io names).
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventReconnect        = "reconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnectFailed  = "reconnect_failed"
)

// Business and keep-alive events on the /notifications namespace.
const (
	EventOrderStatusUpdate = "orderStatusUpdate"
	EventNotification      = "notification"
	EventPing              = "ping"
	EventPong              = "pong"
	EventJoinRoom          = "joinRoom"
	EventLeaveRoom         = "leaveRoom"
)

// OrderRoom returns the order-scoped room name for an order ID.
func OrderRoom(orderID string) string {
	return "order-" + orderID
}

// PartnerRoom returns the partner-scoped room name for a partner ID.
func PartnerRoom(partnerID string) string {
	return "partner-" + partnerID
}
