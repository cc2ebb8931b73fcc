package order

import "time"

// Event is the broadcast message emitted on every stage transition,
// delivered to WebSocket subscribers watching the order.
type Event struct {
	OrderID   string `json:"orderId"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds

	// Stage-specific fields
	SelectedDex   string  `json:"selectedDex,omitempty"`
	TxHash        string  `json:"txHash,omitempty"`
	ExecutedPrice float64 `json:"executedPrice,omitempty"`
	Error         string  `json:"error,omitempty"`
	NextRetryIn   string  `json:"nextRetryIn,omitempty"`
}

// NewEvent stamps a bare event for the given order and status.
func NewEvent(orderID string, status Status, message string) Event {
	return Event{
		OrderID:   orderID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}
