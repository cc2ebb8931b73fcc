package api

// Request and response types for REST endpoints and WebSocket messages.

// SubmitOrderRequest is the payload for POST /api/v1/orders.
type SubmitOrderRequest struct {
	TokenIn  string  `json:"tokenIn"`
	TokenOut string  `json:"tokenOut"`
	Amount   float64 `json:"amount"`
	Slippage float64 `json:"slippage,omitempty"` // optional, defaults to 0.05
}

// SubmitOrderResponse acknowledges an accepted order. Execution is
// asynchronous: poll GET /api/v1/orders/{id} or subscribe over /ws.
type SubmitOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse reports liveness plus queue occupancy per state.
type HealthResponse struct {
	Status string         `json:"status"`
	Jobs   map[string]int `json:"jobs"`
}

// WSSubscribeRequest is sent by a client to watch or drop order channels,
// e.g. {"op":"subscribe","channels":["orders:<id>"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
