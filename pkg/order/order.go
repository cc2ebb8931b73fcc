// Package order defines the swap order model and its lifecycle states.
package order

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an order.
//
// Success path: pending -> routing -> building -> submitted -> confirmed.
// failed is reachable from any non-terminal state once retries are exhausted.
// retrying is a broadcast-only signal: it is never persisted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

const DefaultSlippage = 0.05

// Validation errors. These are caught at the API boundary; the pipeline
// re-checks amount and slippage defensively before executing.
var (
	ErrSameToken       = errors.New("tokenIn and tokenOut must differ")
	ErrMissingToken    = errors.New("tokenIn and tokenOut are required")
	ErrInvalidAmount   = errors.New("amount must be a finite positive number")
	ErrInvalidSlippage = errors.New("slippage must be within [0,1]")
)

// Order is a single requested asset swap and its tracked lifecycle.
// Persisted by the order store; terminal statuses are never overwritten.
type Order struct {
	ID            string    `json:"id"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	Amount        float64   `json:"amount"`
	Slippage      float64   `json:"slippage"`
	Status        Status    `json:"status"`
	SelectedDex   string    `json:"selectedDex,omitempty"`
	ExecutedPrice float64   `json:"executedPrice,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// New builds a pending order with a fresh id. Zero slippage means "use the
// default"; an explicit out-of-range value is rejected.
func New(tokenIn, tokenOut string, amount, slippage float64) (*Order, error) {
	o := &Order{
		ID:       uuid.NewString(),
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		Amount:   amount,
		Slippage: slippage,
		Status:   StatusPending,
	}
	if o.Slippage == 0 {
		o.Slippage = DefaultSlippage
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks the order invariants: distinct tokens, finite positive
// amount, slippage within [0,1].
func (o *Order) Validate() error {
	if o.TokenIn == "" || o.TokenOut == "" {
		return ErrMissingToken
	}
	if o.TokenIn == o.TokenOut {
		return ErrSameToken
	}
	if o.Amount <= 0 || math.IsNaN(o.Amount) || math.IsInf(o.Amount, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidAmount, o.Amount)
	}
	if o.Slippage < 0 || o.Slippage > 1 || math.IsNaN(o.Slippage) {
		return fmt.Errorf("%w: got %v", ErrInvalidSlippage, o.Slippage)
	}
	return nil
}

// ErrNotFound is returned by Store implementations for unknown order ids.
var ErrNotFound = errors.New("order not found")

// Store is the durable record of order intent and status. Implementations
// must make CompleteOrder and FailOrder idempotent: once an order is in a
// terminal status, further terminal writes are no-ops.
type Store interface {
	SaveOrder(o *Order) error
	GetOrder(id string) (*Order, error)
	ListOrders(limit int) ([]*Order, error)

	// CompleteOrder records the terminal success of an order as a single
	// atomic update: status, winning venue, executed price and tx reference.
	CompleteOrder(id, selectedDex string, executedPrice float64, txHash string) error

	// FailOrder records terminal failure with the final error message.
	FailOrder(id, errMsg string) error
}
