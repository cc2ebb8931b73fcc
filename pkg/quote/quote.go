// Package quote abstracts venue price quoting and holds the selection logic
// that picks the better of two competing quotes.
package quote

import (
	"context"
	"time"
)

// Quote is a priced offer from one venue for a given swap. Ephemeral:
// produced per comparison, never persisted directly.
type Quote struct {
	Venue     string
	Price     float64
	Fee       float64 // fee fraction, informational only (not part of selection)
	Timestamp time.Time
}

// Provider returns a priced quote for an asset pair and amount.
// Production and test variants satisfy the same interface.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error)
}
