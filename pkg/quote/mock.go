package quote

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Provider = (*MockProvider)(nil)
	_ Provider = (*StaticProvider)(nil)
)

// MockProvider simulates a live venue: each quote is the base price with
// bounded random variance applied, so two instances with the same base
// still disagree quote to quote.
type MockProvider struct {
	venue    string
	base     float64
	variance float64 // fractional, e.g. 0.02 for +/-2%
	fee      float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockProvider(venue string, base, variance, fee float64) *MockProvider {
	return &MockProvider{
		venue:    venue,
		base:     base,
		variance: variance,
		fee:      fee,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *MockProvider) Name() string { return p.venue }

func (p *MockProvider) GetQuote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	p.mu.Lock()
	jitter := (p.rng.Float64()*2 - 1) * p.variance
	p.mu.Unlock()

	return Quote{
		Venue:     p.venue,
		Price:     p.base * (1 + jitter),
		Fee:       p.fee,
		Timestamp: time.Now(),
	}, nil
}

// StaticProvider always returns the same quote, or a fixed error.
// Deterministic variant for tests.
type StaticProvider struct {
	Venue string
	Price float64
	Fee   float64
	Err   error
}

func (p *StaticProvider) Name() string { return p.Venue }

func (p *StaticProvider) GetQuote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error) {
	if p.Err != nil {
		return Quote{}, p.Err
	}
	return Quote{Venue: p.Venue, Price: p.Price, Fee: p.Fee, Timestamp: time.Now()}, nil
}
