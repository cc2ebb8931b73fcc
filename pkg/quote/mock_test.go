package quote

import (
	"context"
	"testing"
)

func TestMockProvider_VarianceBounds(t *testing.T) {
	p := NewMockProvider("VenueA", 200, 0.02, 0.003)
	for i := 0; i < 500; i++ {
		q, err := p.GetQuote(context.Background(), "SOL", "USDC", 10)
		if err != nil {
			t.Fatalf("GetQuote: %v", err)
		}
		if q.Price < 200*0.98 || q.Price > 200*1.02 {
			t.Fatalf("price %v outside +/-2%% of 200", q.Price)
		}
		if q.Venue != "VenueA" {
			t.Fatalf("venue = %s", q.Venue)
		}
	}
}

func TestMockProvider_CancelledContext(t *testing.T) {
	p := NewMockProvider("VenueA", 200, 0.02, 0.003)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.GetQuote(ctx, "SOL", "USDC", 10); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
