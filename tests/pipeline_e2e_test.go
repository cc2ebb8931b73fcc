// file: tests/pipeline_e2e_test.go
package tests

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	dexorder "github.com/dexflow-labs/dexflow/pkg/order"
	"github.com/dexflow-labs/dexflow/pkg/pipeline"
	"github.com/dexflow-labs/dexflow/pkg/queue"
	"github.com/dexflow-labs/dexflow/pkg/quote"
	"github.com/dexflow-labs/dexflow/pkg/storage"
)

// recordingHub captures every broadcast event, keyed by order id.
type recordingHub struct {
	mu     sync.Mutex
	events map[string][]dexorder.Event
}

func newRecordingHub() *recordingHub {
	return &recordingHub{events: make(map[string][]dexorder.Event)}
}

func (h *recordingHub) PublishOrder(orderID string, ev dexorder.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[orderID] = append(h.events[orderID], ev)
}

func (h *recordingHub) forOrder(orderID string) []dexorder.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dexorder.Event(nil), h.events[orderID]...)
}

// flakyProvider fails its first n quotes, then delegates.
type flakyProvider struct {
	quote.Provider
	mu        sync.Mutex
	failsLeft int
}

func (p *flakyProvider) GetQuote(ctx context.Context, tokenIn, tokenOut string, amount float64) (quote.Quote, error) {
	p.mu.Lock()
	if p.failsLeft > 0 {
		p.failsLeft--
		p.mu.Unlock()
		return quote.Quote{}, errors.New("venue unreachable")
	}
	p.mu.Unlock()
	return p.Provider.GetQuote(ctx, tokenIn, tokenOut, amount)
}

type stack struct {
	store *storage.MemoryStore
	hub   *recordingHub
	queue *queue.Queue
}

func newStack(t *testing.T, venueA, venueB quote.Provider) *stack {
	t.Helper()
	store := storage.NewMemoryStore()
	hub := newRecordingHub()
	ex := pipeline.NewExecutor(store, venueA, venueB, hub, 0, nil)

	q := queue.New(queue.Config{
		Concurrency: 10,
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
		Lease:       time.Second,
		Poll:        2 * time.Millisecond,
	}, ex, store, nil, nil)
	q.OnRetry = ex.HandleRetry
	q.OnExhausted = ex.HandleExhausted

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		q.Stop(context.Background())
	})
	q.Start(ctx)

	return &stack{store: store, hub: hub, queue: q}
}

func (s *stack) submit(t *testing.T, tokenIn, tokenOut string, amount, slippage float64) *dexorder.Order {
	t.Helper()
	o, err := dexorder.New(tokenIn, tokenOut, amount, slippage)
	if err != nil {
		t.Fatalf("order.New: %v", err)
	}
	if err := s.store.SaveOrder(o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	payload, _ := json.Marshal(o)
	if _, err := s.queue.Enqueue(o.ID, payload, queue.Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return o
}

func (s *stack) waitTerminal(t *testing.T, orderID string) *dexorder.Order {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		o, err := s.store.GetOrder(orderID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		if o.Status.Terminal() {
			return o
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached a terminal state", orderID)
	return nil
}

func TestEndToEnd_ConfirmedOrder(t *testing.T) {
	venueA := &quote.StaticProvider{Venue: "VenueA", Price: 204.10, Fee: 0.003}
	venueB := &quote.StaticProvider{Venue: "VenueB", Price: 206.55, Fee: 0.0025}
	s := newStack(t, venueA, venueB)

	o := s.submit(t, "SOL", "USDC", 10, 0.05)
	got := s.waitTerminal(t, o.ID)

	if got.Status != dexorder.StatusConfirmed {
		t.Fatalf("status = %s (%s), want confirmed", got.Status, got.Error)
	}
	if got.SelectedDex != "VenueB" || got.ExecutedPrice != 206.55 {
		t.Fatalf("routed to %s@%v, want VenueB@206.55", got.SelectedDex, got.ExecutedPrice)
	}
	if got.TxHash == "" {
		t.Fatal("confirmed order missing txHash")
	}

	statuses := make([]dexorder.Status, 0)
	for _, ev := range s.hub.forOrder(o.ID) {
		statuses = append(statuses, ev.Status)
	}
	want := []dexorder.Status{
		dexorder.StatusRouting, dexorder.StatusRouting,
		dexorder.StatusBuilding, dexorder.StatusSubmitted, dexorder.StatusConfirmed,
	}
	if len(statuses) != len(want) {
		t.Fatalf("broadcast sequence %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("broadcast[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestEndToEnd_TransientFailuresThenConfirmed(t *testing.T) {
	venueA := &flakyProvider{
		Provider:  &quote.StaticProvider{Venue: "VenueA", Price: 204.10},
		failsLeft: 2,
	}
	venueB := &quote.StaticProvider{Venue: "VenueB", Price: 206.55}
	s := newStack(t, venueA, venueB)

	o := s.submit(t, "SOL", "USDC", 10, 0.05)
	got := s.waitTerminal(t, o.ID)

	if got.Status != dexorder.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed after retries", got.Status)
	}

	// Two failed attempts -> two retrying broadcasts with doubling delays.
	var retrying []dexorder.Event
	for _, ev := range s.hub.forOrder(o.ID) {
		if ev.Status == dexorder.StatusRetrying {
			retrying = append(retrying, ev)
		}
	}
	if len(retrying) != 2 {
		t.Fatalf("got %d retrying broadcasts, want 2", len(retrying))
	}
	if retrying[0].NextRetryIn != "10ms" || retrying[1].NextRetryIn != "20ms" {
		t.Fatalf("retry delays = %s, %s; want 10ms, 20ms",
			retrying[0].NextRetryIn, retrying[1].NextRetryIn)
	}
	for _, ev := range retrying {
		if ev.Error == "" {
			t.Fatal("retrying broadcast missing error detail")
		}
	}
}

func TestEndToEnd_ExhaustedAttemptsFail(t *testing.T) {
	venueA := &flakyProvider{
		Provider:  &quote.StaticProvider{Venue: "VenueA", Price: 204.10},
		failsLeft: 1000, // never recovers
	}
	venueB := &quote.StaticProvider{Venue: "VenueB", Price: 206.55}
	s := newStack(t, venueA, venueB)

	o := s.submit(t, "SOL", "USDC", 10, 0.05)
	got := s.waitTerminal(t, o.ID)

	if got.Status != dexorder.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatal("failed order missing error message")
	}

	events := s.hub.forOrder(o.ID)
	last := events[len(events)-1]
	if last.Status != dexorder.StatusFailed || last.Error == "" {
		t.Fatalf("final broadcast = %+v, want failed with error", last)
	}

	// Exactly max attempts, then nothing more.
	j, ok := s.queue.JobByOrder(o.ID)
	if !ok {
		t.Fatal("job vanished before retention expired")
	}
	if j.Attempt != 3 || j.State != queue.StateFailed {
		t.Fatalf("job = attempt %d state %s, want 3/failed", j.Attempt, j.State)
	}
}
