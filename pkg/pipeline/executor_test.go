package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dexflow-labs/dexflow/pkg/order"
	"github.com/dexflow-labs/dexflow/pkg/queue"
	"github.com/dexflow-labs/dexflow/pkg/quote"
	"github.com/dexflow-labs/dexflow/pkg/storage"
)

type captureHub struct {
	mu     sync.Mutex
	events []order.Event
}

func (h *captureHub) PublishOrder(orderID string, ev order.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *captureHub) statuses() []order.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]order.Status, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Status
	}
	return out
}

func (h *captureHub) last() order.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[len(h.events)-1]
}

// failingStore wraps a store and fails the first n terminal writes.
type failingStore struct {
	order.Store
	mu        sync.Mutex
	failsLeft int
}

func (s *failingStore) CompleteOrder(id, dex string, price float64, tx string) error {
	s.mu.Lock()
	if s.failsLeft > 0 {
		s.failsLeft--
		s.mu.Unlock()
		return errors.New("write refused")
	}
	s.mu.Unlock()
	return s.Store.CompleteOrder(id, dex, price, tx)
}

func payloadFor(t *testing.T, o *order.Order) []byte {
	t.Helper()
	b, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestExecutor_HappyPath(t *testing.T) {
	store := storage.NewMemoryStore()
	hub := &captureHub{}
	venueA := &quote.StaticProvider{Venue: "VenueA", Price: 204.10, Fee: 0.003}
	venueB := &quote.StaticProvider{Venue: "VenueB", Price: 206.55, Fee: 0.0025}
	ex := NewExecutor(store, venueA, venueB, hub, 0, nil)

	o, err := order.New("SOL", "USDC", 10, 0.05)
	if err != nil {
		t.Fatalf("order.New: %v", err)
	}
	if err := store.SaveOrder(o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	res := ex.Process(context.Background(), queue.Job{OrderID: o.ID, Payload: payloadFor(t, o), Attempt: 1})
	if res.Outcome != queue.OutcomeOK {
		t.Fatalf("outcome = %v (%v), want OK", res.Outcome, res.Err)
	}

	got, err := store.GetOrder(o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != order.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got.Status)
	}
	if got.SelectedDex != "VenueB" || got.ExecutedPrice != 206.55 {
		t.Fatalf("routed to %s@%v, want VenueB@206.55", got.SelectedDex, got.ExecutedPrice)
	}
	if !strings.HasPrefix(got.TxHash, "0x") {
		t.Fatalf("txHash = %q, want 0x-prefixed", got.TxHash)
	}

	want := []order.Status{
		order.StatusRouting, order.StatusRouting, // stage entry + decision
		order.StatusBuilding, order.StatusSubmitted, order.StatusConfirmed,
	}
	gotStatuses := hub.statuses()
	if len(gotStatuses) != len(want) {
		t.Fatalf("broadcast %v, want %v", gotStatuses, want)
	}
	for i := range want {
		if gotStatuses[i] != want[i] {
			t.Fatalf("broadcast[%d] = %s, want %s", i, gotStatuses[i], want[i])
		}
	}

	final := hub.last()
	if final.ExecutedPrice != 206.55 || final.SelectedDex != "VenueB" || final.TxHash != got.TxHash {
		t.Fatalf("confirmed event = %+v", final)
	}
}

func TestExecutor_MalformedPayloadIsFatal(t *testing.T) {
	ex := NewExecutor(storage.NewMemoryStore(), nil, nil, nil, 0, nil)
	res := ex.Process(context.Background(), queue.Job{OrderID: "x", Payload: []byte("{not json")})
	if res.Outcome != queue.OutcomeFatal {
		t.Fatalf("outcome = %v, want fatal", res.Outcome)
	}
}

func TestExecutor_InvalidAmountIsFatal(t *testing.T) {
	ex := NewExecutor(storage.NewMemoryStore(), nil, nil, nil, 0, nil)
	// Craft a payload that skipped API validation.
	bad := &order.Order{ID: "o-bad", TokenIn: "SOL", TokenOut: "USDC", Amount: -5, Slippage: 0.05}
	res := ex.Process(context.Background(), queue.Job{OrderID: bad.ID, Payload: payloadFor(t, bad)})
	if res.Outcome != queue.OutcomeFatal {
		t.Fatalf("outcome = %v, want fatal", res.Outcome)
	}
}

func TestExecutor_QuoteFailureIsRetryable(t *testing.T) {
	store := storage.NewMemoryStore()
	venueA := &quote.StaticProvider{Venue: "VenueA", Err: errors.New("venue down")}
	venueB := &quote.StaticProvider{Venue: "VenueB", Price: 206.55}
	ex := NewExecutor(store, venueA, venueB, &captureHub{}, 0, nil)

	o, _ := order.New("SOL", "USDC", 10, 0.05)
	store.SaveOrder(o)

	res := ex.Process(context.Background(), queue.Job{OrderID: o.ID, Payload: payloadFor(t, o)})
	if res.Outcome != queue.OutcomeRetryable {
		t.Fatalf("outcome = %v, want retryable", res.Outcome)
	}

	// Order must remain in its last persisted state.
	got, _ := store.GetOrder(o.ID)
	if got.Status != order.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestExecutor_PersistFailureIsRetryable(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &failingStore{Store: mem, failsLeft: 1}
	venueA := &quote.StaticProvider{Venue: "VenueA", Price: 204.10}
	venueB := &quote.StaticProvider{Venue: "VenueB", Price: 206.55}
	ex := NewExecutor(store, venueA, venueB, &captureHub{}, 0, nil)

	o, _ := order.New("SOL", "USDC", 10, 0.05)
	mem.SaveOrder(o)
	job := queue.Job{OrderID: o.ID, Payload: payloadFor(t, o)}

	if res := ex.Process(context.Background(), job); res.Outcome != queue.OutcomeRetryable {
		t.Fatalf("first attempt outcome = %v, want retryable", res.Outcome)
	}
	// Re-running from the start succeeds once the store recovers.
	if res := ex.Process(context.Background(), job); res.Outcome != queue.OutcomeOK {
		t.Fatalf("second attempt outcome = %v, want OK", res.Outcome)
	}
	got, _ := mem.GetOrder(o.ID)
	if got.Status != order.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", got.Status)
	}
}

func TestExecutor_HandleRetryBroadcastsDelay(t *testing.T) {
	hub := &captureHub{}
	ex := NewExecutor(storage.NewMemoryStore(), nil, nil, hub, 0, nil)

	ex.HandleRetry(queue.Job{OrderID: "o-1", Attempt: 2}, 4*time.Second, errors.New("flaky venue"))

	ev := hub.last()
	if ev.Status != order.StatusRetrying || ev.NextRetryIn != "4s" || ev.Error != "flaky venue" {
		t.Fatalf("retrying event = %+v", ev)
	}
}

func TestExecutor_HandleExhaustedPersistsFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	hub := &captureHub{}
	ex := NewExecutor(store, nil, nil, hub, 0, nil)

	o, _ := order.New("SOL", "USDC", 10, 0.05)
	store.SaveOrder(o)

	ex.HandleExhausted(queue.Job{OrderID: o.ID, Attempt: 3}, errors.New("no liquidity"))

	got, _ := store.GetOrder(o.ID)
	if got.Status != order.StatusFailed || got.Error != "no liquidity" {
		t.Fatalf("order = %+v, want failed/no liquidity", got)
	}
	ev := hub.last()
	if ev.Status != order.StatusFailed || ev.Error != "no liquidity" {
		t.Fatalf("failed event = %+v", ev)
	}
}

func TestNewTxHash_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		h := NewTxHash()
		if !strings.HasPrefix(h, "0x") || len(h) != 66 {
			t.Fatalf("hash %q not a 32-byte hex string", h)
		}
		if seen[h] {
			t.Fatalf("duplicate hash %s", h)
		}
		seen[h] = true
	}
}
