// Package pipeline runs one order attempt through its stage sequence:
// routing -> building -> submitted -> confirmed. Stages broadcast progress;
// only terminal outcomes are persisted, so re-running an attempt from the
// start is always safe.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dexflow-labs/dexflow/pkg/order"
	"github.com/dexflow-labs/dexflow/pkg/queue"
	"github.com/dexflow-labs/dexflow/pkg/quote"
	"github.com/dexflow-labs/dexflow/pkg/util"
)

// Broadcaster delivers stage events to live observers. Delivery is
// best-effort: implementations must never block or return pipeline errors.
type Broadcaster interface {
	PublishOrder(orderID string, ev order.Event)
}

// Executor is the worker-side order state machine.
type Executor struct {
	store      order.Store
	venueA     quote.Provider
	venueB     quote.Provider
	hub        Broadcaster
	log        *zap.SugaredLogger
	stageDelay time.Duration
}

var _ queue.Handler = (*Executor)(nil)

func NewExecutor(store order.Store, venueA, venueB quote.Provider, hub Broadcaster, stageDelay time.Duration, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = util.Nop()
	}
	return &Executor{
		store:      store,
		venueA:     venueA,
		venueB:     venueB,
		hub:        hub,
		log:        log,
		stageDelay: stageDelay,
	}
}

// Process runs one attempt. Malformed or invalid payloads are fatal; every
// stage error is reported as retryable and the scheduler decides whether
// attempts remain. Nothing is persisted before the confirmed write, so the
// order stays in its last persisted state across retries.
func (e *Executor) Process(ctx context.Context, job queue.Job) queue.Result {
	var o order.Order
	if err := json.Unmarshal(job.Payload, &o); err != nil {
		return queue.Fatal(fmt.Errorf("decode payload: %w", err))
	}
	if err := o.Validate(); err != nil {
		return queue.Fatal(fmt.Errorf("invalid order: %w", err))
	}

	// Stage 1: routing. Quote both venues concurrently, pick the winner.
	e.publish(order.NewEvent(o.ID, order.StatusRouting, "comparing venue quotes"))

	var qa, qb quote.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		qa, err = e.venueA.GetQuote(gctx, o.TokenIn, o.TokenOut, o.Amount)
		return err
	})
	g.Go(func() error {
		var err error
		qb, err = e.venueB.GetQuote(gctx, o.TokenIn, o.TokenOut, o.Amount)
		return err
	})
	if err := g.Wait(); err != nil {
		return queue.Retryable(fmt.Errorf("quote fetch: %w", err))
	}

	best := quote.Best(qa, qb)
	e.log.Infow("route_selected", "order", o.ID, "venue", best.Venue, "price", best.Price,
		"attempt", job.Attempt)
	ev := order.NewEvent(o.ID, order.StatusRouting, fmt.Sprintf("selected %s at %.4f", best.Venue, best.Price))
	ev.SelectedDex = best.Venue
	e.publish(ev)

	// Stage 2: building. Transaction construction; extension point for real
	// assembly, currently just the simulated wait.
	if err := e.pause(ctx); err != nil {
		return queue.Retryable(err)
	}
	e.publish(order.NewEvent(o.ID, order.StatusBuilding, "building transaction"))

	// Stage 3: submitted. Hand off to the venue under a fresh reference.
	if err := e.pause(ctx); err != nil {
		return queue.Retryable(err)
	}
	txHash := NewTxHash()
	ev = order.NewEvent(o.ID, order.StatusSubmitted, "transaction submitted")
	ev.TxHash = txHash
	e.publish(ev)

	// Stage 4: confirmed. Single atomic terminal write.
	if err := e.pause(ctx); err != nil {
		return queue.Retryable(err)
	}
	if err := e.store.CompleteOrder(o.ID, best.Venue, best.Price, txHash); err != nil {
		return queue.Retryable(fmt.Errorf("persist confirmation: %w", err))
	}

	ev = order.NewEvent(o.ID, order.StatusConfirmed, "order confirmed")
	ev.SelectedDex = best.Venue
	ev.ExecutedPrice = best.Price
	ev.TxHash = txHash
	e.publish(ev)
	return queue.Ok()
}

// HandleRetry broadcasts the retrying signal with the computed delay.
// Wired to Queue.OnRetry; persists nothing.
func (e *Executor) HandleRetry(job queue.Job, delay time.Duration, err error) {
	ev := order.NewEvent(job.OrderID, order.StatusRetrying, "execution failed, retrying")
	if err != nil {
		ev.Error = err.Error()
	}
	ev.NextRetryIn = delay.String()
	e.publish(ev)
}

// HandleExhausted persists the terminal failure and broadcasts it.
// Wired to Queue.OnExhausted.
func (e *Executor) HandleExhausted(job queue.Job, err error) {
	msg := "execution failed"
	if err != nil {
		msg = err.Error()
	}
	if perr := e.store.FailOrder(job.OrderID, msg); perr != nil {
		e.log.Errorw("order_fail_persist_failed", "order", job.OrderID, "err", perr)
	}
	ev := order.NewEvent(job.OrderID, order.StatusFailed, "order failed permanently")
	ev.Error = msg
	e.publish(ev)
}

func (e *Executor) pause(ctx context.Context) error {
	if e.stageDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.stageDelay):
		return nil
	}
}

func (e *Executor) publish(ev order.Event) {
	if e.hub == nil {
		return
	}
	e.hub.PublishOrder(ev.OrderID, ev)
}
