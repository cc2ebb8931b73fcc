// Package queue implements the durable work queue and retry scheduler that
// drives order execution: bounded concurrent dispatch, exponential backoff,
// lease-based stall detection and single-flight execution per job.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dexflow-labs/dexflow/pkg/util"
)

// Outcome tags the result of one pipeline attempt. The scheduler branches on
// the tag instead of catching errors thrown through the call stack.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

// Result is the tagged outcome of a single attempt.
type Result struct {
	Outcome Outcome
	Err     error
}

func Ok() Result                 { return Result{Outcome: OutcomeOK} }
func Retryable(err error) Result { return Result{Outcome: OutcomeRetryable, Err: err} }
func Fatal(err error) Result     { return Result{Outcome: OutcomeFatal, Err: err} }

// Handler executes one attempt of a job. Handlers must be safe to re-run
// from the start: delivery is at-least-once.
type Handler interface {
	Process(ctx context.Context, job Job) Result
}

// Config holds scheduler tunables. Zero fields take the documented defaults.
type Config struct {
	Concurrency  int           // max jobs in flight (default 10)
	MaxAttempts  int           // attempts before permanent failure (default 3)
	BackoffBase  time.Duration // first retry delay, doubles per attempt (default 2s)
	Lease        time.Duration // visibility timeout per attempt (default 30s)
	Poll         time.Duration // dispatcher tick (default 50ms)
	CompletedTTL time.Duration // retention for completed jobs (default 1m)
	FailedTTL    time.Duration // retention for failed jobs (default 1h)
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2000 * time.Millisecond
	}
	if c.Lease <= 0 {
		c.Lease = 30000 * time.Millisecond
	}
	if c.Poll <= 0 {
		c.Poll = 50 * time.Millisecond
	}
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = time.Minute
	}
	if c.FailedTTL <= 0 {
		c.FailedTTL = time.Hour
	}
	return c
}

var ErrStopped = errors.New("queue: stopped")

// Queue dispatches jobs to a Handler with bounded concurrency. A job is
// never active twice at once: re-dispatch attempts are strictly sequential.
type Queue struct {
	cfg     Config
	handler Handler
	store   JobStore
	clock   util.Clock
	log     *zap.SugaredLogger

	mu      sync.Mutex
	jobs    map[string]*Job
	waiting []string // job ids, FIFO admission order
	active  int
	stopped bool

	events chan Event
	quit   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// OnRetry fires after a transient failure when attempts remain, with the
	// computed backoff delay. OnExhausted fires when a job fails permanently.
	// Both run outside the scheduler lock.
	OnRetry     func(job Job, delay time.Duration, err error)
	OnExhausted func(job Job, err error)
}

func New(cfg Config, handler Handler, store JobStore, clock util.Clock, log *zap.SugaredLogger) *Queue {
	if store == nil {
		store = NopJobStore{}
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = util.Nop()
	}
	return &Queue{
		cfg:     cfg.withDefaults(),
		handler: handler,
		store:   store,
		clock:   clock,
		log:     log,
		jobs:    make(map[string]*Job),
		events:  make(chan Event, 256),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Events exposes the lifecycle event stream. Events are dropped, never
// queued unboundedly, if the consumer falls behind.
func (q *Queue) Events() <-chan Event { return q.events }

// Enqueue admits a job for dispatch and persists it.
func (q *Queue) Enqueue(orderID string, payload []byte, opts Options) (Job, error) {
	j := &Job{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Payload:     append([]byte(nil), payload...),
		MaxAttempts: q.cfg.MaxAttempts,
		BackoffBase: q.cfg.BackoffBase,
		Lease:       q.cfg.Lease,
		State:       StateWaiting,
	}
	if opts.MaxAttempts > 0 {
		j.MaxAttempts = opts.MaxAttempts
	}
	if opts.BackoffBase > 0 {
		j.BackoffBase = opts.BackoffBase
	}
	if opts.Lease > 0 {
		j.Lease = opts.Lease
	}
	now := q.clock.Now()
	j.NextRunAt = now
	j.CreatedAt = now
	j.UpdatedAt = now

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return Job{}, ErrStopped
	}
	q.jobs[j.ID] = j
	q.waiting = append(q.waiting, j.ID)
	q.mu.Unlock()

	if err := q.store.SaveJob(j); err != nil {
		q.log.Warnw("job_persist_failed", "job", j.ID, "err", err)
	}
	q.log.Infow("job_enqueued", "job", j.ID, "order", orderID)
	return *j, nil
}

// Restore re-admits jobs persisted by a previous process. Jobs that were
// active when the process died go back to waiting for re-dispatch.
func (q *Queue) Restore(jobs []*Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range jobs {
		if j.State != StateWaiting && j.State != StateActive {
			continue
		}
		cp := *j
		cp.State = StateWaiting
		cp.LeaseExpiresAt = time.Time{}
		q.jobs[cp.ID] = &cp
		q.waiting = append(q.waiting, cp.ID)
	}
}

// Start launches the dispatcher. The context is handed to workers; callers
// stop the queue with Stop.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case <-ctx.Done():
			return
		case <-q.clock.After(q.cfg.Poll):
			q.reclaimStalled()
			q.sweepFinished()
			q.dispatch(ctx)
		}
	}
}

// Stop is idempotent: it stops intake and dispatch, then waits for in-flight
// workers until the context expires. Abandoned workers lose their result and
// the job would be re-dispatched by a fresh process via Restore.
func (q *Queue) Stop(ctx context.Context) {
	q.once.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.quit)
		<-q.done

		finished := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-ctx.Done():
			// Abandoned workers lose their report; the attempt-number check
			// in settle keeps a late report from corrupting state.
			q.log.Warnw("queue_stop_grace_expired")
		}
	})
}

// Job returns a snapshot of the job with the given id.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// JobByOrder returns the job snapshot for the given order id, if the job is
// still within its retention window.
func (q *Queue) JobByOrder(orderID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.OrderID == orderID {
			return *j, true
		}
	}
	return Job{}, false
}

// Counts reports jobs per state, mostly for tests and the health endpoint.
func (q *Queue) Counts() map[State]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[State]int)
	for _, j := range q.jobs {
		out[j.State]++
	}
	return out
}

func (q *Queue) dispatch(ctx context.Context) {
	now := q.clock.Now()

	q.mu.Lock()
	var launch []*Job
	remaining := q.waiting[:0]
	for _, id := range q.waiting {
		j, ok := q.jobs[id]
		if !ok {
			continue
		}
		if q.active+len(launch) >= q.cfg.Concurrency || j.NextRunAt.After(now) {
			remaining = append(remaining, id)
			continue
		}
		j.State = StateActive
		j.Attempt++
		j.LeaseExpiresAt = now.Add(j.Lease)
		j.UpdatedAt = now
		launch = append(launch, j)
	}
	q.waiting = remaining
	q.active += len(launch)
	q.mu.Unlock()

	for _, j := range launch {
		snapshot := *j
		if err := q.store.SaveJob(&snapshot); err != nil {
			q.log.Warnw("job_persist_failed", "job", j.ID, "err", err)
		}
		q.emit(Event{Type: EventActive, JobID: j.ID, OrderID: j.OrderID, Attempt: snapshot.Attempt})
		q.wg.Add(1)
		go q.runAttempt(ctx, snapshot)
	}
}

func (q *Queue) runAttempt(ctx context.Context, j Job) {
	defer q.wg.Done()
	res := q.handler.Process(ctx, j)
	q.settle(j, res)
}

// settle applies the attempt outcome. A stale report (lease already
// reclaimed and the job re-dispatched or resolved) is a no-op, which also
// makes repeated ack/fail after terminal resolution harmless.
func (q *Queue) settle(attempt Job, res Result) {
	q.mu.Lock()
	j, ok := q.jobs[attempt.ID]
	if !ok || j.State != StateActive || j.Attempt != attempt.Attempt {
		q.mu.Unlock()
		return
	}
	q.active--
	now := q.clock.Now()
	j.UpdatedAt = now
	j.LeaseExpiresAt = time.Time{}

	var (
		ev    Event
		retry bool
		delay time.Duration
	)
	switch {
	case res.Outcome == OutcomeOK:
		j.State = StateCompleted
		j.FinishedAt = now
		ev = Event{Type: EventCompleted, JobID: j.ID, OrderID: j.OrderID, Attempt: j.Attempt}

	case res.Outcome == OutcomeRetryable && j.Attempt < j.MaxAttempts:
		delay = Backoff(j.BackoffBase, j.Attempt)
		j.State = StateWaiting
		j.NextRunAt = now.Add(delay)
		j.LastError = res.Err.Error()
		q.waiting = append(q.waiting, j.ID)
		retry = true
		ev = Event{Type: EventRetrying, JobID: j.ID, OrderID: j.OrderID, Attempt: j.Attempt, Delay: delay, Err: j.LastError}

	default:
		// Fatal, or retryable with attempts exhausted.
		j.State = StateFailed
		j.FinishedAt = now
		if res.Err != nil {
			j.LastError = res.Err.Error()
		}
		ev = Event{Type: EventFailed, JobID: j.ID, OrderID: j.OrderID, Attempt: j.Attempt, Err: j.LastError}
	}
	snapshot := *j
	q.mu.Unlock()

	if err := q.store.SaveJob(&snapshot); err != nil {
		q.log.Warnw("job_persist_failed", "job", snapshot.ID, "err", err)
	}
	q.emit(ev)

	if retry {
		q.log.Infow("job_retry_scheduled", "job", snapshot.ID, "order", snapshot.OrderID,
			"attempt", snapshot.Attempt, "delay", delay)
		if q.OnRetry != nil {
			q.OnRetry(snapshot, delay, res.Err)
		}
		return
	}
	if snapshot.State == StateFailed {
		q.log.Warnw("job_failed", "job", snapshot.ID, "order", snapshot.OrderID,
			"attempt", snapshot.Attempt, "err", snapshot.LastError)
		if q.OnExhausted != nil {
			q.OnExhausted(snapshot, res.Err)
		}
	}
}

// reclaimStalled returns lease-expired active jobs to the waiting queue.
// The late worker's report, if it ever arrives, is rejected in settle by the
// attempt-number check. This is the at-least-once edge: the attempt may in
// fact still complete after being re-dispatched.
func (q *Queue) reclaimStalled() {
	now := q.clock.Now()

	q.mu.Lock()
	var stalled []Event
	for _, j := range q.jobs {
		if j.State != StateActive || j.LeaseExpiresAt.IsZero() || j.LeaseExpiresAt.After(now) {
			continue
		}
		q.active--
		j.State = StateWaiting
		j.NextRunAt = now
		j.LeaseExpiresAt = time.Time{}
		j.UpdatedAt = now
		q.waiting = append(q.waiting, j.ID)
		stalled = append(stalled, Event{Type: EventStalled, JobID: j.ID, OrderID: j.OrderID, Attempt: j.Attempt})
	}
	q.mu.Unlock()

	for _, ev := range stalled {
		q.log.Warnw("job_stalled", "job", ev.JobID, "order", ev.OrderID, "attempt", ev.Attempt)
		q.emit(ev)
	}
}

// sweepFinished applies the retention policy to terminal jobs.
func (q *Queue) sweepFinished() {
	now := q.clock.Now()

	q.mu.Lock()
	var drop []string
	for id, j := range q.jobs {
		switch j.State {
		case StateCompleted:
			if now.Sub(j.FinishedAt) > q.cfg.CompletedTTL {
				drop = append(drop, id)
			}
		case StateFailed:
			if now.Sub(j.FinishedAt) > q.cfg.FailedTTL {
				drop = append(drop, id)
			}
		}
	}
	for _, id := range drop {
		delete(q.jobs, id)
	}
	q.mu.Unlock()

	for _, id := range drop {
		if err := q.store.DeleteJob(id); err != nil {
			q.log.Warnw("job_delete_failed", "job", id, "err", err)
		}
	}
}

func (q *Queue) emit(ev Event) {
	select {
	case q.events <- ev:
	default:
		// Consumer behind; drop rather than stall the scheduler.
	}
}
