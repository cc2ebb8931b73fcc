package queue

import "time"

// EventType classifies queue lifecycle transitions.
type EventType string

const (
	EventActive    EventType = "active"    // job leased to a worker
	EventCompleted EventType = "completed" // worker reported success
	EventRetrying  EventType = "retrying"  // transient failure, re-dispatch scheduled
	EventFailed    EventType = "failed"    // attempts exhausted or fatal error
	EventStalled   EventType = "stalled"   // lease expired without a report
)

// Event is published on every job lifecycle transition. Consumers (logging,
// metrics) read the stream via Queue.Events; delivery is best-effort and
// never blocks the scheduler.
type Event struct {
	Type    EventType     `json:"type"`
	JobID   string        `json:"jobId"`
	OrderID string        `json:"orderId"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay,omitempty"`
	Err     string        `json:"err,omitempty"`
}
