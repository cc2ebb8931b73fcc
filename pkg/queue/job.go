package queue

import "time"

// State is the queue-side lifecycle of a job, distinct from the order's own
// status: waiting jobs are eligible for dispatch (immediately or after a
// backoff delay), active jobs are leased to a worker, completed/failed are
// terminal and subject to retention cleanup.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job wraps an order id and payload with retry metadata. Owned by the queue;
// callers only ever see copies.
type Job struct {
	ID      string `json:"id"`
	OrderID string `json:"orderId"`
	Payload []byte `json:"payload"`

	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"maxAttempts"`
	BackoffBase time.Duration `json:"backoffBase"`
	Lease       time.Duration `json:"lease"`

	State          State     `json:"state"`
	NextRunAt      time.Time `json:"nextRunAt"`
	LeaseExpiresAt time.Time `json:"leaseExpiresAt,omitempty"`
	LastError      string    `json:"lastError,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Options overrides the queue defaults for a single enqueued job.
// Zero fields fall back to the queue configuration.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	Lease       time.Duration
}

// Backoff returns the delay before retry number attempt (1-based for the
// first failure): base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// JobStore persists job state transitions so pending work survives restarts.
type JobStore interface {
	SaveJob(j *Job) error
	DeleteJob(id string) error
	LoadPendingJobs() ([]*Job, error)
}

// NopJobStore discards everything; useful when durability is not needed.
type NopJobStore struct{}

func (NopJobStore) SaveJob(*Job) error               { return nil }
func (NopJobStore) DeleteJob(string) error           { return nil }
func (NopJobStore) LoadPendingJobs() ([]*Job, error) { return nil, nil }
