package storage

import (
	"sync"
	"time"

	"github.com/dexflow-labs/dexflow/pkg/order"
	"github.com/dexflow-labs/dexflow/pkg/queue"
)

// MemoryStore is an in-memory OrderStore/JobStore with the same terminal-guard
// semantics as PebbleStore. For tests and throwaway dev runs.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]order.Order
	jobs   map[string]queue.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]order.Order),
		jobs:   make(map[string]queue.Job),
	}
}

var (
	_ order.Store    = (*MemoryStore)(nil)
	_ queue.JobStore = (*MemoryStore)(nil)
)

func (s *MemoryStore) SaveOrder(o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = *o
	return nil
}

func (s *MemoryStore) GetOrder(id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(limit int) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := o
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CompleteOrder(id, selectedDex string, executedPrice float64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status.Terminal() {
		return nil
	}
	o.Status = order.StatusConfirmed
	o.SelectedDex = selectedDex
	o.ExecutedPrice = executedPrice
	o.TxHash = txHash
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) FailOrder(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status.Terminal() {
		return nil
	}
	o.Status = order.StatusFailed
	o.Error = errMsg
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) SaveJob(j *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = *j
	return nil
}

func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) LoadPendingJobs() ([]*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*queue.Job
	for _, j := range s.jobs {
		if j.State == queue.StateWaiting || j.State == queue.StateActive {
			cp := j
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}
