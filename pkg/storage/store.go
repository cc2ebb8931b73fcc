// Package storage persists orders and queue jobs in Pebble. Values are JSON;
// terminal order statuses are write-guarded so they are never overwritten.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/dexflow-labs/dexflow/pkg/order"
	"github.com/dexflow-labs/dexflow/pkg/queue"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var (
	_ order.Store    = (*PebbleStore)(nil)
	_ queue.JobStore = (*PebbleStore)(nil)
)

// ============================================================================
// Order persistence
// ============================================================================

// SaveOrder writes the order record. Last write wins, keyed by order id.
func (s *PebbleStore) SaveOrder(o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetOrder(id string) (*order.Order, error) {
	data, closer, err := s.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	defer closer.Close()

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListOrders returns up to limit orders, newest first.
func (s *PebbleStore) ListOrders(limit int) ([]*order.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer iter.Close()

	var orders []*order.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue // Skip invalid entries
		}
		orders = append(orders, &o)
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// CompleteOrder records terminal success as one atomic write. A no-op if the
// order already reached a terminal status, which makes re-run attempts safe.
func (s *PebbleStore) CompleteOrder(id, selectedDex string, executedPrice float64, txHash string) error {
	return s.finalize(id, func(o *order.Order) {
		o.Status = order.StatusConfirmed
		o.SelectedDex = selectedDex
		o.ExecutedPrice = executedPrice
		o.TxHash = txHash
	})
}

// FailOrder records terminal failure. Same idempotence contract as CompleteOrder.
func (s *PebbleStore) FailOrder(id, errMsg string) error {
	return s.finalize(id, func(o *order.Order) {
		o.Status = order.StatusFailed
		o.Error = errMsg
	})
}

func (s *PebbleStore) finalize(id string, mutate func(*order.Order)) error {
	o, err := s.GetOrder(id)
	if err != nil {
		return err
	}
	if o.Status.Terminal() {
		return nil
	}
	mutate(o)
	o.UpdatedAt = time.Now().UTC()
	return s.SaveOrder(o)
}

// ============================================================================
// Job persistence
// ============================================================================

func (s *PebbleStore) SaveJob(j *queue.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.db.Set(jobKey(j.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *PebbleStore) DeleteJob(id string) error {
	if err := s.db.Delete(jobKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// LoadPendingJobs returns jobs that had not reached a terminal state when
// last persisted. Fed to Queue.Restore on startup.
func (s *PebbleStore) LoadPendingJobs() ([]*queue.Job, error) {
	prefix := []byte(prefixJob)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer iter.Close()

	var jobs []*queue.Job
	for iter.First(); iter.Valid(); iter.Next() {
		var j queue.Job
		if err := json.Unmarshal(iter.Value(), &j); err != nil {
			continue
		}
		if j.State == queue.StateWaiting || j.State == queue.StateActive {
			jobs = append(jobs, &j)
		}
	}
	return jobs, nil
}
