package ble

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Serializer gives callers exclusive use of a peripheral for the length of a
// multi-command exchange. Different peripherals proceed concurrently.
type Serializer struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewSerializer returns an empty Serializer.
func NewSerializer() *Serializer {
	return &Serializer{sems: make(map[string]*semaphore.Weighted)}
}

func (s *Serializer) get(id string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.sems[id] = sem
	}
	return sem
}

// Do runs fn while holding peripheral id. It returns ctx.Err() if ctx ends
// before the peripheral is free.
func (s *Serializer) Do(ctx context.Context, id string, fn func() error) error {
	sem := s.get(id)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn()
}
