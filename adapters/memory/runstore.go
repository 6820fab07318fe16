// Package memory provides in-memory implementations of storage ports.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/artpar/rpcspec/ports"
)

// RunStore is an in-memory implementation of ports.RunStore.
// When capacity is positive, the oldest runs are evicted beyond it.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[string]ports.Run
	order    []string // insertion order, oldest first
	capacity int
}

// NewRunStore creates a new in-memory run store. A capacity of zero keeps every run.
func NewRunStore(capacity int) *RunStore {
	return &RunStore{
		runs:     make(map[string]ports.Run),
		capacity: capacity,
	}
}

// Ensure interface compliance.
var _ ports.RunStore = (*RunStore)(nil)

// Create stores a run.
func (s *RunStore) Create(ctx context.Context, run ports.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	run.Results = slices.Clone(run.Results)
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)

	for s.capacity > 0 && len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (ports.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return ports.Run{}, ports.ErrNotFound
	}
	run.Results = slices.Clone(run.Results)
	return run, nil
}

// List returns up to limit runs, newest first, without results.
func (s *RunStore) List(ctx context.Context, limit int) ([]ports.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}

	runs := make([]ports.Run, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(runs) < limit; i-- {
		run := s.runs[s.order[i]]
		run.Results = nil
		runs = append(runs, run)
	}
	return runs, nil
}

// Len returns the number of stored runs.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
