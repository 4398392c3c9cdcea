// Package task runs merge computations as cancellable, pollable background
// units. Deterministic merges complete inline; generative merges run one at
// a time per section with FIFO queueing behind the active task.
package task

import (
	"errors"
	"sync"
	"time"

	"github.com/hyperjump/matome/internal/models"
)

// Sentinel errors.
var (
	// ErrTaskNotFound reports an unknown or already swept task ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSectionBusy reports that a section's merge queue is at capacity.
	// The condition is transient; callers may retry after the active task
	// finishes.
	ErrSectionBusy = errors.New("section merge queue is full")
)

// Store is the mutex-guarded task table. All status changes go through
// transition, which is the single place the state machine is enforced:
// a task in a terminal status never changes again.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	order []string
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*models.Task)}
}

// Create registers a task.
func (s *Store) Create(task *models.Task) {
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
}

// Get returns a snapshot copy of a task. The copy is safe to hand to any
// number of concurrent pollers.
func (s *Store) Get(id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return snapshot(task), nil
}

// List returns snapshots of every retained task in creation order.
func (s *Store) List() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, 0, len(s.order))
	for _, id := range s.order {
		if task, ok := s.tasks[id]; ok {
			out = append(out, snapshot(task))
		}
	}
	return out
}

// transition moves a task to status and applies fn to it under the lock.
// It reports whether the transition happened: unknown tasks and tasks
// already in a terminal status are left untouched.
func (s *Store) transition(id, status string, fn func(*models.Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.Terminal() {
		return false
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	if fn != nil {
		fn(task)
	}
	return true
}

// Sweep drops terminal tasks whose last update is older than retention and
// returns how many were dropped.
func (s *Store) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	dropped := 0
	for _, id := range s.order {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if task.Terminal() && task.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return dropped
}

// snapshot deep-copies a task so callers never share memory with the store.
func snapshot(task *models.Task) models.Task {
	out := *task
	if task.Result != nil {
		result := *task.Result
		out.Result = &result
	}
	return out
}
