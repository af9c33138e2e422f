package memory

import (
	"context"
	"sync"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// ExecutionStore is an in-memory implementation of storage.ExecutionStore.
type ExecutionStore struct {
	mu         sync.RWMutex
	executions []*domain.Execution
	byID       map[string]struct{}
}

// NewExecutionStore creates a new in-memory execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		byID: make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

// InsertBulk adds multiple executions atomically. Fails entire batch on any duplicate.
func (s *ExecutionStore) InsertBulk(_ context.Context, executions []*domain.Execution) error {
	if len(executions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(executions))
	for _, exe := range executions {
		if exe == nil || exe.ExecutionID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.byID[exe.ExecutionID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[exe.ExecutionID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[exe.ExecutionID] = struct{}{}
	}

	for _, exe := range executions {
		copy := *exe
		s.executions = append(s.executions, &copy)
		s.byID[exe.ExecutionID] = struct{}{}
	}
	return nil
}

// GetByRunID retrieves all executions of a run in emission order.
func (s *ExecutionStore) GetByRunID(_ context.Context, runID string) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Execution
	for _, exe := range s.executions {
		if exe.RunID == runID {
			copy := *exe
			result = append(result, &copy)
		}
	}
	return result, nil
}

// GetByPositionID retrieves a position's executions in emission order.
func (s *ExecutionStore) GetByPositionID(_ context.Context, positionID string) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Execution
	for _, exe := range s.executions {
		if exe.PositionID == positionID {
			copy := *exe
			result = append(result, &copy)
		}
	}
	return result, nil
}
