package memory

import (
	"context"
	"sort"
	"sync"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PositionID] = clonePosition(p)
	return nil
}

// InsertBulk adds multiple positions atomically. Fails entire batch on any duplicate.
func (s *PositionStore) InsertBulk(_ context.Context, positions []*domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if p == nil || p.PositionID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[p.PositionID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[p.PositionID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[p.PositionID] = struct{}{}
	}

	for _, p := range positions {
		s.data[p.PositionID] = clonePosition(p)
	}
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[positionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clonePosition(p), nil
}

// GetByRunID retrieves all positions of a run, ordered by opened_seq ASC.
func (s *PositionStore) GetByRunID(_ context.Context, runID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.RunID == runID {
			result = append(result, clonePosition(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedSeq < result[j].OpenedSeq
	})
	return result, nil
}

// clonePosition deep-copies a position including its exit records.
func clonePosition(p *domain.Position) *domain.Position {
	copy := *p
	if len(p.PartialExits) > 0 {
		copy.PartialExits = make([]domain.PartialExitRecord, len(p.PartialExits))
		for i, rec := range p.PartialExits {
			copy.PartialExits[i] = rec
		}
	}
	return &copy
}
