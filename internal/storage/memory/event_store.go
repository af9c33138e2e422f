package memory

import (
	"context"
	"sync"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
// Events are kept in insertion order, which is emission order for a
// single-run writer.
type EventStore struct {
	mu     sync.RWMutex
	events []*domain.Event
	byID   map[string]struct{}
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		byID: make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if evt == nil || evt.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.byID[evt.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[evt.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[evt.EventID] = struct{}{}
	}

	for _, evt := range events {
		s.events = append(s.events, cloneEvent(evt))
		s.byID[evt.EventID] = struct{}{}
	}
	return nil
}

// GetByRunID retrieves all events of a run in emission order.
func (s *EventStore) GetByRunID(_ context.Context, runID string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, evt := range s.events {
		if evt.RunID == runID {
			result = append(result, cloneEvent(evt))
		}
	}
	return result, nil
}

// GetByPositionID retrieves a position's events in emission order.
func (s *EventStore) GetByPositionID(_ context.Context, positionID string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, evt := range s.events {
		if evt.PositionID == positionID {
			result = append(result, cloneEvent(evt))
		}
	}
	return result, nil
}

// cloneEvent deep-copies an event including its payload.
func cloneEvent(evt *domain.Event) *domain.Event {
	copy := *evt
	if evt.Opened != nil {
		payload := *evt.Opened
		copy.Opened = &payload
	}
	if evt.PartialExit != nil {
		payload := *evt.PartialExit
		copy.PartialExit = &payload
	}
	if evt.Closed != nil {
		payload := *evt.Closed
		copy.Closed = &payload
	}
	if evt.Reset != nil {
		payload := *evt.Reset
		copy.Reset = &payload
	}
	return &copy
}
