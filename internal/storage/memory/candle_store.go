package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.Candle // keyed by contract address, sorted by timestamp
	keys map[string]struct{}         // (contract, timestamp) uniqueness
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string][]*domain.Candle),
		keys: make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles. Fails entire batch on duplicate
// (contract_address, timestamp_ms).
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(candles))
	for _, c := range candles {
		if c == nil || c.ContractAddress == "" {
			return storage.ErrInvalidInput
		}
		key := candleKey(c)
		if _, exists := s.keys[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, c := range candles {
		copy := *c
		s.data[c.ContractAddress] = append(s.data[c.ContractAddress], &copy)
		s.keys[candleKey(c)] = struct{}{}
	}
	for contract := range batchContracts(candles) {
		sort.Slice(s.data[contract], func(i, j int) bool {
			return s.data[contract][i].TimestampMs < s.data[contract][j].TimestampMs
		})
	}
	return nil
}

// GetByContract retrieves all candles for a contract, ordered by timestamp ASC.
func (s *CandleStore) GetByContract(_ context.Context, contract string) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.data[contract]
	result := make([]*domain.Candle, 0, len(stored))
	for _, c := range stored {
		copy := *c
		result = append(result, &copy)
	}
	return result, nil
}

// GetByTimeRange retrieves candles for a contract within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(_ context.Context, contract string, start, end int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data[contract] {
		if c.TimestampMs >= start && c.TimestampMs <= end {
			copy := *c
			result = append(result, &copy)
		}
	}
	return result, nil
}

func candleKey(c *domain.Candle) string {
	return fmt.Sprintf("%s:%d", c.ContractAddress, c.TimestampMs)
}

func batchContracts(candles []*domain.Candle) map[string]struct{} {
	contracts := make(map[string]struct{})
	for _, c := range candles {
		contracts[c.ContractAddress] = struct{}{}
	}
	return contracts
}
