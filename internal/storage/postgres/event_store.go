package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
// The type-specific payload is stored as a single JSONB column; the
// emit_seq serial preserves emission order across reads.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEventQuery = `
	INSERT INTO events (event_id, run_id, position_id, event_type, timestamp_ms, reason, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const selectEventColumns = `event_id, run_id, position_id, event_type, timestamp_ms, reason, payload`

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, evt := range events {
		if evt == nil || evt.EventID == "" {
			return storage.ErrInvalidInput
		}
		payload, err := marshalPayload(evt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertEventQuery,
			evt.EventID, evt.RunID, evt.PositionID, string(evt.Type),
			evt.TimestampMs, evt.Reason, payload)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert event in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves all events of a run in emission order.
func (s *EventStore) GetByRunID(ctx context.Context, runID string) ([]*domain.Event, error) {
	query := `
		SELECT ` + selectEventColumns + `
		FROM events
		WHERE run_id = $1
		ORDER BY emit_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get events by run id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByPositionID retrieves a position's events in emission order.
func (s *EventStore) GetByPositionID(ctx context.Context, positionID string) ([]*domain.Event, error) {
	query := `
		SELECT ` + selectEventColumns + `
		FROM events
		WHERE position_id = $1
		ORDER BY emit_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("get events by position id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// marshalPayload serializes the one payload matching the event type.
func marshalPayload(evt *domain.Event) ([]byte, error) {
	var payload interface{}
	switch evt.Type {
	case domain.EventPositionOpened:
		payload = evt.Opened
	case domain.EventPositionPartialExit:
		payload = evt.PartialExit
	case domain.EventPositionClosed:
		payload = evt.Closed
	case domain.EventPortfolioReset:
		payload = evt.Reset
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", storage.ErrInvalidInput, evt.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return data, nil
}

// unmarshalPayload deserializes the JSONB payload into the pointer
// matching the event type.
func unmarshalPayload(evt *domain.Event, data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	switch evt.Type {
	case domain.EventPositionOpened:
		evt.Opened = &domain.OpenedPayload{}
		return json.Unmarshal(data, evt.Opened)
	case domain.EventPositionPartialExit:
		evt.PartialExit = &domain.PartialExitPayload{}
		return json.Unmarshal(data, evt.PartialExit)
	case domain.EventPositionClosed:
		evt.Closed = &domain.ClosedPayload{}
		return json.Unmarshal(data, evt.Closed)
	case domain.EventPortfolioReset:
		evt.Reset = &domain.ResetPayload{}
		return json.Unmarshal(data, evt.Reset)
	}
	return fmt.Errorf("unknown event type %q", evt.Type)
}

func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var result []*domain.Event
	for rows.Next() {
		var (
			evt       domain.Event
			eventType string
			payload   []byte
		)
		err := rows.Scan(&evt.EventID, &evt.RunID, &evt.PositionID, &eventType,
			&evt.TimestampMs, &evt.Reason, &payload)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = domain.EventType(eventType)
		if err := unmarshalPayload(&evt, payload); err != nil {
			return nil, fmt.Errorf("unmarshal event %s: %w", evt.EventID, err)
		}
		result = append(result, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
