// Package eventlog reads and appends the raw event history that the
// reconciliation job replays. The log is append-only and keyed by event id,
// so redelivered envelopes collapse into a single row.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// StoredEvent is one row of the raw event history.
type StoredEvent struct {
	ID         int64
	EventID    string
	EventType  string
	Payload    json.RawMessage
	OccurredAt time.Time
}

// DBPool matches the *pgxpool.Pool methods used here.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresRepository struct {
	pool   DBPool
	logger *log.Logger
}

func NewPostgresRepository(pool DBPool, logger *log.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger}
}

// Append records one envelope. A duplicate event id is a silent no-op.
func (r *PostgresRepository) Append(ctx context.Context, eventID, eventType string, payload json.RawMessage, occurredAt time.Time) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO raw_events (event_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, payload, occurredAt)
	if err != nil {
		return fmt.Errorf("append raw event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, most recent first. If the ordered read
// fails (e.g. the occurred_at index is missing after a partial migration),
// it falls back to an unordered scan rather than failing reconciliation.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, event_type, payload, occurred_at
		FROM raw_events
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Printf("ordered raw_events read failed, retrying unordered: %v", err)
		rows, err = r.pool.Query(ctx, `
			SELECT id, event_id, event_type, payload, occurred_at
			FROM raw_events
			LIMIT $1
		`, limit)
		if err != nil {
			return nil, fmt.Errorf("select raw events: %w", err)
		}
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.EventType, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw events: %w", err)
	}
	return events, nil
}
