package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Cursor marks the newest raw event the last reconciliation run scanned.
type Cursor struct {
	LastTimestamp time.Time `json:"last_timestamp"`
	LastEventID   string    `json:"last_event_id"`
}

// CursorDB matches the *pgxpool.Pool methods the cursor repository uses.
type CursorDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresCursorRepository persists the single-row sync cursor.
type PostgresCursorRepository struct {
	pool CursorDB
}

func NewPostgresCursorRepository(pool CursorDB) *PostgresCursorRepository {
	return &PostgresCursorRepository{pool: pool}
}

func (r *PostgresCursorRepository) Advance(ctx context.Context, lastTimestamp time.Time, lastEventID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_cursor (id, last_timestamp, last_event_id, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			last_timestamp = EXCLUDED.last_timestamp,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = now()
	`, lastTimestamp, lastEventID)
	if err != nil {
		return fmt.Errorf("upsert sync cursor: %w", err)
	}
	return nil
}

// Get returns the cursor; the boolean reports whether one exists yet.
func (r *PostgresCursorRepository) Get(ctx context.Context) (Cursor, bool, error) {
	var c Cursor
	err := r.pool.QueryRow(ctx, `
		SELECT last_timestamp, last_event_id
		FROM sync_cursor
		WHERE id=1
	`).Scan(&c.LastTimestamp, &c.LastEventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("select sync cursor: %w", err)
	}
	return c, true, nil
}
