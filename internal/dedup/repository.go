// Package dedup records which event ids each consumer has already applied,
// making handlers reentrant under at-least-once delivery.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor represents the subset of pgx methods required for dedup operations.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	executor Executor
}

func NewRepository(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// WithExecutor returns a shallow copy using the provided executor (e.g., a
// transaction), so the dedup record commits atomically with the mutation it
// guards.
func (r *Repository) WithExecutor(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// Mark records eventID as processed by consumerName. It returns false when
// the event was already recorded, i.e. this delivery is a duplicate.
func (r *Repository) Mark(ctx context.Context, consumerName, eventID string) (bool, error) {
	tag, err := r.executor.Exec(ctx, `
		INSERT INTO processed_events (consumer_name, event_id)
		VALUES ($1, $2)
		ON CONFLICT (consumer_name, event_id) DO NOTHING
	`, consumerName, eventID)
	if err != nil {
		return false, fmt.Errorf("insert processed event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Seen reports whether eventID has already been processed by consumerName.
func (r *Repository) Seen(ctx context.Context, consumerName, eventID string) (bool, error) {
	var one int
	err := r.executor.QueryRow(ctx, `
		SELECT 1
		FROM processed_events
		WHERE consumer_name=$1 AND event_id=$2
	`, consumerName, eventID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select processed event: %w", err)
	}
	return true, nil
}
