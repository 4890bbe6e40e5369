// Package analytics persists per-product sales aggregates in Postgres.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/money"
)

var ErrNotFound = errors.New("not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Executor is the subset shared by the pool and a transaction.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresRepository struct {
	pool  DBPool
	dedup *dedup.Repository
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool, dedup: dedup.NewRepository(pool)}
}

// ApplyOrder folds one order event into the aggregates of every product it
// touches. The dedup record and all upserts share one transaction, so a
// redelivered event (same eventID for the same consumer) is a no-op and a
// partially applied event can never be observed.
func (r *PostgresRepository) ApplyOrder(ctx context.Context, consumerName, eventID string, lines []OrderLine) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first, err := r.dedup.WithExecutor(tx).Mark(ctx, consumerName, eventID)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	for _, line := range lines {
		if _, err := upsertAdd(ctx, tx, line.ProductID, line.Quantity, line.Revenue(), "OrderCreated"); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit order: %w", err)
	}
	return true, nil
}

// UpsertAdd atomically adds deltas to a product's aggregate, creating the
// row with zero defaults if absent. The single INSERT ... ON CONFLICT
// statement is the lost-update guard: two concurrent calls for the same
// product serialize on the row and both contributions survive.
func (r *PostgresRepository) UpsertAdd(ctx context.Context, productID, deltaSales int64, deltaRevenue money.Cents, lastEvent string) (ProductAggregate, error) {
	return upsertAdd(ctx, r.pool, productID, deltaSales, deltaRevenue, lastEvent)
}

func upsertAdd(ctx context.Context, exec Executor, productID, deltaSales int64, deltaRevenue money.Cents, lastEvent string) (ProductAggregate, error) {
	row := exec.QueryRow(ctx, `
		INSERT INTO product_analytics (product_id, total_sales, total_revenue, last_event, updated_at)
		VALUES ($1, $2, $3::numeric, $4, now())
		ON CONFLICT (product_id) DO UPDATE SET
			total_sales = product_analytics.total_sales + EXCLUDED.total_sales,
			total_revenue = product_analytics.total_revenue + EXCLUDED.total_revenue,
			last_event = EXCLUDED.last_event,
			updated_at = now()
		RETURNING product_id, total_sales, total_revenue::text, last_event, updated_at
	`, productID, deltaSales, deltaRevenue.String(), lastEvent)

	agg, err := scanAggregate(row)
	if err != nil {
		return ProductAggregate{}, fmt.Errorf("upsert aggregate for product %d: %w", productID, err)
	}
	return agg, nil
}

// Overwrite replaces a product's aggregate with recomputed totals. Used by
// reconciliation only; the live path always adds.
func (r *PostgresRepository) Overwrite(ctx context.Context, productID, totalSales int64, totalRevenue money.Cents, lastEvent string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO product_analytics (product_id, total_sales, total_revenue, last_event, updated_at)
		VALUES ($1, $2, $3::numeric, $4, now())
		ON CONFLICT (product_id) DO UPDATE SET
			total_sales = EXCLUDED.total_sales,
			total_revenue = EXCLUDED.total_revenue,
			last_event = EXCLUDED.last_event,
			updated_at = now()
	`, productID, totalSales, totalRevenue.String(), lastEvent)
	if err != nil {
		return fmt.Errorf("overwrite aggregate for product %d: %w", productID, err)
	}
	return nil
}

// SetLastEvent updates only the last_event marker, preserving totals.
func (r *PostgresRepository) SetLastEvent(ctx context.Context, productID int64, lastEvent string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO product_analytics (product_id, total_sales, total_revenue, last_event, updated_at)
		VALUES ($1, 0, 0, $2, now())
		ON CONFLICT (product_id) DO UPDATE SET
			last_event = EXCLUDED.last_event,
			updated_at = now()
	`, productID, lastEvent)
	if err != nil {
		return fmt.Errorf("set last event for product %d: %w", productID, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, productID int64) (ProductAggregate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT product_id, total_sales, total_revenue::text, last_event, updated_at
		FROM product_analytics
		WHERE product_id=$1
	`, productID)

	agg, err := scanAggregate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductAggregate{}, ErrNotFound
		}
		return ProductAggregate{}, err
	}
	return agg, nil
}

// SetOverview publishes the global rollup (single-row table).
func (r *PostgresRepository) SetOverview(ctx context.Context, ov Overview) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO analytics_overview (id, total_sales, total_revenue, product_count, updated_at)
		VALUES (1, $1, $2::numeric, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			total_sales = EXCLUDED.total_sales,
			total_revenue = EXCLUDED.total_revenue,
			product_count = EXCLUDED.product_count,
			updated_at = now()
	`, ov.TotalSales, ov.TotalRevenue.String(), ov.ProductCount)
	if err != nil {
		return fmt.Errorf("set overview: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Overview(ctx context.Context) (Overview, error) {
	var (
		ov      Overview
		revenue string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT total_sales, total_revenue::text, product_count, updated_at
		FROM analytics_overview
		WHERE id=1
	`).Scan(&ov.TotalSales, &revenue, &ov.ProductCount, &ov.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Overview{}, ErrNotFound
		}
		return Overview{}, fmt.Errorf("select overview: %w", err)
	}
	if ov.TotalRevenue, err = money.Parse(revenue); err != nil {
		return Overview{}, fmt.Errorf("parse overview revenue: %w", err)
	}
	return ov, nil
}

func scanAggregate(row pgx.Row) (ProductAggregate, error) {
	var (
		agg     ProductAggregate
		revenue string
		updated time.Time
	)
	if err := row.Scan(&agg.ProductID, &agg.TotalSales, &revenue, &agg.LastEvent, &updated); err != nil {
		return ProductAggregate{}, err
	}
	parsed, err := money.Parse(revenue)
	if err != nil {
		return ProductAggregate{}, fmt.Errorf("parse revenue %q: %w", revenue, err)
	}
	agg.TotalRevenue = parsed
	agg.UpdatedAt = updated
	return agg, nil
}
