package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/money"
)

func TestUpsertAdd(t *testing.T) {
	t.Parallel()

	pool := newMockPool()
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	agg, err := repo.UpsertAdd(ctx, 7, 2, 2000, "OrderCreated")
	if err != nil {
		t.Fatalf("upsert add: %v", err)
	}
	if agg.TotalSales != 2 || agg.TotalRevenue != 2000 {
		t.Fatalf("unexpected aggregate after create: %+v", agg)
	}

	agg, err = repo.UpsertAdd(ctx, 7, 3, 1500, "OrderCreated")
	if err != nil {
		t.Fatalf("upsert add: %v", err)
	}
	if agg.TotalSales != 5 || agg.TotalRevenue != 3500 {
		t.Fatalf("deltas not accumulated: %+v", agg)
	}
}

func TestUpsertAddConcurrentNoLostUpdates(t *testing.T) {
	t.Parallel()

	pool := newMockPool()
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.UpsertAdd(ctx, 7, 1, 1000, "OrderCreated"); err != nil {
				t.Errorf("upsert add: %v", err)
			}
		}()
	}
	wg.Wait()

	agg, err := repo.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agg.TotalSales != n || agg.TotalRevenue != money.Cents(n*1000) {
		t.Fatalf("lost update: %+v", agg)
	}
}

func TestApplyOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lines := []OrderLine{
		{ProductID: 7, Quantity: 2, UnitPrice: 1000},
		{ProductID: 8, Quantity: 1, UnitPrice: 550},
	}

	t.Run("applies all lines once", func(t *testing.T) {
		pool := newMockPool()
		repo := NewPostgresRepository(pool)

		applied, err := repo.ApplyOrder(ctx, "analytics-ingest", "evt-1", lines)
		if err != nil {
			t.Fatalf("apply order: %v", err)
		}
		if !applied {
			t.Fatalf("first delivery should apply")
		}
		if pool.lastTx == nil || !pool.lastTx.committed {
			t.Fatalf("transaction not committed")
		}

		agg, _ := repo.Get(ctx, 7)
		if agg.TotalSales != 2 || agg.TotalRevenue != 2000 {
			t.Fatalf("product 7 aggregate wrong: %+v", agg)
		}
		agg, _ = repo.Get(ctx, 8)
		if agg.TotalSales != 1 || agg.TotalRevenue != 550 {
			t.Fatalf("product 8 aggregate wrong: %+v", agg)
		}
	})

	t.Run("duplicate event id is a no-op", func(t *testing.T) {
		pool := newMockPool()
		repo := NewPostgresRepository(pool)

		if _, err := repo.ApplyOrder(ctx, "analytics-ingest", "evt-1", lines); err != nil {
			t.Fatalf("first apply: %v", err)
		}
		applied, err := repo.ApplyOrder(ctx, "analytics-ingest", "evt-1", lines)
		if err != nil {
			t.Fatalf("second apply: %v", err)
		}
		if applied {
			t.Fatalf("duplicate delivery should not apply")
		}

		agg, _ := repo.Get(ctx, 7)
		if agg.TotalSales != 2 {
			t.Fatalf("duplicate mutated the aggregate: %+v", agg)
		}
	})

	t.Run("distinct event ids both apply", func(t *testing.T) {
		pool := newMockPool()
		repo := NewPostgresRepository(pool)

		_, _ = repo.ApplyOrder(ctx, "analytics-ingest", "evt-1", lines)
		_, _ = repo.ApplyOrder(ctx, "analytics-ingest", "evt-2", lines)

		agg, _ := repo.Get(ctx, 7)
		if agg.TotalSales != 4 || agg.TotalRevenue != 4000 {
			t.Fatalf("second event lost: %+v", agg)
		}
	})

	t.Run("begin failure surfaces", func(t *testing.T) {
		pool := newMockPool()
		pool.beginErr = errors.New("cannot begin")
		repo := NewPostgresRepository(pool)

		if _, err := repo.ApplyOrder(ctx, "analytics-ingest", "evt-1", lines); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("commit failure surfaces", func(t *testing.T) {
		pool := newMockPool()
		pool.commitErr = errors.New("commit fail")
		repo := NewPostgresRepository(pool)

		if _, err := repo.ApplyOrder(ctx, "analytics-ingest", "evt-1", lines); err == nil {
			t.Fatalf("expected error")
		}
		if pool.lastTx == nil || !pool.lastTx.rolledBack {
			t.Fatalf("rollback not invoked after commit failure")
		}
	})
}

func TestOverwriteAndSetLastEvent(t *testing.T) {
	t.Parallel()

	pool := newMockPool()
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	if _, err := repo.UpsertAdd(ctx, 7, 5, 5000, "OrderCreated"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := repo.Overwrite(ctx, 7, 2, 2000, "OrderCreated"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	agg, _ := repo.Get(ctx, 7)
	if agg.TotalSales != 2 || agg.TotalRevenue != 2000 {
		t.Fatalf("overwrite should replace, not add: %+v", agg)
	}

	if err := repo.SetLastEvent(ctx, 7, "ProductUpdated"); err != nil {
		t.Fatalf("set last event: %v", err)
	}
	agg, _ = repo.Get(ctx, 7)
	if agg.LastEvent != "ProductUpdated" || agg.TotalSales != 2 {
		t.Fatalf("set last event must preserve totals: %+v", agg)
	}

	// Creates the row for never-sold products.
	if err := repo.SetLastEvent(ctx, 9, "ProductCreated"); err != nil {
		t.Fatalf("set last event: %v", err)
	}
	agg, _ = repo.Get(ctx, 9)
	if agg.TotalSales != 0 || agg.LastEvent != "ProductCreated" {
		t.Fatalf("unexpected row for new product: %+v", agg)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	repo := NewPostgresRepository(newMockPool())
	if _, err := repo.Get(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestOverview(t *testing.T) {
	t.Parallel()

	pool := newMockPool()
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	if _, err := repo.Overview(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty overview should be ErrNotFound")
	}

	want := Overview{TotalSales: 12, TotalRevenue: 34500, ProductCount: 3}
	if err := repo.SetOverview(ctx, want); err != nil {
		t.Fatalf("set overview: %v", err)
	}
	got, err := repo.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if got.TotalSales != want.TotalSales || got.TotalRevenue != want.TotalRevenue || got.ProductCount != want.ProductCount {
		t.Fatalf("overview mismatch\ngot  %+v\nwant %+v", got, want)
	}
}

// --- mock pool -------------------------------------------------------------

type aggRow struct {
	sales     int64
	revenue   money.Cents
	lastEvent string
}

type overviewRow struct {
	sales    int64
	revenue  money.Cents
	products int64
	set      bool
}

type mockPool struct {
	mu        sync.Mutex
	rows      map[int64]*aggRow
	processed map[string]bool
	overview  overviewRow

	beginErr  error
	commitErr error

	lastTx *mockTx
}

func newMockPool() *mockPool {
	return &mockPool{
		rows:      make(map[int64]*aggRow),
		processed: make(map[string]bool),
	}
}

func (p *mockPool) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	tx := &mockTx{pool: p}
	p.lastTx = tx
	return tx, nil
}

func (p *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case strings.Contains(sql, "INSERT INTO product_analytics") && strings.Contains(sql, "RETURNING"):
		productID := toInt64(args[0])
		deltaSales := toInt64(args[1])
		deltaRevenue, err := money.Parse(args[2].(string))
		if err != nil {
			return mockRow{err: err}
		}
		row := p.rows[productID]
		if row == nil {
			row = &aggRow{}
			p.rows[productID] = row
		}
		row.sales += deltaSales
		row.revenue += deltaRevenue
		row.lastEvent = args[3].(string)
		return mockRow{values: []any{productID, row.sales, row.revenue.String(), row.lastEvent, time.Now()}}

	case strings.Contains(sql, "FROM product_analytics"):
		productID := toInt64(args[0])
		row, ok := p.rows[productID]
		if !ok {
			return mockRow{err: pgx.ErrNoRows}
		}
		return mockRow{values: []any{productID, row.sales, row.revenue.String(), row.lastEvent, time.Now()}}

	case strings.Contains(sql, "FROM analytics_overview"):
		if !p.overview.set {
			return mockRow{err: pgx.ErrNoRows}
		}
		return mockRow{values: []any{p.overview.sales, p.overview.revenue.String(), p.overview.products, time.Now()}}
	}
	return mockRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (p *mockPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case strings.Contains(sql, "INSERT INTO processed_events"):
		key := args[0].(string) + "/" + args[1].(string)
		if p.processed[key] {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		p.processed[key] = true
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case strings.Contains(sql, "INSERT INTO analytics_overview"):
		revenue, err := money.Parse(args[1].(string))
		if err != nil {
			return pgconn.CommandTag{}, err
		}
		p.overview = overviewRow{
			sales:    toInt64(args[0]),
			revenue:  revenue,
			products: toInt64(args[2]),
			set:      true,
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case strings.Contains(sql, "VALUES ($1, 0, 0"):
		productID := toInt64(args[0])
		row := p.rows[productID]
		if row == nil {
			row = &aggRow{}
			p.rows[productID] = row
		}
		row.lastEvent = args[1].(string)
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case strings.Contains(sql, "INSERT INTO product_analytics"):
		revenue, err := money.Parse(args[2].(string))
		if err != nil {
			return pgconn.CommandTag{}, err
		}
		p.rows[toInt64(args[0])] = &aggRow{
			sales:     toInt64(args[1]),
			revenue:   revenue,
			lastEvent: args[3].(string),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		panic(fmt.Sprintf("unexpected arg type %T", v))
	}
}

type mockRow struct {
	values []any
	err    error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan arity mismatch: %d != %d", len(dest), len(r.values))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("unsupported scan dest %T", dest[i])
		}
	}
	return nil
}

// mockTx forwards statements to the pool and tracks lifecycle flags.
type mockTx struct {
	pool       *mockPool
	committed  bool
	rolledBack bool
}

func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx") }

func (t *mockTx) Commit(ctx context.Context) error {
	if t.pool.commitErr != nil {
		return t.pool.commitErr
	}
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}

func (t *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *mockTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}

func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.pool.Exec(ctx, sql, args...)
}

func (t *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (t *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.pool.QueryRow(ctx, sql, args...)
}

func (t *mockTx) Conn() *pgx.Conn { return nil }
