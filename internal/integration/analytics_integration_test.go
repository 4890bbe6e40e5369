package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/analytics"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/cache"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/eventlog"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/reconcile"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/signature"
)

const testSecret = "integration-secret"

func TestAnalyticsIntegration(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pgC, dbURL := startPostgres(ctx, t)
	defer terminateContainer(t, pgC)

	logger := log.New(io.Discard, "", log.LstdFlags)
	require.NoError(t, db.RunMigrations(dbURL, logger))

	app := startAnalyticsService(ctx, t, dbURL)
	defer app.stop()

	client := &http.Client{Timeout: 5 * time.Second}

	// One order, delivered twice: the second delivery must not double-count.
	order1 := envelopeBody("OrderCreated",
		`{"order_id":1,"user_id":"u1","items":[{"product_id":7,"quantity":2,"unit_price":"10.00"}],"total":"20.00","status":"paid"}`)
	for i := 0; i < 2; i++ {
		postEvent(ctx, t, client, app.baseURL, order1, signature.Sign(testSecret, order1), http.StatusOK)
	}

	agg := getAggregate(ctx, t, client, app.baseURL, 7)
	require.EqualValues(t, 2, agg.TotalSales)
	require.EqualValues(t, 2000, agg.TotalRevenue)

	// A second order touching two products.
	order2 := envelopeBody("OrderCreated",
		`{"order_id":2,"user_id":"u2","items":[{"product_id":7,"quantity":1,"unit_price":"10.00"},{"product_id":8,"quantity":3,"unit_price":"5.00"}],"total":"25.00","status":"paid"}`)
	postEvent(ctx, t, client, app.baseURL, order2, signature.Sign(testSecret, order2), http.StatusOK)

	agg = getAggregate(ctx, t, client, app.baseURL, 7)
	require.EqualValues(t, 3, agg.TotalSales)
	require.EqualValues(t, 3000, agg.TotalRevenue)

	// Concurrent distinct orders for one product: no lost updates.
	const concurrent = 10
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body := envelopeBody("OrderCreated", fmt.Sprintf(
				`{"order_id":%d,"user_id":"u1","items":[{"product_id":9,"quantity":1,"unit_price":"10.00"}],"total":"10.00","status":"paid"}`, 100+n))
			postEvent(ctx, t, client, app.baseURL, body, signature.Sign(testSecret, body), http.StatusOK)
		}(i)
	}
	wg.Wait()

	agg = getAggregate(ctx, t, client, app.baseURL, 9)
	require.EqualValues(t, concurrent, agg.TotalSales)
	require.EqualValues(t, concurrent*1000, agg.TotalRevenue)

	// Wrong secret never reaches storage.
	badSig := signature.Sign("other-secret", order1)
	postEvent(ctx, t, client, app.baseURL, order1, badSig, http.StatusUnauthorized)

	// Unknown event types are acked and logged for replay, not dispatched.
	future := envelopeBody("SomethingFutureEvent", `{"whatever":1}`)
	postEvent(ctx, t, client, app.baseURL, future, signature.Sign(testSecret, future), http.StatusOK)

	// Reconciliation replays the raw log and converges on the same totals.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, app.baseURL+"/internal/reconcile?limit=50", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	var recon struct {
		OK        bool `json:"ok"`
		Processed int  `json:"processed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recon))
	resp.Body.Close()
	require.True(t, recon.OK)
	// 2 orders + 10 concurrent + 1 unknown; the duplicate delivery collapsed.
	require.Equal(t, 13, recon.Processed)

	agg = getAggregate(ctx, t, client, app.baseURL, 7)
	require.EqualValues(t, 3, agg.TotalSales)
	require.EqualValues(t, 3000, agg.TotalRevenue)

	resp, err = client.Get(app.baseURL + "/api/analytics/overview")
	require.NoError(t, err)
	var ov analytics.Overview
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ov))
	resp.Body.Close()
	require.EqualValues(t, 16, ov.TotalSales)
	require.EqualValues(t, 14500, ov.TotalRevenue)
	require.EqualValues(t, 3, ov.ProductCount)

	cursor, ok, err := app.cursor.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, cursor.LastEventID)
}

type analyticsApp struct {
	baseURL string
	cursor  *reconcile.PostgresCursorRepository
	stop    func()
}

func startAnalyticsService(ctx context.Context, t *testing.T, dbURL string) *analyticsApp {
	t.Helper()

	pool, err := db.NewPool(ctx, dbURL)
	require.NoError(t, err)

	logger := log.New(io.Discard, "", log.LstdFlags)

	aggregates := analytics.NewPostgresRepository(pool)
	rawEvents := eventlog.NewPostgresRepository(pool, logger)
	cursor := reconcile.NewPostgresCursorRepository(pool)
	job := reconcile.NewJob(rawEvents, aggregates, cursor, logger)
	worker := reconcile.NewWorker(job, time.Hour, reconcile.DefaultLimit, logger)

	productCache := cache.NewProductCache()
	dispatcher := events.NewDefaultDispatcher(aggregates, productCache, logger)
	processor := events.NewProcessor(dispatcher, rawEvents, logger)

	upstream := httptest.NewServer(http.HandlerFunc(http.NotFound))
	catalogClient := catalog.NewClient(upstream.URL, 2*time.Second, logger)

	handler := httpapi.NewHandler(testSecret, processor, aggregates, productCache, catalogClient, job, worker, logger)
	router := httpapi.NewRouter(handler)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return &analyticsApp{
		baseURL: fmt.Sprintf("http://%s", ln.Addr().String()),
		cursor:  cursor,
		stop: func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
			upstream.Close()
			pool.Close()

			select {
			case err := <-errCh:
				t.Logf("server error: %v", err)
			default:
			}
		},
	}
}

func startPostgres(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "analytics"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/analytics?sslmode=disable", host, mappedPort.Port())
	return container, dsn
}

func terminateContainer(t *testing.T, c testcontainers.Container) {
	t.Helper()
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(terminateCtx))
}

func envelopeBody(event, payload string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"version":"v1","timestamp":"2025-06-01T10:00:00Z","origin":{"service":"node-core","environment":"test","ip":"127.0.0.1"},"payload":%s}`,
		event, payload))
}

func postEvent(ctx context.Context, t *testing.T, client *http.Client, baseURL string, body []byte, sig string, wantStatus int) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/internal/events", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.SignatureHeader, sig)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
}

func getAggregate(ctx context.Context, t *testing.T, client *http.Client, baseURL string, productID int64) analytics.ProductAggregate {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/analytics/products/%d", baseURL, productID), nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agg analytics.ProductAggregate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agg))
	return agg
}
