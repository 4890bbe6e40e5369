package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/analytics"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/cache"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/eventlog"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/reconcile"
)

func main() {
	reconcileOnce := flag.Bool("reconcile", false, "run one reconciliation pass and exit")
	limit := flag.Int("limit", reconcile.DefaultLimit, "event window for -reconcile")
	flag.Parse()

	cfg := config.Load()
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatalf("db migrate: %v", err)
		}
	}

	aggregates := analytics.NewPostgresRepository(pool)
	rawEvents := eventlog.NewPostgresRepository(pool, logger)
	cursor := reconcile.NewPostgresCursorRepository(pool)
	job := reconcile.NewJob(rawEvents, aggregates, cursor, logger)

	if *reconcileOnce {
		processed, err := job.Run(ctx, *limit)
		if err != nil {
			logger.Fatalf("reconcile: %v", err)
		}
		logger.Printf("reconcile: processed %d events", processed)
		return
	}

	productCache := cache.NewProductCache()
	defer productCache.Clear()

	dispatcher := events.NewDefaultDispatcher(aggregates, productCache, logger)
	processor := events.NewProcessor(dispatcher, rawEvents, logger)

	// --- AMQP (optional second ingestion path) ---
	if cfg.AMQPURL != "" {
		conn := events.MustDialRabbit(cfg.AMQPURL)
		defer conn.Close()
		if err := events.StartEventsConsumer(ctx, conn, processor, logger); err != nil {
			logger.Fatalf("start events consumer: %v", err)
		}
	}

	// --- reconcile worker ---
	worker := reconcile.NewWorker(job, cfg.ReconcileInterval, cfg.ReconcileLimit, logger)
	worker.Start(ctx)

	// --- HTTP ---
	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, cfg.UpstreamTimeout, logger)
	h := httpapi.NewHandler(
		cfg.InternalEventsSecret,
		processor,
		aggregates,
		productCache,
		catalogClient,
		job,
		worker,
		logger,
	)
	r := httpapi.NewRouter(h)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("shutdown signal: %s", sig)
	case err := <-errCh:
		logger.Printf("fatal error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	cancel()
	worker.Wait()

	logger.Printf("shutdown complete")
}
