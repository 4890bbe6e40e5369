// Package reconcile rebuilds per-product aggregates from the raw event
// history, independent of the live dispatch path. It is the self-healing
// backstop for handler failures the ingestion endpoint swallowed.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/analytics"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/eventlog"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/money"
)

// DefaultLimit bounds the scan window when the operator gives none.
const DefaultLimit = 50

// EventSource reads the most recent raw events, newest first (best effort).
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]eventlog.StoredEvent, error)
}

// AggregateWriter is the publication target for recomputed aggregates.
type AggregateWriter interface {
	Overwrite(ctx context.Context, productID, totalSales int64, totalRevenue money.Cents, lastEvent string) error
	SetLastEvent(ctx context.Context, productID int64, lastEvent string) error
	SetOverview(ctx context.Context, ov analytics.Overview) error
}

// CursorStore marks how far reconciliation has progressed.
type CursorStore interface {
	Advance(ctx context.Context, lastTimestamp time.Time, lastEventID string) error
}

type Job struct {
	source EventSource
	store  AggregateWriter
	cursor CursorStore
	logger *log.Logger
}

func NewJob(source EventSource, store AggregateWriter, cursor CursorStore, logger *log.Logger) *Job {
	return &Job{source: source, store: store, cursor: cursor, logger: logger}
}

type tally struct {
	sales   int64
	revenue money.Cents
}

// Run scans up to limit recent events, recomputes per-product totals from
// scratch over that window, and overwrites each touched product's aggregate
// plus the global overview. The recomputation is window-bounded by design:
// events older than the window are not reflected, so a small limit can
// diverge from lifetime totals. The sync cursor is advanced to the newest
// scanned event for operator visibility; it is not consulted for windowing.
//
// Returns the number of scanned events.
func (j *Job) Run(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	evs, err := j.source.Recent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("read recent events: %w", err)
	}

	totals := make(map[int64]*tally)
	lastProductEvent := make(map[int64]string)
	var newest eventlog.StoredEvent

	for _, ev := range evs {
		if ev.OccurredAt.After(newest.OccurredAt) {
			newest = ev
		}

		switch events.Type(ev.EventType) {
		case events.TypeOrderCreated:
			payload, err := events.DecodePayload(events.TypeOrderCreated, ev.Payload)
			if err != nil {
				j.logger.Printf("reconcile: skipping undecodable %s event_id=%s: %v", ev.EventType, ev.EventID, err)
				continue
			}
			order := payload.(*events.OrderCreated)
			for _, item := range order.Items {
				t := totals[item.ProductID]
				if t == nil {
					t = &tally{}
					totals[item.ProductID] = t
				}
				t.sales += item.Quantity
				t.revenue += money.Cents(item.Quantity * int64(item.UnitPrice))
			}

		case events.TypeProductCreated, events.TypeProductUpdated:
			payload, err := events.DecodePayload(events.Type(ev.EventType), ev.Payload)
			if err != nil {
				j.logger.Printf("reconcile: skipping undecodable %s event_id=%s: %v", ev.EventType, ev.EventID, err)
				continue
			}
			switch p := payload.(type) {
			case *events.ProductCreated:
				lastProductEvent[p.ProductID] = ev.EventType
			case *events.ProductUpdated:
				lastProductEvent[p.ProductID] = ev.EventType
			}
		}
	}

	// Publish deterministically so interleaved runs converge.
	for _, productID := range sortedProductIDs(totals) {
		t := totals[productID]
		if err := j.store.Overwrite(ctx, productID, t.sales, t.revenue, "OrderCreated"); err != nil {
			return 0, err
		}
	}
	for productID, lastEvent := range lastProductEvent {
		if err := j.store.SetLastEvent(ctx, productID, lastEvent); err != nil {
			return 0, err
		}
	}

	ov := analytics.Overview{ProductCount: int64(len(totals))}
	for _, t := range totals {
		ov.TotalSales += t.sales
		ov.TotalRevenue += t.revenue
	}
	if err := j.store.SetOverview(ctx, ov); err != nil {
		return 0, err
	}

	if len(evs) > 0 {
		if err := j.cursor.Advance(ctx, newest.OccurredAt, newest.EventID); err != nil {
			return 0, fmt.Errorf("advance cursor: %w", err)
		}
	}

	j.logger.Printf("reconcile: scanned=%d products=%d total_sales=%d", len(evs), len(totals), ov.TotalSales)
	return len(evs), nil
}

func sortedProductIDs(totals map[int64]*tally) []int64 {
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
