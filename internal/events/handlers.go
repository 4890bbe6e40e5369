package events

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/analytics"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/cache"
)

// IngestConsumerName keys dedup records written by the live dispatch path.
const IngestConsumerName = "analytics-ingest"

// OrderApplier folds an order's line items into per-product aggregates.
// The implementation must be atomic per event: either every line is applied
// and the event id is recorded, or nothing is.
type OrderApplier interface {
	ApplyOrder(ctx context.Context, consumerName, eventID string, lines []analytics.OrderLine) (applied bool, err error)
}

// OrderCreatedHandler adds each line's quantity and quantity x unit price to
// the product's aggregate. Redelivered events (same event id) are skipped.
func OrderCreatedHandler(store OrderApplier, logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, env Envelope, payload Payload) error {
		p, ok := payload.(*OrderCreated)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		if p.SkippedItems > 0 {
			logger.Printf("OrderCreated order=%s skipped %d incomplete items", p.OrderID, p.SkippedItems)
		}
		if len(p.Items) == 0 {
			logger.Printf("OrderCreated order=%s has no usable items", p.OrderID)
			return nil
		}

		lines := make([]analytics.OrderLine, 0, len(p.Items))
		for _, it := range p.Items {
			lines = append(lines, analytics.OrderLine{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			})
		}

		applied, err := store.ApplyOrder(ctx, IngestConsumerName, env.EventID, lines)
		if err != nil {
			return fmt.Errorf("apply order %s: %w", p.OrderID, err)
		}
		if !applied {
			logger.Printf("skip duplicate OrderCreated order=%s event_id=%s", p.OrderID, env.EventID)
			return nil
		}
		logger.Printf("OrderCreated order=%s user=%s products=%d", p.OrderID, p.UserID, len(lines))
		return nil
	}
}

// PaymentApprovedHandler is observability-only in this contract version.
func PaymentApprovedHandler(logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, env Envelope, payload Payload) error {
		p, ok := payload.(*PaymentApproved)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		logger.Printf("PaymentApproved order=%s payment=%s amount=%s method=%s",
			p.OrderID, p.PaymentID, p.Amount, p.Method)
		return nil
	}
}

// ProductCreatedHandler caches the product's lightweight attributes.
func ProductCreatedHandler(c *cache.ProductCache, logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, env Envelope, payload Payload) error {
		p, ok := payload.(*ProductCreated)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		c.Set(p.ProductID, cache.ProductMeta{
			Name:           p.Name,
			Price:          p.Price,
			Stock:          p.Stock,
			CategoryID:     p.CategoryID,
			ManufacturerID: p.ManufacturerID,
			UniverseID:     p.UniverseID,
		})
		logger.Printf("ProductCreated cached product=%d", p.ProductID)
		return nil
	}
}

// ProductUpdatedHandler drops the cached entry and logs what changed.
func ProductUpdatedHandler(c *cache.ProductCache, logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, env Envelope, payload Payload) error {
		p, ok := payload.(*ProductUpdated)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		c.Invalidate(p.ProductID)

		changed := make([]string, 0, len(p.Changes))
		for field := range p.Changes {
			changed = append(changed, field)
		}
		sort.Strings(changed)
		logger.Printf("ProductUpdated product=%d changed=%v", p.ProductID, changed)
		return nil
	}
}

// UserAuthenticatedHandler records login activity; no state mutation.
func UserAuthenticatedHandler(logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, env Envelope, payload Payload) error {
		p, ok := payload.(*UserAuthenticated)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		logger.Printf("UserAuthenticated user=%s role=%s", p.UserID, p.Role)
		return nil
	}
}

// CompanySettingsUpdatedHandler logs the changed key sets; no state mutation.
func CompanySettingsUpdatedHandler(logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, env Envelope, payload Payload) error {
		p, ok := payload.(*CompanySettingsUpdated)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		logger.Printf("CompanySettingsUpdated before=%v after=%v", sortedKeys(p.Before), sortedKeys(p.After))
		return nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewDefaultDispatcher wires the v1 handler set. UserRegistered,
// InvoiceIssued, ShipmentCreated and DiscountApplied have schemas but no
// handler yet; the dispatcher acknowledges them as no-ops.
func NewDefaultDispatcher(store OrderApplier, c *cache.ProductCache, logger *log.Logger) *Dispatcher {
	d := NewDispatcher(logger)
	d.Register(TypeOrderCreated, OrderCreatedHandler(store, logger))
	d.Register(TypePaymentApproved, PaymentApprovedHandler(logger))
	d.Register(TypeProductCreated, ProductCreatedHandler(c, logger))
	d.Register(TypeProductUpdated, ProductUpdatedHandler(c, logger))
	d.Register(TypeUserAuthenticated, UserAuthenticatedHandler(logger))
	d.Register(TypeCompanySettingsUpdated, CompanySettingsUpdatedHandler(logger))
	return d
}
