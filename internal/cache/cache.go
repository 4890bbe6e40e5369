// Package cache holds an in-process copy of lightweight product attributes,
// populated from ProductCreated events and invalidated on ProductUpdated.
// A miss is never an error; callers fall back to the catalog API.
package cache

import (
	"sync"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/money"
)

// ProductMeta is the attribute subset cached per product.
type ProductMeta struct {
	Name           string      `json:"name"`
	Price          money.Cents `json:"price"`
	Stock          int64       `json:"stock"`
	CategoryID     int64       `json:"category_id"`
	ManufacturerID int64       `json:"manufacturer_id"`
	UniverseID     int64       `json:"universe_id"`
}

// ProductCache is safe for concurrent use. It has no TTL and no persistence;
// staleness is acceptable, corruption is not.
type ProductCache struct {
	mu      sync.RWMutex
	entries map[int64]ProductMeta
}

func NewProductCache() *ProductCache {
	return &ProductCache{entries: make(map[int64]ProductMeta)}
}

func (c *ProductCache) Set(productID int64, meta ProductMeta) {
	c.mu.Lock()
	c.entries[productID] = meta
	c.mu.Unlock()
}

func (c *ProductCache) Get(productID int64) (ProductMeta, bool) {
	c.mu.RLock()
	meta, ok := c.entries[productID]
	c.mu.RUnlock()
	return meta, ok
}

func (c *ProductCache) Invalidate(productID int64) {
	c.mu.Lock()
	delete(c.entries, productID)
	c.mu.Unlock()
}

func (c *ProductCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[int64]ProductMeta)
	c.mu.Unlock()
}

// Len reports the number of cached products. Exposed for tests and /health.
func (c *ProductCache) Len() int {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return n
}
