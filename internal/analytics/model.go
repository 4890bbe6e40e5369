package analytics

import (
	"time"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/money"
)

// ProductAggregate is the durable per-product record derived from order
// events. Created on the first contributing event, never deleted. On the
// live path total_sales and total_revenue only ever grow; the contract has
// no refund event in v1.
type ProductAggregate struct {
	ProductID    int64       `json:"product_id"`
	TotalSales   int64       `json:"total_sales"`
	TotalRevenue money.Cents `json:"total_revenue"`
	LastEvent    string      `json:"last_event"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Overview is the global rollup published by the reconciliation job.
type Overview struct {
	TotalSales   int64       `json:"total_sales"`
	TotalRevenue money.Cents `json:"total_revenue"`
	ProductCount int64       `json:"product_count"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// OrderLine is one normalized item contribution to a product's aggregate.
type OrderLine struct {
	ProductID int64
	Quantity  int64
	UnitPrice money.Cents
}

// Revenue is the line's contribution to total revenue.
func (l OrderLine) Revenue() money.Cents {
	return money.Cents(l.Quantity * int64(l.UnitPrice))
}
