// Package catalog is a read-only client for the upstream core API, the
// source of truth for products and orders. The service never writes to it;
// cache misses and reconciliation spot checks read through here.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/money"
)

var ErrNotFound = errors.New("not found")

// Product mirrors the upstream catalog document. The core API speaks
// Spanish on the wire.
type Product struct {
	ID         int64       `json:"id"`
	Name       string      `json:"nombre"`
	Price      money.Cents `json:"precio"`
	Stock      int64       `json:"stock"`
	CategoryID int64       `json:"categoria_id"`
}

// Order mirrors the upstream order document.
type Order struct {
	ID     string      `json:"id"`
	UserID string      `json:"user_id"`
	Total  money.Cents `json:"total"`
	Status string      `json:"estado"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Product fetches one product by id.
func (c *Client) Product(ctx context.Context, productID int64) (Product, error) {
	var p Product
	if err := c.getJSON(ctx, fmt.Sprintf("%s/productos/%d", c.baseURL, productID), &p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Products fetches the product list. The upstream returns either a bare
// array or a paginated {"items": [...]} document.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, c.baseURL+"/productos", &raw); err != nil {
		return nil, err
	}

	var list []Product
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var paged struct {
		Items []Product `json:"items"`
	}
	if err := json.Unmarshal(raw, &paged); err != nil {
		return nil, fmt.Errorf("decode product list: %w", err)
	}
	return paged.Items, nil
}

// Orders fetches the order list.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	var list []Order
	if err := c.getJSON(ctx, c.baseURL+"/orders", &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	c.logger.Printf("GET %s -> %d (%s)", url, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
