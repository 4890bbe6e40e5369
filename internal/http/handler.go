package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/analytics"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/cache"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/analytics-service-go/internal/signature"
)

// maxEventBody bounds how much of an ingestion request we read.
const maxEventBody = 1 << 20

// SignatureHeader is the primary signature header; the legacy name is
// still accepted for older producers.
const (
	SignatureHeader       = "X-Internal-Events-Signature"
	legacySignatureHeader = "X-Signature"
)

// AggregateReader serves the analytics read endpoints.
type AggregateReader interface {
	Get(ctx context.Context, productID int64) (analytics.ProductAggregate, error)
	Overview(ctx context.Context) (analytics.Overview, error)
}

// Reconciler is the operator-triggered reconciliation entry point.
type Reconciler interface {
	Run(ctx context.Context, limit int) (int, error)
}

// ProductSource is the upstream catalog fallback for cache misses.
type ProductSource interface {
	Product(ctx context.Context, productID int64) (catalog.Product, error)
}

// WorkerStatus exposes the reconcile worker's last failure to /health.
type WorkerStatus interface {
	LastError() error
}

type Handler struct {
	secret     string
	processor  *events.Processor
	aggregates AggregateReader
	cache      *cache.ProductCache
	catalog    ProductSource
	reconciler Reconciler
	worker     WorkerStatus
	logger     *log.Logger
}

func NewHandler(
	secret string,
	processor *events.Processor,
	aggregates AggregateReader,
	productCache *cache.ProductCache,
	catalogClient ProductSource,
	reconciler Reconciler,
	worker WorkerStatus,
	logger *log.Logger,
) *Handler {
	return &Handler{
		secret:     secret,
		processor:  processor,
		aggregates: aggregates,
		cache:      productCache,
		catalog:    catalogClient,
		reconciler: reconciler,
		worker:     worker,
		logger:     logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.worker != nil {
		if err := h.worker.LastError(); err != nil {
			body["reconcile_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// IngestEvents is the internal ingestion endpoint. The flow is a fixed
// state machine: signature check, JSON parse, envelope validation, typed
// decode, dispatch, acknowledge. Once authenticity is established the
// endpoint acknowledges fast: the producer has no dead-letter path, so a
// 5xx here would be retried forever. Schema violations, unknown event
// types and handler failures all answer 200.
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.logger.Printf("INTERNAL_EVENTS_SECRET not configured")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "misconfigured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false})
		return
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		sig = r.Header.Get(legacySignatureHeader)
	}
	if !signature.Verify(h.secret, body, sig) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
		return
	}

	err = h.processor.Process(r.Context(), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, events.ErrMalformedEnvelope):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false})
	case errors.Is(err, events.ErrUnknownEventType):
		h.logger.Printf("ignoring unknown event type: %v", err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		// Schema violations and anything else past authentication:
		// acknowledged to prevent retry storms, reconciliation heals.
		h.logger.Printf("event rejected (acked) cid=%s: %v", GetCorrelationID(r.Context()), err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// TriggerReconcile runs one reconciliation pass with an optional ?limit=N.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid limit"})
			return
		}
		limit = n
	}

	processed, err := h.reconciler.Run(r.Context(), limit)
	if err != nil {
		h.logger.Printf("reconcile trigger failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "processed": processed})
}

// GetProduct serves product metadata cache-first, falling through to the
// upstream catalog on a miss. The cache is only written by event handlers;
// a miss here is a missed optimization, not an error.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if meta, ok := h.cache.Get(productID); ok {
		writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "cached": true, "product": meta})
		return
	}

	product, err := h.catalog.Product(r.Context(), productID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("catalog fetch product=%d failed: %v", productID, err)
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "cached": false, "product": product})
}

func (h *Handler) GetProductAnalytics(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	agg, err := h.aggregates.Get(r.Context(), productID)
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.aggregates.Overview(r.Context())
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			writeJSON(w, http.StatusOK, analytics.Overview{})
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
