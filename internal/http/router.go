package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(CorrelationID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)

	r.Post("/internal/events", h.IngestEvents)
	r.Post("/internal/reconcile", h.TriggerReconcile)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products/{productId}", h.GetProduct)
		r.Get("/analytics/products/{productId}", h.GetProductAnalytics)
		r.Get("/analytics/overview", h.GetOverview)
	})

	return r
}
