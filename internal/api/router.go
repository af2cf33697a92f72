/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, recovery, timeouts, and internal
 * authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OrderRoutes creates and returns a new router for the payment service.
func OrderRoutes(h *OrderHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// All other routes require the shared internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		// Purchaser-facing order endpoints
		r.Post("/orders", h.CreateOrderHandler)
		r.Get("/orders/{orderID}", h.GetOrderHandler)
		r.Post("/orders/{orderID}/payment", h.SubmitPaymentHandler)

		// Verifier decision endpoints
		r.Post("/orders/{orderID}/approve", h.ApproveOrderHandler)
		r.Post("/orders/{orderID}/reject", h.RejectOrderHandler)

		// Administrative endpoints
		r.Post("/orders/{orderID}/assign", h.ReassignOrderHandler)
		r.Get("/verifiers/report", h.VerifiersReportHandler)
		r.Get("/verifiers/{verifierID}/report", h.VerifierReportHandler)
	})

	return r
}
