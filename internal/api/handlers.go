/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API
 * endpoints. Handlers parse incoming requests, call the order lifecycle
 * service, and map domain errors to HTTP statuses. Purchaser-facing failures
 * stay generic; verifier-facing ones are actionable.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vpnmarket/payment-service/internal/app"
	"github.com/vpnmarket/payment-service/internal/domain"
)

// OrderHandlers holds the application service that handlers will use.
type OrderHandlers struct {
	service *app.Service
}

// NewOrderHandlers creates a new instance of OrderHandlers.
func NewOrderHandlers(service *app.Service) *OrderHandlers {
	return &OrderHandlers{service: service}
}

// orderResponse is returned for every order-mutating endpoint. The card
// details are only populated at creation, when the purchaser needs them.
type orderResponse struct {
	Order   *domain.Order        `json:"order"`
	Payment *paymentInstructions `json:"payment,omitempty"`
	Message string               `json:"message,omitempty"`
}

type paymentInstructions struct {
	CardNumber string    `json:"card_number"`
	HolderName string    `json:"holder_name"`
	Deadline   time.Time `json:"deadline"`
}

// CreateOrderHandler opens a new order and returns the payment instructions.
func (h *OrderHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, account, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveDestination) {
			h.writeError(w, http.StatusServiceUnavailable, "No payment destination is currently available. Please try again later.")
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := orderResponse{
		Order: order,
		Payment: &paymentInstructions{
			CardNumber: account.CardNumber,
			HolderName: account.HolderName,
			Deadline:   *order.PaymentDeadline,
		},
		Message: fmt.Sprintf("Transfer %d to the card below and submit your payment reference before the deadline.", order.Amount),
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetOrderHandler returns the current state of an order.
func (h *OrderHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, orderID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// SubmitPaymentHandler records the purchaser's proof of transfer.
func (h *OrderHandlers) SubmitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	var req domain.SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.SubmitPayment(r.Context(), orderID, req)
	if err != nil {
		if errors.Is(err, domain.ErrNoEligibleVerifier) {
			// The proof is safe; verification starts as soon as a verifier
			// frees up.
			h.writeJSON(w, http.StatusAccepted, orderResponse{
				Order:   order,
				Message: "Payment received. Verification will start shortly.",
			})
			return
		}
		var rateLimited *app.RateLimitedError
		if errors.As(err, &rateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, "Too many submissions. Please wait and try again.")
			return
		}
		h.writeOrderError(w, orderID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse{
		Order:   order,
		Message: "Payment submitted. You will be notified once it is verified.",
	})
}

// ApproveOrderHandler finalizes an order as approved.
func (h *OrderHandlers) ApproveOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// RejectOrderHandler finalizes an order as rejected.
func (h *OrderHandlers) RejectOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *OrderHandlers) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	orderID, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	var req domain.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VerifierID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "verifier_id is required")
		return
	}

	var order *domain.Order
	var err error
	if approve {
		order, err = h.service.Approve(r.Context(), orderID, req.VerifierID)
	} else {
		order, err = h.service.Reject(r.Context(), orderID, req.VerifierID, req.Reason)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotAuthorized):
			h.writeError(w, http.StatusForbidden, "You are not assigned to this order.")
		case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrInvalidStateTransition):
			h.writeError(w, http.StatusConflict, "This order has already been decided.")
		case errors.Is(err, domain.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		default:
			var svcErr *domain.ExternalServiceError
			if errors.As(err, &svcErr) {
				log.Printf("level=error component=api msg=\"decision blocked by external service\" order_id=%s err=%v", orderID, err)
				h.writeError(w, http.StatusBadGateway, "The order could not be completed and is pending manual review. Please retry shortly.")
				return
			}
			log.Printf("level=error component=api msg=\"decision failed\" order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// ReassignOrderHandler is the administrative retry for parked or stuck
// orders.
func (h *OrderHandlers) ReassignOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.service.ReassignOrder(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoEligibleVerifier):
			h.writeError(w, http.StatusConflict, "No eligible verifier is available for this order.")
		case errors.Is(err, domain.ErrInvalidStateTransition):
			h.writeError(w, http.StatusConflict, "Order is not awaiting verification.")
		case errors.Is(err, domain.ErrConcurrencyConflict):
			h.writeError(w, http.StatusConflict, "A decision on this order is in progress.")
		case errors.Is(err, domain.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		default:
			log.Printf("level=error component=api msg=\"reassignment failed\" order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to reassign order")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// VerifiersReportHandler returns the metrics snapshot for all verifiers.
func (h *OrderHandlers) VerifiersReportHandler(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.service.VerifiersReport(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"verifiers report failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to build report")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"verifiers": snapshots})
}

// VerifierReportHandler returns the metrics snapshot for one verifier. An
// optional window is given as RFC3339 `from` and `to` query parameters.
func (h *OrderHandlers) VerifierReportHandler(w http.ResponseWriter, r *http.Request) {
	verifierID, err := uuid.Parse(chi.URLParam(r, "verifierID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid verifier id")
		return
	}

	var windowStart, windowEnd *time.Time
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from != "" || to != "" {
		start, err := time.Parse(time.RFC3339, from)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp, expected RFC3339")
			return
		}
		end, err := time.Parse(time.RFC3339, to)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp, expected RFC3339")
			return
		}
		if end.Before(start) {
			h.writeError(w, http.StatusBadRequest, "'to' must not precede 'from'")
			return
		}
		windowStart, windowEnd = &start, &end
	}

	snapshot, err := h.service.VerifierReport(r.Context(), verifierID, windowStart, windowEnd)
	if err != nil {
		if errors.Is(err, domain.ErrVerifierNotFound) {
			h.writeError(w, http.StatusNotFound, "Verifier not found")
			return
		}
		log.Printf("level=error component=api msg=\"verifier report failed\" verifier_id=%s err=%v", verifierID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to build report")
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *OrderHandlers) orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order id")
		return uuid.Nil, false
	}
	return orderID, true
}

// writeOrderError maps the common lifecycle errors for purchaser-facing
// endpoints.
func (h *OrderHandlers) writeOrderError(w http.ResponseWriter, orderID uuid.UUID, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		h.writeError(w, http.StatusConflict, "This order can no longer be updated.")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		h.writeError(w, http.StatusConflict, "The order changed while processing your request. Please check its status.")
	default:
		log.Printf("level=error component=api msg=\"order request failed\" order_id=%s err=%v", orderID, err)
		h.writeError(w, http.StatusBadRequest, err.Error())
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *OrderHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *OrderHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
