/**
 * @description
 * This file defines the core domain models for the payment-service: orders,
 * destination accounts, verifiers and verifier metrics, plus the DTOs used by
 * the API layer.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit, which avoids
 *   floating-point inaccuracies with monetary data.
 * - Nullable database columns map to pointer fields so that "not yet set" is
 *   distinguishable from a zero value.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order lifecycle states. An order is created already holding a destination
// account and a payment deadline, so there is no separate "created" state.
const (
	OrderStateAwaitingPayment     = "awaiting_payment"
	OrderStatePaymentSubmitted    = "payment_submitted"
	OrderStatePendingVerification = "pending_verification"
	OrderStateApproved            = "approved"
	OrderStateRejected            = "rejected"
	OrderStateExpired             = "expired"
)

// IsTerminalOrderState reports whether a state admits no further transitions.
func IsTerminalOrderState(state string) bool {
	switch state {
	case OrderStateApproved, OrderStateRejected, OrderStateExpired:
		return true
	}
	return false
}

// Order represents one purchase attempt. It maps directly to the `orders`
// table in the database.
type Order struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               uuid.UUID  `json:"user_id"`
	Amount               int64      `json:"amount"`
	DestinationAccountID uuid.UUID  `json:"destination_account_id"`
	VerifierID           *uuid.UUID `json:"verifier_id,omitempty"`
	State                string     `json:"state"`
	ProofReference       *string    `json:"proof_reference,omitempty"`
	RejectionReason      *string    `json:"rejection_reason,omitempty"`
	ResourceID           *string    `json:"resource_id,omitempty"`
	PaymentDeadline      *time.Time `json:"payment_deadline,omitempty"`
	SubmittedAt          *time.Time `json:"submitted_at,omitempty"`
	DecidedAt            *time.Time `json:"decided_at,omitempty"`
	DecisionInFlight     bool       `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// DestinationAccount is a bank card designated to receive manual payments.
// Rotation only ever considers active accounts; within a priority tier the
// least-recently-selected account is picked next.
type DestinationAccount struct {
	ID             uuid.UUID  `json:"id"`
	Label          string     `json:"label"`
	CardNumber     string     `json:"card_number"`
	HolderName     string     `json:"holder_name"`
	Priority       int        `json:"priority"` // lower = preferred tier
	Active         bool       `json:"active"`
	LastSelectedAt *time.Time `json:"last_selected_at,omitempty"`
	SelectionCount int64      `json:"selection_count"`
}

// Verifier is a human reviewer authorized to approve or reject submitted
// payment proofs for a set of destination accounts.
type Verifier struct {
	ID                 uuid.UUID   `json:"id"`
	DisplayName        string      `json:"display_name"`
	Active             bool        `json:"active"`
	AccountIDs         []uuid.UUID `json:"account_ids"`
	NotificationTarget string      `json:"notification_target"`
}

// VerifierMetrics holds per-verifier performance counters. Owned and written
// exclusively by the metrics aggregator; values are recomputed, never
// decremented.
type VerifierMetrics struct {
	VerifierID       uuid.UUID  `json:"verifier_id"`
	TotalProcessed   int64      `json:"total_processed"`
	TotalApproved    int64      `json:"total_approved"`
	TotalRejected    int64      `json:"total_rejected"`
	AvgResponseSecs  float64    `json:"avg_response_seconds"`
	LastAssignmentAt *time.Time `json:"last_assignment_at,omitempty"`
}

// VerifierCandidate is an assignment candidate with the load data the scorer
// needs, fetched in one query.
type VerifierCandidate struct {
	Verifier        Verifier
	Metrics         VerifierMetrics
	OpenAssignments int
}

// MetricsSnapshot is the report returned to the admin front-end.
type MetricsSnapshot struct {
	VerifierID      uuid.UUID  `json:"verifier_id"`
	DisplayName     string     `json:"display_name"`
	TotalProcessed  int64      `json:"total_processed"`
	TotalApproved   int64      `json:"total_approved"`
	TotalRejected   int64      `json:"total_rejected"`
	ApprovalRate    float64    `json:"approval_rate"`
	AvgResponseSecs float64    `json:"avg_response_seconds"`
	WindowProcessed *int64     `json:"window_processed,omitempty"`
	WindowStart     *time.Time `json:"window_start,omitempty"`
	WindowEnd       *time.Time `json:"window_end,omitempty"`
}

// CreateOrderRequest is the DTO for incoming order creation API requests.
type CreateOrderRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
}

// SubmitPaymentRequest carries the purchaser's proof of a manual transfer.
type SubmitPaymentRequest struct {
	ProofReference string `json:"proof_reference"`
}

// DecisionRequest is the DTO for approve/reject calls from the verifier
// front-end.
type DecisionRequest struct {
	VerifierID uuid.UUID `json:"verifier_id"`
	Reason     string    `json:"reason,omitempty"`
}

// ProvisionedResource is the persisted record of an account created on the
// external panel, linked to the order that paid for it.
type ProvisionedResource struct {
	ID         string    `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	PanelRef   string    `json:"panel_ref"`
	CreatedAt  time.Time `json:"created_at"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
}
