package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event routing keys published to the notification exchange. Delivery is
// fire-and-forget from the engine's perspective; the messaging layer owns
// retries.
const (
	EventOrderCreated           = "order.created"
	EventOrderApproved          = "order.approved"
	EventOrderRejected          = "order.rejected"
	EventOrderExpired           = "order.expired"
	EventVerifierAssignment     = "verifier.assignment"
	EventCapacityExhausted      = "ops.capacity.exhausted"
	EventReconciliationRequired = "ops.reconciliation.required"
)

// OrderEvent is the payload for purchaser-facing order status notifications.
type OrderEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	UserID    uuid.UUID `json:"user_id"`
	State     string    `json:"state"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// VerifierAssignmentEvent prompts the assigned verifier with the order
// summary and the approve/reject actions.
type VerifierAssignmentEvent struct {
	OrderID            uuid.UUID `json:"order_id"`
	VerifierID         uuid.UUID `json:"verifier_id"`
	NotificationTarget string    `json:"notification_target"`
	Amount             int64     `json:"amount"`
	ProofReference     string    `json:"proof_reference"`
	Actions            []string  `json:"actions"`
	Timestamp          time.Time `json:"timestamp"`
}

// OpsEvent is published to the operator channel for conditions that need a
// human: capacity exhaustion and manual reconciliation.
type OpsEvent struct {
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
	Detail     string     `json:"detail"`
	Timestamp  time.Time  `json:"timestamp"`
}
