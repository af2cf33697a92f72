/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the payment-service. The
 * interface decouples the engine's business logic from PostgreSQL and lets
 * tests substitute in-memory implementations.
 *
 * @notes
 * - Every order transition method is a compare-and-set: it reports `false`
 *   (no rows updated) when the stored state no longer matches the expected
 *   one, which callers surface as a concurrency conflict or replay.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vpnmarket/payment-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)

	// MarkPaymentSubmitted moves awaiting_payment -> payment_submitted,
	// records the proof and clears the payment window.
	MarkPaymentSubmitted(ctx context.Context, orderID uuid.UUID, proofReference string, submittedAt time.Time) (bool, error)
	// AssignVerifier moves payment_submitted -> pending_verification with the
	// chosen verifier.
	AssignVerifier(ctx context.Context, orderID uuid.UUID, verifierID uuid.UUID) (bool, error)
	// ReassignVerifier swaps the verifier on a pending_verification order with
	// no decision in flight.
	ReassignVerifier(ctx context.Context, orderID uuid.UUID, verifierID uuid.UUID) (bool, error)
	// ClaimOrderForDecision marks a pending_verification order as having a
	// decision in flight; exactly one concurrent caller wins.
	ClaimOrderForDecision(ctx context.Context, orderID uuid.UUID) (bool, error)
	// ReleaseOrderDecision clears the in-flight mark after a failed decision
	// attempt, leaving the order pending_verification.
	ReleaseOrderDecision(ctx context.Context, orderID uuid.UUID) error
	// CompleteApproval finalizes an in-flight decision as approved with the
	// provisioned resource id.
	CompleteApproval(ctx context.Context, orderID uuid.UUID, resourceID string, decidedAt time.Time) (bool, error)
	// CompleteRejection finalizes an in-flight decision as rejected.
	CompleteRejection(ctx context.Context, orderID uuid.UUID, reason string, decidedAt time.Time) (bool, error)
	// ExpireOrder moves awaiting_payment -> expired, only when the stored
	// deadline has passed.
	ExpireOrder(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
	// ListExpiredAwaitingPayment returns orders still awaiting payment whose
	// deadline is before the cutoff.
	ListExpiredAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)

	// Destination account methods
	// RotateDestinationAccount atomically picks the next active account
	// (lowest priority tier, then oldest last_selected_at, then lowest id)
	// and bumps its selection bookkeeping in the same statement.
	RotateDestinationAccount(ctx context.Context) (*domain.DestinationAccount, error)

	// Verifier methods
	FindVerifierByID(ctx context.Context, verifierID uuid.UUID) (*domain.Verifier, error)
	// ListEligibleVerifiers returns active verifiers authorized for the given
	// destination account, each with its metrics and open assignment count.
	ListEligibleVerifiers(ctx context.Context, accountID uuid.UUID) ([]domain.VerifierCandidate, error)
	// TouchVerifierAssignment records the assignment timestamp used by the
	// recency penalty.
	TouchVerifierAssignment(ctx context.Context, verifierID uuid.UUID, at time.Time) error
	// RecordVerifierOutcome applies one terminal decision to the verifier's
	// counters with the incremental-average update, serialized per row.
	RecordVerifierOutcome(ctx context.Context, verifierID uuid.UUID, responseSecs float64, approved bool) error
	GetVerifierMetrics(ctx context.Context, verifierID uuid.UUID) (*domain.VerifierMetrics, error)
	ListVerifierMetrics(ctx context.Context) ([]domain.VerifierMetrics, error)
	// CountDecisionsBetween counts terminal decisions by a verifier inside a
	// reporting window.
	CountDecisionsBetween(ctx context.Context, verifierID uuid.UUID, start, end time.Time) (int64, error)

	// Provisioned resource methods
	SaveProvisionedResource(ctx context.Context, res *domain.ProvisionedResource) error
	MarkResourceDisabled(ctx context.Context, resourceID string, at time.Time) error
}
