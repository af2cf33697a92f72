/**
 * @description
 * This file contains the core business logic for the payment-service. The
 * `Service` struct orchestrates the order lifecycle: creation with destination
 * account rotation, proof submission with verifier assignment, the concurrent
 * approve/reject decision protocol, provisioning on approval, and expiry.
 *
 * Key features:
 * - Every state transition is a compare-and-set against the stored state, so
 *   replays are idempotent and concurrent writers resolve to exactly one
 *   winner.
 * - Authorization is checked before state: a verifier not assigned to an
 *   order learns nothing about its current state.
 * - Publishes notification events to RabbitMQ; delivery is fire-and-forget
 *   and never blocks or fails a transition.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For order id generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For notification events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vpnmarket/payment-service/internal/domain"
	"github.com/vpnmarket/payment-service/internal/store"
	"github.com/vpnmarket/payment-service/pkg/rabbitmq"
)

// ServiceConfig carries the lifecycle tunables.
type ServiceConfig struct {
	PaymentWindow    time.Duration
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
	NotifyExchange   string
}

// Service provides the core business logic for orders.
type Service struct {
	repo          store.Repository
	assigner      *VerifierAssigner
	provisioner   *ProvisioningCoordinator
	metrics       *MetricsAggregator
	eventProducer rabbitmq.Publisher
	rateLimiter   RateLimiter
	cfg           ServiceConfig
}

// NewService creates a new order lifecycle service instance.
func NewService(repo store.Repository, assigner *VerifierAssigner, provisioner *ProvisioningCoordinator, metrics *MetricsAggregator, producer rabbitmq.Publisher, limiter RateLimiter, cfg ServiceConfig) *Service {
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 30 * time.Minute
	}
	if cfg.SubmitRateWindow <= 0 {
		cfg.SubmitRateWindow = time.Minute
	}
	return &Service{
		repo:          repo,
		assigner:      assigner,
		provisioner:   provisioner,
		metrics:       metrics,
		eventProducer: producer,
		rateLimiter:   limiter,
		cfg:           cfg,
	}
}

// CreateOrder opens a new order: it rotates to the next destination account,
// stamps the payment deadline, and returns both so the purchaser can be shown
// the card to pay into.
func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, *domain.DestinationAccount, error) {
	if req.Amount <= 0 {
		return nil, nil, fmt.Errorf("order amount must be positive, got %d", req.Amount)
	}
	if req.UserID == uuid.Nil {
		return nil, nil, errors.New("order user id is required")
	}

	account, err := s.repo.RotateDestinationAccount(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveDestination) {
			s.publishOps(ctx, nil, "", "no active destination account for new order")
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to rotate destination account: %w", err)
	}

	deadline := time.Now().UTC().Add(s.cfg.PaymentWindow)
	order := &domain.Order{
		ID:                   uuid.New(),
		UserID:               req.UserID,
		Amount:               req.Amount,
		DestinationAccountID: account.ID,
		State:                domain.OrderStateAwaitingPayment,
		PaymentDeadline:      &deadline,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order record: %w", err)
	}

	log.Printf("level=info component=order_service msg=\"order created\" order_id=%s user_id=%s amount=%d account_id=%s", order.ID, order.UserID, order.Amount, account.ID)
	s.publishOrderEvent(ctx, domain.EventOrderCreated, order, "")
	return order, account, nil
}

// GetOrder returns the current stored order.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.repo.FindOrderByID(ctx, orderID)
}

// SubmitPayment records the purchaser's proof of transfer and hands the order
// to a verifier. A replay with the same proof is acknowledged without a new
// transition. When no verifier is eligible the order parks in
// payment_submitted (proof retained) and ErrNoEligibleVerifier is returned
// alongside it.
func (s *Service) SubmitPayment(ctx context.Context, orderID uuid.UUID, req domain.SubmitPaymentRequest) (*domain.Order, error) {
	proof := strings.TrimSpace(req.ProofReference)
	if proof == "" {
		return nil, errors.New("proof reference is required")
	}

	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.rateLimiter != nil && s.cfg.SubmitRateLimit > 0 {
		allowed, retryAfter, rlErr := s.rateLimiter.Allow(ctx, order.UserID.String(), s.cfg.SubmitRateLimit, s.cfg.SubmitRateWindow)
		if rlErr != nil {
			// Redis being down must not block payments.
			log.Printf("level=warn component=order_service msg=\"rate limiter unavailable; allowing submission\" order_id=%s err=%v", orderID, rlErr)
		} else if !allowed {
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	switch order.State {
	case domain.OrderStateAwaitingPayment:
		// fall through to the transition below
	case domain.OrderStatePaymentSubmitted, domain.OrderStatePendingVerification:
		if order.ProofReference != nil && *order.ProofReference == proof {
			return order, nil
		}
		return nil, domain.ErrInvalidStateTransition
	default:
		return nil, domain.ErrInvalidStateTransition
	}

	submittedAt := time.Now().UTC()
	moved, err := s.repo.MarkPaymentSubmitted(ctx, orderID, proof, submittedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment submitted: %w", err)
	}
	if !moved {
		// Lost a race with another submission or the expiry scanner. The
		// stored state is authoritative.
		current, ferr := s.repo.FindOrderByID(ctx, orderID)
		if ferr != nil {
			return nil, ferr
		}
		if (current.State == domain.OrderStatePaymentSubmitted || current.State == domain.OrderStatePendingVerification) &&
			current.ProofReference != nil && *current.ProofReference == proof {
			return current, nil
		}
		return nil, domain.ErrConcurrencyConflict
	}

	order.State = domain.OrderStatePaymentSubmitted
	order.ProofReference = &proof
	order.SubmittedAt = &submittedAt
	order.PaymentDeadline = nil

	assigned, err := s.assignOrder(ctx, order)
	if err != nil {
		if errors.Is(err, domain.ErrNoEligibleVerifier) {
			log.Printf("level=warn component=order_service msg=\"no eligible verifier; order parked\" order_id=%s account_id=%s", order.ID, order.DestinationAccountID)
			s.publishOps(ctx, &order.ID, "", "no eligible verifier for submitted order")
			return order, domain.ErrNoEligibleVerifier
		}
		return nil, err
	}
	return assigned, nil
}

// ReassignOrder is the administrative retry for parked or stuck orders: it
// re-runs verifier selection for an order in payment_submitted or
// pending_verification.
func (s *Service) ReassignOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.State {
	case domain.OrderStatePaymentSubmitted:
		return s.assignOrder(ctx, order)
	case domain.OrderStatePendingVerification:
		candidates, err := s.repo.ListEligibleVerifiers(ctx, order.DestinationAccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to list eligible verifiers: %w", err)
		}
		pick, err := s.assigner.Pick(candidates, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		moved, err := s.repo.ReassignVerifier(ctx, orderID, pick.Verifier.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reassign verifier: %w", err)
		}
		if !moved {
			return nil, domain.ErrConcurrencyConflict
		}
		order.VerifierID = &pick.Verifier.ID
		s.notifyAssignment(ctx, order, &pick.Verifier)
		return order, nil
	default:
		return nil, domain.ErrInvalidStateTransition
	}
}

// assignOrder runs verifier selection for a payment_submitted order and moves
// it to pending_verification.
func (s *Service) assignOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	candidates, err := s.repo.ListEligibleVerifiers(ctx, order.DestinationAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible verifiers: %w", err)
	}
	now := time.Now().UTC()
	pick, err := s.assigner.Pick(candidates, now)
	if err != nil {
		return nil, err
	}

	moved, err := s.repo.AssignVerifier(ctx, order.ID, pick.Verifier.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign verifier: %w", err)
	}
	if !moved {
		current, ferr := s.repo.FindOrderByID(ctx, order.ID)
		if ferr != nil {
			return nil, ferr
		}
		if current.State == domain.OrderStatePendingVerification {
			return current, nil
		}
		return nil, domain.ErrConcurrencyConflict
	}

	if err := s.repo.TouchVerifierAssignment(ctx, pick.Verifier.ID, now); err != nil {
		log.Printf("level=warn component=order_service msg=\"failed to record assignment time\" order_id=%s verifier_id=%s err=%v", order.ID, pick.Verifier.ID, err)
	}

	order.State = domain.OrderStatePendingVerification
	order.VerifierID = &pick.Verifier.ID
	log.Printf("level=info component=order_service msg=\"verifier assigned\" order_id=%s verifier_id=%s open=%d", order.ID, pick.Verifier.ID, pick.OpenAssignments)
	s.notifyAssignment(ctx, order, &pick.Verifier)
	return order, nil
}

// Approve finalizes an order as approved: the assigned verifier's decision
// triggers provisioning on the panel and, only once the resource exists, the
// terminal transition. A replayed approval returns the stored outcome.
func (s *Service) Approve(ctx context.Context, orderID, verifierID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDecision(order, verifierID); err != nil {
		return nil, err
	}

	switch order.State {
	case domain.OrderStateApproved:
		return order, nil
	case domain.OrderStatePendingVerification:
		// fall through to the claim
	default:
		return nil, domain.ErrInvalidStateTransition
	}

	claimed, err := s.repo.ClaimOrderForDecision(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim order for decision: %w", err)
	}
	if !claimed {
		return s.resolveLostClaim(ctx, orderID, domain.OrderStateApproved)
	}

	resource, err := s.provisioner.Provision(ctx, order)
	if err != nil {
		// The decision did not take effect. Release the claim so the
		// verifier can retry once the panel recovers.
		if relErr := s.repo.ReleaseOrderDecision(ctx, orderID); relErr != nil {
			log.Printf("level=error component=order_service msg=\"failed to release decision claim\" order_id=%s err=%v", orderID, relErr)
		}
		log.Printf("level=warn component=order_service msg=\"provisioning failed; approval not applied\" order_id=%s err=%v", orderID, err)
		return nil, err
	}

	decidedAt := time.Now().UTC()
	moved, err := s.repo.CompleteApproval(ctx, orderID, resource.ID, decidedAt)
	if err != nil || !moved {
		// The approval cannot be recorded, so the panel account must not
		// stay active and the claim must not pin the order.
		s.provisioner.Rollback(ctx, order, resource.ID)
		if relErr := s.repo.ReleaseOrderDecision(ctx, orderID); relErr != nil {
			log.Printf("level=error component=order_service msg=\"failed to release decision claim\" order_id=%s err=%v", orderID, relErr)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to complete approval: %w", err)
		}
		return nil, domain.ErrConcurrencyConflict
	}

	order.State = domain.OrderStateApproved
	order.ResourceID = &resource.ID
	order.DecidedAt = &decidedAt
	s.recordDecision(ctx, order, verifierID, decidedAt, true)
	log.Printf("level=info component=order_service msg=\"order approved\" order_id=%s verifier_id=%s resource_id=%s", orderID, verifierID, resource.ID)
	s.publishOrderEvent(ctx, domain.EventOrderApproved, order, "")
	return order, nil
}

// Reject finalizes an order as rejected with a mandatory reason. No panel
// interaction happens on this path.
func (s *Service) Reject(ctx context.Context, orderID, verifierID uuid.UUID, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.New("rejection reason is required")
	}

	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDecision(order, verifierID); err != nil {
		return nil, err
	}

	switch order.State {
	case domain.OrderStateRejected:
		return order, nil
	case domain.OrderStatePendingVerification:
		// fall through to the claim
	default:
		return nil, domain.ErrInvalidStateTransition
	}

	claimed, err := s.repo.ClaimOrderForDecision(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim order for decision: %w", err)
	}
	if !claimed {
		return s.resolveLostClaim(ctx, orderID, domain.OrderStateRejected)
	}

	decidedAt := time.Now().UTC()
	moved, err := s.repo.CompleteRejection(ctx, orderID, reason, decidedAt)
	if err != nil {
		// The rejection did not land; release the claim so the verifier can
		// retry.
		if relErr := s.repo.ReleaseOrderDecision(ctx, orderID); relErr != nil {
			log.Printf("level=error component=order_service msg=\"failed to release decision claim\" order_id=%s err=%v", orderID, relErr)
		}
		return nil, fmt.Errorf("failed to complete rejection: %w", err)
	}
	if !moved {
		return nil, domain.ErrConcurrencyConflict
	}

	order.State = domain.OrderStateRejected
	order.RejectionReason = &reason
	order.DecidedAt = &decidedAt
	s.recordDecision(ctx, order, verifierID, decidedAt, false)
	log.Printf("level=info component=order_service msg=\"order rejected\" order_id=%s verifier_id=%s", orderID, verifierID)
	s.publishOrderEvent(ctx, domain.EventOrderRejected, order, reason)
	return order, nil
}

// ExpireOverdue moves every overdue awaiting_payment order to expired.
// Returns the count of orders expired in this pass. Safe to run concurrently
// on multiple instances: the conditional update lets exactly one win per
// order.
func (s *Service) ExpireOverdue(ctx context.Context, batch int) (int, error) {
	now := time.Now().UTC()
	overdue, err := s.repo.ListExpiredAwaitingPayment(ctx, now, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue orders: %w", err)
	}

	expired := 0
	for i := range overdue {
		order := &overdue[i]
		moved, err := s.repo.ExpireOrder(ctx, order.ID, now)
		if err != nil {
			log.Printf("level=error component=order_service msg=\"failed to expire order\" order_id=%s err=%v", order.ID, err)
			continue
		}
		if !moved {
			// The purchaser submitted between the scan and this update, or
			// another instance expired it first. Either way nothing to do.
			continue
		}
		expired++
		order.State = domain.OrderStateExpired
		s.publishOrderEvent(ctx, domain.EventOrderExpired, order, "")
	}
	return expired, nil
}

// VerifierReport builds the metrics snapshot for one verifier, optionally
// windowed.
func (s *Service) VerifierReport(ctx context.Context, verifierID uuid.UUID, windowStart, windowEnd *time.Time) (*domain.MetricsSnapshot, error) {
	return s.metrics.Snapshot(ctx, verifierID, windowStart, windowEnd)
}

// VerifiersReport builds the metrics snapshot for all verifiers.
func (s *Service) VerifiersReport(ctx context.Context) ([]domain.MetricsSnapshot, error) {
	return s.metrics.Report(ctx)
}

// authorizeDecision rejects a decision from anyone but the assigned verifier.
// Checked before any state inspection so an unauthorized caller cannot probe
// order state.
func (s *Service) authorizeDecision(order *domain.Order, verifierID uuid.UUID) error {
	if order.VerifierID == nil || *order.VerifierID != verifierID {
		return domain.ErrNotAuthorized
	}
	return nil
}

// resolveLostClaim distinguishes a replay of an already-final decision from a
// genuine conflict with the opposite decision.
func (s *Service) resolveLostClaim(ctx context.Context, orderID uuid.UUID, wantState string) (*domain.Order, error) {
	current, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.State == wantState {
		return current, nil
	}
	return nil, domain.ErrConcurrencyConflict
}

// recordDecision updates the verifier's counters. Response time is anchored
// at proof submission, which is when the verification clock starts for the
// purchaser.
func (s *Service) recordDecision(ctx context.Context, order *domain.Order, verifierID uuid.UUID, decidedAt time.Time, approved bool) {
	assignedAt := decidedAt
	if order.SubmittedAt != nil {
		assignedAt = *order.SubmittedAt
	}
	if err := s.metrics.RecordOutcome(ctx, verifierID, assignedAt, decidedAt, approved); err != nil {
		log.Printf("level=warn component=order_service msg=\"failed to record decision metrics\" order_id=%s verifier_id=%s err=%v", order.ID, verifierID, err)
	}
}

func (s *Service) notifyAssignment(ctx context.Context, order *domain.Order, verifier *domain.Verifier) {
	proof := ""
	if order.ProofReference != nil {
		proof = *order.ProofReference
	}
	event := domain.VerifierAssignmentEvent{
		OrderID:            order.ID,
		VerifierID:         verifier.ID,
		NotificationTarget: verifier.NotificationTarget,
		Amount:             order.Amount,
		ProofReference:     proof,
		Actions:            []string{"approve", "reject"},
		Timestamp:          time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.cfg.NotifyExchange, domain.EventVerifierAssignment, event); err != nil {
		log.Printf("level=warn component=order_service msg=\"failed to publish assignment event\" order_id=%s verifier_id=%s err=%v", order.ID, verifier.ID, err)
	}
}

func (s *Service) publishOrderEvent(ctx context.Context, routingKey string, order *domain.Order, reason string) {
	event := domain.OrderEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		State:     order.State,
		Amount:    order.Amount,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.cfg.NotifyExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=order_service msg=\"failed to publish order event\" order_id=%s routing_key=%s err=%v", order.ID, routingKey, err)
	}
}

func (s *Service) publishOps(ctx context.Context, orderID *uuid.UUID, resourceID, detail string) {
	event := domain.OpsEvent{
		OrderID:    orderID,
		ResourceID: resourceID,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.cfg.NotifyExchange, domain.EventCapacityExhausted, event); err != nil {
		log.Printf("level=warn component=order_service msg=\"failed to publish ops event\" err=%v", err)
	}
}
