/**
 * @description
 * Provisioning coordinator for the external VPN panel. On an approval it
 * creates the panel account, persists the link to the order, and when a later
 * step fails it runs the compensating disable so no orphaned active account
 * is left behind.
 *
 * Key behaviors:
 * - Retryable failures (network, 5xx, throttling) are retried a bounded
 *   number of times with a fixed backoff; fatal ones surface immediately.
 * - A timed-out create is ambiguous: the panel may or may not hold the
 *   account. The coordinator re-queries by the order reference instead of
 *   blindly creating again.
 * - A failed compensation is never retried automatically; it is escalated to
 *   the operator channel for manual reconciliation.
 *
 * @dependencies
 * - internal/domain, internal/store: Models and persistence.
 * - pkg/panelclient: The panel HTTP client.
 * - pkg/rabbitmq: Operator escalation events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/vpnmarket/payment-service/internal/domain"
	"github.com/vpnmarket/payment-service/internal/store"
	"github.com/vpnmarket/payment-service/pkg/panelclient"
	"github.com/vpnmarket/payment-service/pkg/rabbitmq"
)

// PanelAPI is the subset of the panel client the coordinator uses. Tests
// substitute scripted implementations.
type PanelAPI interface {
	CreateResource(ctx context.Context, spec panelclient.ResourceSpec) (*panelclient.ResourceResponse, error)
	DisableResource(ctx context.Context, resourceID string) error
	GetResourceByReference(ctx context.Context, clientReference string) (*panelclient.ResourceResponse, error)
}

// ProvisioningCoordinator creates panel accounts for approved orders.
type ProvisioningCoordinator struct {
	repo          store.Repository
	panel         PanelAPI
	eventProducer rabbitmq.Publisher
	exchange      string
	maxAttempts   int
	retryBackoff  time.Duration
}

// NewProvisioningCoordinator creates a coordinator with the given retry
// policy.
func NewProvisioningCoordinator(repo store.Repository, panel PanelAPI, producer rabbitmq.Publisher, exchange string, maxAttempts int, retryBackoff time.Duration) *ProvisioningCoordinator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = 500 * time.Millisecond
	}
	return &ProvisioningCoordinator{
		repo:          repo,
		panel:         panel,
		eventProducer: producer,
		exchange:      exchange,
		maxAttempts:   maxAttempts,
		retryBackoff:  retryBackoff,
	}
}

// Provision creates the panel account for an approved order and persists the
// link. The order id travels as the client reference so an ambiguous outcome
// can be resolved by lookup.
func (p *ProvisioningCoordinator) Provision(ctx context.Context, order *domain.Order) (*domain.ProvisionedResource, error) {
	spec := panelclient.ResourceSpec{ClientReference: order.ID.String()}

	var resp *panelclient.ResourceResponse
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		var err error
		resp, err = p.panel.CreateResource(ctx, spec)
		if err == nil {
			break
		}
		lastErr = err

		if isAmbiguousOutcome(err) {
			// The create may have landed. Look the resource up before
			// deciding whether to try again.
			existing, lookupErr := p.panel.GetResourceByReference(ctx, spec.ClientReference)
			if lookupErr == nil {
				log.Printf("level=info component=provisioner msg=\"recovered resource after ambiguous create\" order_id=%s resource_id=%s", order.ID, existing.Data.ID)
				resp = existing
				lastErr = nil
				break
			}
			if !errors.Is(lookupErr, panelclient.ErrResourceNotFound) {
				log.Printf("level=warn component=provisioner msg=\"lookup after ambiguous create failed\" order_id=%s err=%v", order.ID, lookupErr)
			}
		} else if !isRetryableOutcome(err) {
			return nil, &domain.ExternalServiceError{Op: "panel_create", Retryable: false, Err: err}
		}

		log.Printf("level=warn component=provisioner msg=\"create attempt failed\" order_id=%s attempt=%d err=%v", order.ID, attempt, err)
		if attempt < p.maxAttempts {
			select {
			case <-time.After(p.retryBackoff):
			case <-ctx.Done():
				return nil, &domain.ExternalServiceError{Op: "panel_create", Retryable: true, Err: ctx.Err()}
			}
		}
	}
	if resp == nil {
		return nil, &domain.ExternalServiceError{Op: "panel_create", Retryable: true, Err: lastErr}
	}

	res := &domain.ProvisionedResource{
		ID:        resp.Data.ID,
		OrderID:   order.ID,
		PanelRef:  resp.Data.Attributes.SubscriptionURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.repo.SaveProvisionedResource(ctx, res); err != nil {
		// The panel account exists but we cannot record it. Disable it so the
		// purchaser is not left with an untracked active account.
		p.Rollback(ctx, order, res.ID)
		return nil, fmt.Errorf("failed to persist provisioned resource: %w", err)
	}
	return res, nil
}

// Rollback disables a panel account created for an order whose approval could
// not complete. A failed disable is escalated for manual reconciliation; it is
// never retried here because acting on the panel twice has undefined effects.
func (p *ProvisioningCoordinator) Rollback(ctx context.Context, order *domain.Order, resourceID string) {
	if err := p.panel.DisableResource(ctx, resourceID); err != nil {
		rb := &domain.RollbackFailure{OrderID: order.ID.String(), ResourceID: resourceID, Err: err}
		log.Printf("level=error component=provisioner msg=\"compensating disable failed; escalating\" order_id=%s resource_id=%s err=%v", order.ID, resourceID, err)
		p.escalate(ctx, order, resourceID, rb.Error())
		return
	}
	if err := p.repo.MarkResourceDisabled(ctx, resourceID, time.Now().UTC()); err != nil && !errors.Is(err, store.ErrResourceNotFound) {
		log.Printf("level=warn component=provisioner msg=\"failed to record disabled resource\" order_id=%s resource_id=%s err=%v", order.ID, resourceID, err)
	}
	log.Printf("level=info component=provisioner msg=\"compensating disable completed\" order_id=%s resource_id=%s", order.ID, resourceID)
}

func (p *ProvisioningCoordinator) escalate(ctx context.Context, order *domain.Order, resourceID, detail string) {
	orderID := order.ID
	event := domain.OpsEvent{
		OrderID:    &orderID,
		ResourceID: resourceID,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	}
	if err := p.eventProducer.Publish(ctx, p.exchange, domain.EventReconciliationRequired, event); err != nil {
		log.Printf("level=error component=provisioner msg=\"failed to publish reconciliation event\" order_id=%s resource_id=%s err=%v", order.ID, resourceID, err)
	}
}

// isAmbiguousOutcome reports whether the create may have succeeded on the
// panel side despite the error: timeouts and cancelled contexts leave the
// outcome unknown.
func isAmbiguousOutcome(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// isRetryableOutcome classifies non-ambiguous failures. Network errors are
// retryable; panel responses delegate to their own classification.
func isRetryableOutcome(err error) bool {
	var apiErr *panelclient.ErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Wrapped transport errors from the HTTP client.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
