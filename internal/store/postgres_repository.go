/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed by the order engine: conditional
 * state transitions, the locked rotation pick for destination accounts and
 * the per-row incremental metrics update.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vpnmarket/payment-service/internal/domain"
)

var (
	ErrResourceNotFound = errors.New("provisioned resource not found")
)

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `id, user_id, amount, destination_account_id, verifier_id, state,
       proof_reference, rejection_reason, resource_id, payment_deadline,
       submitted_at, decided_at, decision_in_flight, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.Amount, &o.DestinationAccountID, &o.VerifierID, &o.State,
		&o.ProofReference, &o.RejectionReason, &o.ResourceID, &o.PaymentDeadline,
		&o.SubmittedAt, &o.DecidedAt, &o.DecisionInFlight, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// CreateOrder inserts a new order already holding its destination account and
// payment deadline.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, user_id, amount, destination_account_id, state, payment_deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		order.ID, order.UserID, order.Amount, order.DestinationAccountID,
		order.State, order.PaymentDeadline,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
}

// FindOrderByID retrieves an order by its ID.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
}

// MarkPaymentSubmitted conditionally moves an order out of awaiting_payment.
// Zero rows updated means the caller lost the race (or replays a submission).
func (r *PostgresRepository) MarkPaymentSubmitted(ctx context.Context, orderID uuid.UUID, proofReference string, submittedAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET state = $2, proof_reference = $3, submitted_at = $4,
		    payment_deadline = NULL, updated_at = NOW()
		WHERE id = $1 AND state = $5
	`
	result, err := r.db.Exec(ctx, query, orderID,
		domain.OrderStatePaymentSubmitted, proofReference, submittedAt,
		domain.OrderStateAwaitingPayment)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// AssignVerifier conditionally moves payment_submitted -> pending_verification.
func (r *PostgresRepository) AssignVerifier(ctx context.Context, orderID uuid.UUID, verifierID uuid.UUID) (bool, error) {
	query := `
		UPDATE orders
		SET state = $2, verifier_id = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4
	`
	result, err := r.db.Exec(ctx, query, orderID,
		domain.OrderStatePendingVerification, verifierID,
		domain.OrderStatePaymentSubmitted)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ReassignVerifier swaps the verifier on a pending_verification order. The
// in-flight predicate keeps it from racing an ongoing decision.
func (r *PostgresRepository) ReassignVerifier(ctx context.Context, orderID uuid.UUID, verifierID uuid.UUID) (bool, error) {
	query := `
		UPDATE orders
		SET verifier_id = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3 AND decision_in_flight = FALSE
	`
	result, err := r.db.Exec(ctx, query, orderID, verifierID, domain.OrderStatePendingVerification)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ClaimOrderForDecision wins at most once per in-flight decision: the row
// lock plus the in-flight predicate make concurrent approve/reject calls
// serialize on this statement.
func (r *PostgresRepository) ClaimOrderForDecision(ctx context.Context, orderID uuid.UUID) (bool, error) {
	query := `
		UPDATE orders
		SET decision_in_flight = TRUE, updated_at = NOW()
		WHERE id = $1 AND state = $2 AND decision_in_flight = FALSE
	`
	result, err := r.db.Exec(ctx, query, orderID, domain.OrderStatePendingVerification)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ReleaseOrderDecision returns a claimed order to a decidable state after a
// failed provisioning attempt.
func (r *PostgresRepository) ReleaseOrderDecision(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET decision_in_flight = FALSE, updated_at = NOW()
		WHERE id = $1 AND state = $2 AND decision_in_flight = TRUE
	`
	_, err := r.db.Exec(ctx, query, orderID, domain.OrderStatePendingVerification)
	return err
}

// CompleteApproval finalizes a claimed decision as approved.
func (r *PostgresRepository) CompleteApproval(ctx context.Context, orderID uuid.UUID, resourceID string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET state = $2, resource_id = $3, decided_at = $4,
		    decision_in_flight = FALSE, updated_at = NOW()
		WHERE id = $1 AND state = $5 AND decision_in_flight = TRUE
	`
	result, err := r.db.Exec(ctx, query, orderID,
		domain.OrderStateApproved, resourceID, decidedAt,
		domain.OrderStatePendingVerification)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// CompleteRejection finalizes a claimed decision as rejected.
func (r *PostgresRepository) CompleteRejection(ctx context.Context, orderID uuid.UUID, reason string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET state = $2, rejection_reason = $3, decided_at = $4,
		    decision_in_flight = FALSE, updated_at = NOW()
		WHERE id = $1 AND state = $5 AND decision_in_flight = TRUE
	`
	result, err := r.db.Exec(ctx, query, orderID,
		domain.OrderStateRejected, reason, decidedAt,
		domain.OrderStatePendingVerification)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ExpireOrder conditionally expires an awaiting_payment order. The deadline
// predicate keeps a concurrent submit_payment (which nulls the deadline) or a
// second monitor instance from double-expiring.
func (r *PostgresRepository) ExpireOrder(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET state = $2, decided_at = $3, payment_deadline = NULL, updated_at = NOW()
		WHERE id = $1 AND state = $4 AND payment_deadline IS NOT NULL AND payment_deadline <= $3
	`
	result, err := r.db.Exec(ctx, query, orderID,
		domain.OrderStateExpired, now, domain.OrderStateAwaitingPayment)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ListExpiredAwaitingPayment returns overdue orders for the timeout monitor.
func (r *PostgresRepository) ListExpiredAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE state = $1 AND payment_deadline IS NOT NULL AND payment_deadline <= $2
		ORDER BY payment_deadline ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, domain.OrderStateAwaitingPayment, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.Amount, &o.DestinationAccountID, &o.VerifierID, &o.State,
			&o.ProofReference, &o.RejectionReason, &o.ResourceID, &o.PaymentDeadline,
			&o.SubmittedAt, &o.DecidedAt, &o.DecisionInFlight, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// RotateDestinationAccount runs the rotation policy inside a row-locked
// transaction: the FOR UPDATE read serializes concurrent selections so two
// orders can never both see the same "oldest" account, and the bookkeeping
// update lands before the lock is released.
func (r *PostgresRepository) RotateDestinationAccount(ctx context.Context) (*domain.DestinationAccount, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, label, card_number, holder_name, priority, active, last_selected_at, selection_count
		FROM destination_accounts
		WHERE active
		FOR UPDATE
	`)
	if err != nil {
		return nil, err
	}
	var accounts []domain.DestinationAccount
	for rows.Next() {
		var a domain.DestinationAccount
		if err := rows.Scan(&a.ID, &a.Label, &a.CardNumber, &a.HolderName, &a.Priority,
			&a.Active, &a.LastSelectedAt, &a.SelectionCount); err != nil {
			rows.Close()
			return nil, err
		}
		accounts = append(accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pick, err := domain.NextDestinationAccount(accounts)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE destination_accounts
		SET last_selected_at = NOW(), selection_count = selection_count + 1
		WHERE id = $1
		RETURNING last_selected_at, selection_count
	`, pick.ID).Scan(&pick.LastSelectedAt, &pick.SelectionCount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return pick, nil
}

// FindVerifierByID retrieves a verifier with its authorized account ids.
func (r *PostgresRepository) FindVerifierByID(ctx context.Context, verifierID uuid.UUID) (*domain.Verifier, error) {
	var v domain.Verifier
	query := `
		SELECT v.id, v.display_name, v.active, v.notification_target,
		       COALESCE(array_agg(va.account_id) FILTER (WHERE va.account_id IS NOT NULL), '{}')
		FROM verifiers v
		LEFT JOIN verifier_accounts va ON va.verifier_id = v.id
		WHERE v.id = $1
		GROUP BY v.id
	`
	err := r.db.QueryRow(ctx, query, verifierID).Scan(
		&v.ID, &v.DisplayName, &v.Active, &v.NotificationTarget, &v.AccountIDs,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrVerifierNotFound
		}
		return nil, err
	}
	return &v, nil
}

// ListEligibleVerifiers fetches assignment candidates with their metrics and
// current open (pending_verification) assignment counts in one query.
func (r *PostgresRepository) ListEligibleVerifiers(ctx context.Context, accountID uuid.UUID) ([]domain.VerifierCandidate, error) {
	query := `
		SELECT v.id, v.display_name, v.active, v.notification_target,
		       COALESCE(m.total_processed, 0), COALESCE(m.total_approved, 0),
		       COALESCE(m.total_rejected, 0), COALESCE(m.avg_response_seconds, 0),
		       m.last_assignment_at,
		       (SELECT COUNT(*) FROM orders o
		        WHERE o.verifier_id = v.id AND o.state = $2) AS open_assignments
		FROM verifiers v
		JOIN verifier_accounts va ON va.verifier_id = v.id AND va.account_id = $1
		LEFT JOIN verifier_metrics m ON m.verifier_id = v.id
		WHERE v.active
	`
	rows, err := r.db.Query(ctx, query, accountID, domain.OrderStatePendingVerification)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.VerifierCandidate
	for rows.Next() {
		var c domain.VerifierCandidate
		if err := rows.Scan(
			&c.Verifier.ID, &c.Verifier.DisplayName, &c.Verifier.Active, &c.Verifier.NotificationTarget,
			&c.Metrics.TotalProcessed, &c.Metrics.TotalApproved,
			&c.Metrics.TotalRejected, &c.Metrics.AvgResponseSecs,
			&c.Metrics.LastAssignmentAt,
			&c.OpenAssignments,
		); err != nil {
			return nil, err
		}
		c.Metrics.VerifierID = c.Verifier.ID
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// TouchVerifierAssignment upserts the last-assignment timestamp.
func (r *PostgresRepository) TouchVerifierAssignment(ctx context.Context, verifierID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO verifier_metrics (verifier_id, last_assignment_at)
		VALUES ($1, $2)
		ON CONFLICT (verifier_id) DO UPDATE SET last_assignment_at = EXCLUDED.last_assignment_at
	`
	_, err := r.db.Exec(ctx, query, verifierID, at)
	return err
}

// RecordVerifierOutcome applies the incremental-average update and count
// increments in a single statement, so concurrent decisions for different
// orders of the same verifier serialize on the row lock.
func (r *PostgresRepository) RecordVerifierOutcome(ctx context.Context, verifierID uuid.UUID, responseSecs float64, approved bool) error {
	query := `
		INSERT INTO verifier_metrics (verifier_id, total_processed, total_approved, total_rejected, avg_response_seconds)
		VALUES ($1, 1, CASE WHEN $3 THEN 1 ELSE 0 END, CASE WHEN $3 THEN 0 ELSE 1 END, $2)
		ON CONFLICT (verifier_id) DO UPDATE SET
			avg_response_seconds = verifier_metrics.avg_response_seconds
				+ ($2 - verifier_metrics.avg_response_seconds) / (verifier_metrics.total_processed + 1),
			total_processed = verifier_metrics.total_processed + 1,
			total_approved = verifier_metrics.total_approved + CASE WHEN $3 THEN 1 ELSE 0 END,
			total_rejected = verifier_metrics.total_rejected + CASE WHEN $3 THEN 0 ELSE 1 END
	`
	_, err := r.db.Exec(ctx, query, verifierID, responseSecs, approved)
	return err
}

// GetVerifierMetrics returns the counters for one verifier; a missing row
// reads as all zeroes.
func (r *PostgresRepository) GetVerifierMetrics(ctx context.Context, verifierID uuid.UUID) (*domain.VerifierMetrics, error) {
	m := domain.VerifierMetrics{VerifierID: verifierID}
	query := `
		SELECT total_processed, total_approved, total_rejected, avg_response_seconds, last_assignment_at
		FROM verifier_metrics WHERE verifier_id = $1
	`
	err := r.db.QueryRow(ctx, query, verifierID).Scan(
		&m.TotalProcessed, &m.TotalApproved, &m.TotalRejected, &m.AvgResponseSecs, &m.LastAssignmentAt,
	)
	if err != nil && err != pgx.ErrNoRows {
		return nil, err
	}
	return &m, nil
}

// ListVerifierMetrics returns counters for every verifier that has any.
func (r *PostgresRepository) ListVerifierMetrics(ctx context.Context) ([]domain.VerifierMetrics, error) {
	query := `
		SELECT verifier_id, total_processed, total_approved, total_rejected, avg_response_seconds, last_assignment_at
		FROM verifier_metrics
		ORDER BY verifier_id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []domain.VerifierMetrics
	for rows.Next() {
		var m domain.VerifierMetrics
		if err := rows.Scan(&m.VerifierID, &m.TotalProcessed, &m.TotalApproved, &m.TotalRejected, &m.AvgResponseSecs, &m.LastAssignmentAt); err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	return all, rows.Err()
}

// CountDecisionsBetween counts terminal decisions by a verifier in a window.
func (r *PostgresRepository) CountDecisionsBetween(ctx context.Context, verifierID uuid.UUID, start, end time.Time) (int64, error) {
	var count int64
	query := `
		SELECT COUNT(*) FROM orders
		WHERE verifier_id = $1 AND state IN ($2, $3)
		  AND decided_at >= $4 AND decided_at < $5
	`
	err := r.db.QueryRow(ctx, query, verifierID,
		domain.OrderStateApproved, domain.OrderStateRejected, start, end).Scan(&count)
	return count, err
}

// SaveProvisionedResource persists the panel resource record and links it to
// the paying order.
func (r *PostgresRepository) SaveProvisionedResource(ctx context.Context, res *domain.ProvisionedResource) error {
	query := `
		INSERT INTO provisioned_resources (id, order_id, panel_ref)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query, res.ID, res.OrderID, res.PanelRef).Scan(&res.CreatedAt)
}

// MarkResourceDisabled records a successful compensating disable.
func (r *PostgresRepository) MarkResourceDisabled(ctx context.Context, resourceID string, at time.Time) error {
	result, err := r.db.Exec(ctx, `UPDATE provisioned_resources SET disabled_at = $2 WHERE id = $1`, resourceID, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrResourceNotFound
	}
	return nil
}
