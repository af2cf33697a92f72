/**
 * @description
 * Verifier metrics aggregation and reporting. The aggregator is the only
 * writer of the verifier_metrics counters: the order lifecycle reports each
 * terminal decision here, and the admin report endpoints read the snapshots
 * it produces.
 *
 * @dependencies
 * - internal/domain, internal/store: Metrics models and data access.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vpnmarket/payment-service/internal/domain"
	"github.com/vpnmarket/payment-service/internal/store"
)

// MetricsAggregator owns per-verifier performance counters.
type MetricsAggregator struct {
	repo store.Repository
}

// NewMetricsAggregator creates a new aggregator backed by the repository.
func NewMetricsAggregator(repo store.Repository) *MetricsAggregator {
	return &MetricsAggregator{repo: repo}
}

// RecordOutcome applies one terminal decision to the verifier's counters. The
// response time is measured from assignment to decision; a non-positive value
// (clock skew) is recorded as zero rather than poisoning the average.
func (m *MetricsAggregator) RecordOutcome(ctx context.Context, verifierID uuid.UUID, assignedAt, decidedAt time.Time, approved bool) error {
	responseSecs := decidedAt.Sub(assignedAt).Seconds()
	if responseSecs < 0 {
		log.Printf("level=warn component=metrics_aggregator msg=\"negative response time; recording zero\" verifier_id=%s", verifierID)
		responseSecs = 0
	}
	if err := m.repo.RecordVerifierOutcome(ctx, verifierID, responseSecs, approved); err != nil {
		return fmt.Errorf("failed to record verifier outcome: %w", err)
	}
	return nil
}

// Snapshot builds the report row for a single verifier. When a non-nil window
// is given the windowed decision count is included alongside the lifetime
// counters.
func (m *MetricsAggregator) Snapshot(ctx context.Context, verifierID uuid.UUID, windowStart, windowEnd *time.Time) (*domain.MetricsSnapshot, error) {
	verifier, err := m.repo.FindVerifierByID(ctx, verifierID)
	if err != nil {
		return nil, err
	}
	metrics, err := m.repo.GetVerifierMetrics(ctx, verifierID)
	if err != nil {
		return nil, err
	}

	snap := buildSnapshot(verifier, metrics)
	if windowStart != nil && windowEnd != nil {
		count, err := m.repo.CountDecisionsBetween(ctx, verifierID, *windowStart, *windowEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to count windowed decisions: %w", err)
		}
		snap.WindowProcessed = &count
		snap.WindowStart = windowStart
		snap.WindowEnd = windowEnd
	}
	return snap, nil
}

// Report builds snapshot rows for every verifier with recorded metrics.
func (m *MetricsAggregator) Report(ctx context.Context) ([]domain.MetricsSnapshot, error) {
	all, err := m.repo.ListVerifierMetrics(ctx)
	if err != nil {
		return nil, err
	}

	snapshots := make([]domain.MetricsSnapshot, 0, len(all))
	for i := range all {
		verifier, err := m.repo.FindVerifierByID(ctx, all[i].VerifierID)
		if err != nil {
			// A metrics row for a since-removed verifier is not a reason to
			// fail the whole report.
			log.Printf("level=warn component=metrics_aggregator msg=\"skipping metrics row without verifier\" verifier_id=%s err=%v", all[i].VerifierID, err)
			continue
		}
		snapshots = append(snapshots, *buildSnapshot(verifier, &all[i]))
	}
	return snapshots, nil
}

func buildSnapshot(verifier *domain.Verifier, metrics *domain.VerifierMetrics) *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{
		VerifierID:      verifier.ID,
		DisplayName:     verifier.DisplayName,
		TotalProcessed:  metrics.TotalProcessed,
		TotalApproved:   metrics.TotalApproved,
		TotalRejected:   metrics.TotalRejected,
		ApprovalRate:    metrics.ApprovalRate(),
		AvgResponseSecs: metrics.AvgResponseSecs,
	}
}
