/**
 * @description
 * Verifier assignment scoring. Candidates eligible for an order's destination
 * account are ranked by a weighted composite of current open workload,
 * historical response speed, and how recently they were last assigned; the
 * lowest score wins.
 *
 * @dependencies
 * - internal/domain: Candidate and metrics models.
 */

package app

import (
	"bytes"
	"time"

	"github.com/vpnmarket/payment-service/internal/domain"
)

// AssignerConfig holds the scoring weights and normalization references.
// Weights are non-negative; the reference values keep the response and
// recency terms in [0,1) so no single term can dominate unboundedly.
type AssignerConfig struct {
	WeightOpen          float64
	WeightResponse      float64
	WeightRecency       float64
	ResponseRefSeconds  float64
	RecencyCooldownSecs float64
}

// VerifierAssigner ranks eligible verifiers for an order.
type VerifierAssigner struct {
	cfg AssignerConfig
}

// NewVerifierAssigner creates an assigner with the given scoring config.
func NewVerifierAssigner(cfg AssignerConfig) *VerifierAssigner {
	if cfg.ResponseRefSeconds <= 0 {
		cfg.ResponseRefSeconds = 300
	}
	if cfg.RecencyCooldownSecs <= 0 {
		cfg.RecencyCooldownSecs = 600
	}
	return &VerifierAssigner{cfg: cfg}
}

// Score computes the composite load score for one candidate at time now.
// Lower is better. A verifier that has never been assigned carries no recency
// penalty, which front-loads new verifiers into rotation.
func (a *VerifierAssigner) Score(c domain.VerifierCandidate, now time.Time) float64 {
	score := a.cfg.WeightOpen * float64(c.OpenAssignments)

	avg := c.Metrics.AvgResponseSecs
	if avg > 0 {
		score += a.cfg.WeightResponse * (avg / (avg + a.cfg.ResponseRefSeconds))
	}

	if c.Metrics.LastAssignmentAt != nil {
		idle := now.Sub(*c.Metrics.LastAssignmentAt).Seconds()
		if idle < 0 {
			idle = 0
		}
		cooldown := a.cfg.RecencyCooldownSecs
		score += a.cfg.WeightRecency * (cooldown / (cooldown + idle))
	}

	return score
}

// Pick selects the best candidate from the slice. Ties on score fall back to
// the lower open-assignment count, then the lower verifier id, so the result
// is stable for a given input regardless of slice order.
func (a *VerifierAssigner) Pick(candidates []domain.VerifierCandidate, now time.Time) (*domain.VerifierCandidate, error) {
	var best *domain.VerifierCandidate
	var bestScore float64
	for i := range candidates {
		c := &candidates[i]
		if !c.Verifier.Active {
			continue
		}
		s := a.Score(*c, now)
		if best == nil || s < bestScore || (s == bestScore && lessCandidate(c, best)) {
			best = c
			bestScore = s
		}
	}
	if best == nil {
		return nil, domain.ErrNoEligibleVerifier
	}
	return best, nil
}

func lessCandidate(a, b *domain.VerifierCandidate) bool {
	if a.OpenAssignments != b.OpenAssignments {
		return a.OpenAssignments < b.OpenAssignments
	}
	return bytes.Compare(a.Verifier.ID[:], b.Verifier.ID[:]) < 0
}
