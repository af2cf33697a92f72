package app

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vpnmarket/payment-service/internal/domain"
)

func candidate(open int, avgSecs float64, lastAssigned *time.Time) domain.VerifierCandidate {
	return domain.VerifierCandidate{
		Verifier:        domain.Verifier{ID: uuid.New(), Active: true},
		Metrics:         domain.VerifierMetrics{AvgResponseSecs: avgSecs, LastAssignmentAt: lastAssigned},
		OpenAssignments: open,
	}
}

func TestPickPrefersLowestOpenWorkload(t *testing.T) {
	assigner := NewVerifierAssigner(AssignerConfig{WeightOpen: 1, WeightResponse: 0.5, WeightRecency: 0.25})
	now := time.Now().UTC()

	busy := candidate(5, 0, nil)
	idle := candidate(0, 0, nil)

	pick, err := assigner.Pick([]domain.VerifierCandidate{busy, idle}, now)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if pick.Verifier.ID != idle.Verifier.ID {
		t.Fatal("expected the idle verifier to win")
	}
}

func TestPickPenalizesSlowResponders(t *testing.T) {
	assigner := NewVerifierAssigner(AssignerConfig{WeightOpen: 1, WeightResponse: 1, ResponseRefSeconds: 300})
	now := time.Now().UTC()

	slow := candidate(1, 3600, nil)
	fast := candidate(1, 30, nil)

	pick, err := assigner.Pick([]domain.VerifierCandidate{slow, fast}, now)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if pick.Verifier.ID != fast.Verifier.ID {
		t.Fatal("expected the faster verifier to win")
	}
}

func TestPickFavorsNeverAssigned(t *testing.T) {
	assigner := NewVerifierAssigner(AssignerConfig{WeightOpen: 1, WeightRecency: 1, RecencyCooldownSecs: 600})
	now := time.Now().UTC()

	justAssigned := now.Add(-10 * time.Second)
	recent := candidate(0, 0, &justAssigned)
	fresh := candidate(0, 0, nil)

	pick, err := assigner.Pick([]domain.VerifierCandidate{recent, fresh}, now)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if pick.Verifier.ID != fresh.Verifier.ID {
		t.Fatal("a never-assigned verifier must carry no recency penalty")
	}
}

func TestPickRecencyPenaltyDecaysWithIdleTime(t *testing.T) {
	assigner := NewVerifierAssigner(AssignerConfig{WeightRecency: 1, RecencyCooldownSecs: 600})
	now := time.Now().UTC()

	justNow := now.Add(-5 * time.Second)
	longAgo := now.Add(-2 * time.Hour)
	hot := candidate(0, 0, &justNow)
	cold := candidate(0, 0, &longAgo)

	if assigner.Score(hot, now) <= assigner.Score(cold, now) {
		t.Fatal("a recently assigned verifier must score worse than a long-idle one")
	}
}

func TestPickTieBreaksDeterministically(t *testing.T) {
	assigner := NewVerifierAssigner(AssignerConfig{WeightOpen: 1})
	now := time.Now().UTC()

	a := candidate(2, 0, nil)
	b := candidate(2, 0, nil)

	first, err := assigner.Pick([]domain.VerifierCandidate{a, b}, now)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	second, err := assigner.Pick([]domain.VerifierCandidate{b, a}, now)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if first.Verifier.ID != second.Verifier.ID {
		t.Fatal("tie-break must not depend on candidate order")
	}
}

func TestPickSkipsInactiveAndErrorsWhenEmpty(t *testing.T) {
	assigner := NewVerifierAssigner(AssignerConfig{WeightOpen: 1})
	now := time.Now().UTC()

	inactive := candidate(0, 0, nil)
	inactive.Verifier.Active = false

	if _, err := assigner.Pick([]domain.VerifierCandidate{inactive}, now); !errors.Is(err, domain.ErrNoEligibleVerifier) {
		t.Fatalf("expected ErrNoEligibleVerifier, got %v", err)
	}
	if _, err := assigner.Pick(nil, now); !errors.Is(err, domain.ErrNoEligibleVerifier) {
		t.Fatalf("expected ErrNoEligibleVerifier for empty input, got %v", err)
	}
}
