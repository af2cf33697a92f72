package domain

import (
	"math"
	"testing"
)

func TestApplyOutcomeMatchesArithmeticMean(t *testing.T) {
	samples := []float64{12, 300, 45, 7, 1800, 90}

	var m VerifierMetrics
	var sum float64
	for i, s := range samples {
		m.ApplyOutcome(s, i%2 == 0)
		sum += s
	}

	want := sum / float64(len(samples))
	if math.Abs(m.AvgResponseSecs-want) > 1e-9 {
		t.Fatalf("expected running average %f, got %f", want, m.AvgResponseSecs)
	}
	if m.TotalProcessed != int64(len(samples)) {
		t.Fatalf("expected %d processed, got %d", len(samples), m.TotalProcessed)
	}
	if m.TotalApproved != 3 || m.TotalRejected != 3 {
		t.Fatalf("unexpected split: approved=%d rejected=%d", m.TotalApproved, m.TotalRejected)
	}
}

func TestApprovalRate(t *testing.T) {
	var m VerifierMetrics
	if m.ApprovalRate() != 0 {
		t.Fatal("empty metrics must report a zero approval rate")
	}

	m.ApplyOutcome(10, true)
	m.ApplyOutcome(20, true)
	m.ApplyOutcome(30, false)
	m.ApplyOutcome(40, true)

	if got := m.ApprovalRate(); math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("expected approval rate 0.75, got %f", got)
	}
}
