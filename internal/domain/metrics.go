package domain

// ApplyOutcome folds one terminal decision into the counters using the
// incremental average update, so the running mean never needs the full
// history. The SQL upsert in the Postgres repository computes the same
// expression; this method exists for in-memory stores and the tests that
// exercise them.
func (m *VerifierMetrics) ApplyOutcome(responseSecs float64, approved bool) {
	m.AvgResponseSecs = m.AvgResponseSecs + (responseSecs-m.AvgResponseSecs)/float64(m.TotalProcessed+1)
	m.TotalProcessed++
	if approved {
		m.TotalApproved++
	} else {
		m.TotalRejected++
	}
}

// ApprovalRate returns approved/processed, zero when nothing was processed.
func (m *VerifierMetrics) ApprovalRate() float64 {
	if m.TotalProcessed == 0 {
		return 0
	}
	return float64(m.TotalApproved) / float64(m.TotalProcessed)
}
