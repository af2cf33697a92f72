package domain

import "bytes"

// NextDestinationAccount applies the rotation policy to a candidate set:
// inactive accounts are ignored, the lowest non-empty priority tier wins, and
// within a tier the account with the oldest last_selected_at is picked
// (never-selected first, ties broken by lowest id for determinism).
//
// The Postgres repository evaluates this policy inside a row-locked
// transaction so that concurrent selections serialize; callers holding a
// plain slice (tests, in-memory stores) get the identical ordering here.
func NextDestinationAccount(accounts []DestinationAccount) (*DestinationAccount, error) {
	var best *DestinationAccount
	for i := range accounts {
		a := &accounts[i]
		if !a.Active {
			continue
		}
		if best == nil || lessDestination(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNoActiveDestination
	}
	return best, nil
}

func lessDestination(a, b *DestinationAccount) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	switch {
	case a.LastSelectedAt == nil && b.LastSelectedAt != nil:
		return true
	case a.LastSelectedAt != nil && b.LastSelectedAt == nil:
		return false
	case a.LastSelectedAt != nil && b.LastSelectedAt != nil:
		if !a.LastSelectedAt.Equal(*b.LastSelectedAt) {
			return a.LastSelectedAt.Before(*b.LastSelectedAt)
		}
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
