package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func activeAccount(priority int, lastSelected *time.Time) DestinationAccount {
	return DestinationAccount{ID: uuid.New(), Priority: priority, Active: true, LastSelectedAt: lastSelected}
}

func TestNextDestinationAccountRoundRobinFairness(t *testing.T) {
	// With equal priority every account must be selected exactly once before
	// any repeats.
	accounts := []DestinationAccount{
		activeAccount(0, nil),
		activeAccount(0, nil),
		activeAccount(0, nil),
		activeAccount(0, nil),
	}

	seen := make(map[uuid.UUID]int)
	base := time.Now().UTC()
	for i := 0; i < len(accounts); i++ {
		pick, err := NextDestinationAccount(accounts)
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		seen[pick.ID]++
		at := base.Add(time.Duration(i) * time.Second)
		for j := range accounts {
			if accounts[j].ID == pick.ID {
				accounts[j].LastSelectedAt = &at
				accounts[j].SelectionCount++
			}
		}
	}

	for id, count := range seen {
		if count != 1 {
			t.Fatalf("account %s selected %d times in first round", id, count)
		}
	}
	if len(seen) != len(accounts) {
		t.Fatalf("expected all %d accounts selected once, got %d distinct", len(accounts), len(seen))
	}

	// The next pick must be the account selected first.
	pick, err := NextDestinationAccount(accounts)
	if err != nil {
		t.Fatalf("round two select: %v", err)
	}
	if pick.LastSelectedAt == nil || !pick.LastSelectedAt.Equal(base) {
		t.Fatal("round two must start with the least recently selected account")
	}
}

func TestNextDestinationAccountPrefersLowerPriorityTier(t *testing.T) {
	old := time.Now().UTC().Add(-24 * time.Hour)
	preferred := activeAccount(0, &old)
	fallback := activeAccount(5, nil)

	pick, err := NextDestinationAccount([]DestinationAccount{fallback, preferred})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if pick.ID != preferred.ID {
		t.Fatal("a lower priority tier must win even against a never-selected account")
	}
}

func TestNextDestinationAccountNeverSelectedFirstWithinTier(t *testing.T) {
	recent := time.Now().UTC()
	used := activeAccount(1, &recent)
	fresh := activeAccount(1, nil)

	pick, err := NextDestinationAccount([]DestinationAccount{used, fresh})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if pick.ID != fresh.ID {
		t.Fatal("a never-selected account must precede any selected one in its tier")
	}
}

func TestNextDestinationAccountSkipsInactive(t *testing.T) {
	inactive := DestinationAccount{ID: uuid.New(), Priority: 0, Active: false}
	active := activeAccount(9, nil)

	pick, err := NextDestinationAccount([]DestinationAccount{inactive, active})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if pick.ID != active.ID {
		t.Fatal("inactive accounts must never be selected")
	}

	if _, err := NextDestinationAccount([]DestinationAccount{inactive}); !errors.Is(err, ErrNoActiveDestination) {
		t.Fatalf("expected ErrNoActiveDestination, got %v", err)
	}
	if _, err := NextDestinationAccount(nil); !errors.Is(err, ErrNoActiveDestination) {
		t.Fatalf("expected ErrNoActiveDestination for empty input, got %v", err)
	}
}

func TestNextDestinationAccountTieBreakIsDeterministic(t *testing.T) {
	at := time.Now().UTC()
	a := activeAccount(0, &at)
	b := activeAccount(0, &at)

	first, err := NextDestinationAccount([]DestinationAccount{a, b})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	second, err := NextDestinationAccount([]DestinationAccount{b, a})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("tie-break must not depend on input order")
	}
}
