// Package guardrail holds the pure precondition checks enforced before
// any state-changing auction write. None of them touch the database.
package guardrail

import (
	"fmt"
	"time"
)

// Result is the outcome of a single guardrail check.
type Result struct {
	OK     bool
	Reason string
}

func pass() Result {
	return Result{OK: true}
}

func fail(format string, args ...interface{}) Result {
	return Result{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// SufficientBudget checks that a participant's remaining budget covers
// an amount. Checked at bid time and again at settlement, since the
// budget may have changed between the two.
func SufficientBudget(budget, amount int64) Result {
	if amount <= 0 {
		return fail("amount must be positive")
	}
	if budget < amount {
		return fail("insufficient budget: have %d, need %d", budget, amount)
	}
	return pass()
}

// MinimumRaise checks that a bid clears the current bid by at least the
// configured increment. The opening bid must be at least the increment.
func MinimumRaise(currentBid, amount, increment int64) Result {
	if amount < currentBid+increment {
		return fail("bid %d below minimum %d", amount, currentBid+increment)
	}
	return pass()
}

// RosterHasCapacity checks that a participant still has an open slot.
func RosterHasCapacity(owned, slotLimit int) Result {
	if owned >= slotLimit {
		return fail("roster full: %d of %d slots used", owned, slotLimit)
	}
	return pass()
}

// NoDuplicateOwnership rejects a sale of an item that already has an
// ownership grant in this auction.
func NoDuplicateOwnership(alreadyOwned bool, itemID string) Result {
	if alreadyOwned {
		return fail("item %s already owned", itemID)
	}
	return pass()
}

// ParticipantCount gates auction start and certain settings changes.
func ParticipantCount(count, min, max int) Result {
	if count < min {
		return fail("need at least %d participants, have %d", min, count)
	}
	if count > max {
		return fail("at most %d participants allowed, have %d", max, count)
	}
	return pass()
}

// DeadlineMonotonic rejects any proposed deadline earlier than the one
// already stored on the lot.
func DeadlineMonotonic(current, proposed time.Time) Result {
	if proposed.Before(current) {
		return fail("deadline may not move earlier (current %s, proposed %s)",
			current.Format(time.RFC3339Nano), proposed.Format(time.RFC3339Nano))
	}
	return pass()
}
