package guardrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSufficientBudget(t *testing.T) {
	tests := []struct {
		name   string
		budget int64
		amount int64
		ok     bool
	}{
		{"exact budget", 100, 100, true},
		{"under budget", 100, 99, true},
		{"over budget", 100, 101, false},
		{"zero amount", 100, 0, false},
		{"negative amount", 100, -5, false},
		{"zero budget", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := SufficientBudget(tt.budget, tt.amount)
			assert.Equal(t, tt.ok, res.OK)
			if !tt.ok {
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestMinimumRaise(t *testing.T) {
	tests := []struct {
		name       string
		currentBid int64
		amount     int64
		increment  int64
		ok         bool
	}{
		{"opening bid at increment", 0, 1, 1, true},
		{"opening bid below increment", 0, 0, 1, false},
		{"exact raise", 10, 11, 1, true},
		{"below raise", 10, 10, 1, false},
		{"big increment", 10, 14, 5, false},
		{"big increment met", 10, 15, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MinimumRaise(tt.currentBid, tt.amount, tt.increment)
			assert.Equal(t, tt.ok, res.OK)
		})
	}
}

func TestRosterHasCapacity(t *testing.T) {
	assert.True(t, RosterHasCapacity(0, 1).OK)
	assert.True(t, RosterHasCapacity(14, 15).OK)
	assert.False(t, RosterHasCapacity(15, 15).OK)
	assert.False(t, RosterHasCapacity(16, 15).OK)
}

func TestNoDuplicateOwnership(t *testing.T) {
	assert.True(t, NoDuplicateOwnership(false, "item-1").OK)

	res := NoDuplicateOwnership(true, "item-1")
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "item-1")
}

func TestParticipantCount(t *testing.T) {
	assert.False(t, ParticipantCount(1, 2, 20).OK)
	assert.True(t, ParticipantCount(2, 2, 20).OK)
	assert.True(t, ParticipantCount(20, 2, 20).OK)
	assert.False(t, ParticipantCount(21, 2, 20).OK)
}

func TestDeadlineMonotonic(t *testing.T) {
	now := time.Now()

	assert.True(t, DeadlineMonotonic(now, now).OK, "equal deadlines are allowed")
	assert.True(t, DeadlineMonotonic(now, now.Add(time.Second)).OK)
	assert.False(t, DeadlineMonotonic(now, now.Add(-time.Millisecond)).OK)
}
