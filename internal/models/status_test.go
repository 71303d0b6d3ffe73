package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankOrder(t *testing.T) {
	assert.Less(t, Rank(StatusPending), Rank(StatusQueued))
	assert.Less(t, Rank(StatusQueued), Rank(StatusSent))
	assert.Less(t, Rank(StatusSent), Rank(StatusDelivered))
	assert.Less(t, Rank(StatusDelivered), Rank(StatusRead))
	assert.Equal(t, -1, Rank(StatusFailed))
	assert.Equal(t, 1, Compare(StatusRead, StatusSent))
	assert.Equal(t, 0, Compare(StatusSent, StatusSent))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusDelivered, false},
		{StatusSent, StatusSent, false},
		{StatusPending, StatusFailed, true},
		{StatusDelivered, StatusFailed, true},
		{StatusRead, StatusFailed, false},
		{StatusFailed, StatusFailed, false},
		{StatusFailed, StatusRead, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

// replay applies callbacks in order using the progression rule.
func replay(start MessageStatus, seq ...MessageStatus) MessageStatus {
	cur := start
	for _, s := range seq {
		if CanTransition(cur, s) {
			cur = s
		}
	}
	return cur
}

func TestReplayNeverRegresses(t *testing.T) {
	assert.Equal(t, StatusDelivered, replay(StatusPending, StatusSent, StatusDelivered, StatusSent))
	assert.Equal(t, StatusRead, replay(StatusPending, StatusRead, StatusDelivered, StatusSent))
	assert.Equal(t, StatusFailed, replay(StatusPending, StatusSent, StatusFailed, StatusDelivered))
	assert.Equal(t, StatusRead, replay(StatusPending, StatusRead, StatusFailed))
}

func TestReplayAllOrdersReachHighest(t *testing.T) {
	perms := [][]MessageStatus{
		{StatusSent, StatusDelivered, StatusRead},
		{StatusSent, StatusRead, StatusDelivered},
		{StatusDelivered, StatusSent, StatusRead},
		{StatusDelivered, StatusRead, StatusSent},
		{StatusRead, StatusSent, StatusDelivered},
		{StatusRead, StatusDelivered, StatusSent},
	}
	for _, p := range perms {
		assert.Equal(t, StatusRead, replay(StatusPending, p...))
	}
}

func TestAcceptingStatuses(t *testing.T) {
	assert.ElementsMatch(t, []MessageStatus{StatusPending, StatusQueued, StatusSent}, AcceptingStatuses(StatusDelivered))
	assert.ElementsMatch(t, []MessageStatus{StatusPending, StatusQueued, StatusSent, StatusDelivered}, AcceptingStatuses(StatusFailed))
	assert.Empty(t, AcceptingStatuses(StatusPending))
}

func TestCountersFor(t *testing.T) {
	assert.Equal(t, map[string]int64{CounterSent: 1}, CountersFor(StatusPending, StatusSent))
	assert.Equal(t, map[string]int64{CounterDelivered: 1, CounterRead: 1}, CountersFor(StatusSent, StatusRead))
	assert.Equal(t, map[string]int64{CounterFailed: 1}, CountersFor(StatusSent, StatusFailed))
}

func TestParseCallbackStatus(t *testing.T) {
	s, err := ParseCallbackStatus("Delivered")
	assert.NoError(t, err)
	assert.Equal(t, StatusDelivered, s)

	_, err = ParseCallbackStatus("deleted")
	assert.Error(t, err)
}
