package models

import (
	"fmt"
	"strings"
)

// MessageStatus is the per-message delivery status. Non-failed statuses form a
// total order (see Rank); FAILED is a side-terminal state.
type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusQueued    MessageStatus = "QUEUED"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// AllStatuses in rank order, FAILED last.
var AllStatuses = []MessageStatus{StatusPending, StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed}

// Rank returns the position of s in the progression
// PENDING(0) < QUEUED(1) < SENT(2) < DELIVERED(3) < READ(4). FAILED and
// unknown values rank -1.
func Rank(s MessageStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusQueued:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return -1
}

// Compare orders two non-failed statuses: -1, 0 or +1.
func Compare(a, b MessageStatus) int {
	ra, rb := Rank(a), Rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

// CanTransition is the monotonic progression rule shared by the dispatcher,
// the reconciler and both stores. A status is applied only if it ranks above
// the current one, or it is FAILED and the message is not yet finished
// (READ and FAILED accept nothing).
func CanTransition(from, to MessageStatus) bool {
	if from == StatusFailed || Rank(from) < 0 {
		return false
	}
	if to == StatusFailed {
		return from != StatusRead
	}
	if Rank(to) < 0 {
		return false
	}
	return Rank(to) > Rank(from)
}

// AcceptingStatuses lists every current status from which to may be applied.
// Stores use it to build compare-and-set filters.
func AcceptingStatuses(to MessageStatus) []MessageStatus {
	var out []MessageStatus
	for _, s := range AllStatuses {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// Unsettled reports whether the dispatcher still owes the message a send
// attempt. Every other status counts as terminal for campaign completion.
func (s MessageStatus) Unsettled() bool {
	return s == StatusPending || s == StatusQueued
}

// UnsettledStatuses are the statuses that keep a campaign RUNNING.
var UnsettledStatuses = []MessageStatus{StatusPending, StatusQueued}

// ParseCallbackStatus maps a gateway callback status (sent, delivered, read,
// failed) onto MessageStatus.
func ParseCallbackStatus(raw string) (MessageStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	case "failed", "undelivered":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown callback status %q", raw)
}

// CountersFor returns the campaign counters to increment when a message moves
// from -> to. Skipped steps of the funnel are counted too, so a message that
// jumps SENT -> READ still counts as delivered. Because the move is accepted
// at most once per rank, each counter moves at most once per message.
func CountersFor(from, to MessageStatus) map[string]int64 {
	inc := map[string]int64{}
	if to == StatusFailed {
		inc[CounterFailed] = 1
		return inc
	}
	for r := Rank(from) + 1; r <= Rank(to); r++ {
		switch r {
		case 2:
			inc[CounterSent]++
		case 3:
			inc[CounterDelivered]++
		case 4:
			inc[CounterRead]++
		}
	}
	return inc
}
