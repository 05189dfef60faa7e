package model

import "time"

// BreakerState is the health state of the primary store as seen by the gate.
type BreakerState int

// Breaker states. Closed is the initial state.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the wire name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ParseBreakerState is the inverse of String. Unknown names map to Closed.
func ParseBreakerState(s string) BreakerState {
	switch s {
	case "open":
		return BreakerOpen
	case "half_open":
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// BreakerSnapshot is a point-in-time copy of the gate's state and window counters.
type BreakerSnapshot struct {
	State     BreakerState `json:"-"`
	StateName string       `json:"state"`
	ChangedAt time.Time    `json:"changed_at"`
	Attempts  int          `json:"attempts"`
	Failures  int          `json:"failures"`
	OpenUntil time.Time    `json:"open_until,omitempty"`
}

// BreakerTransition describes one state change.
type BreakerTransition struct {
	From BreakerState
	To   BreakerState
	At   time.Time
	// Snapshot is taken right after the transition.
	Snapshot BreakerSnapshot
}
