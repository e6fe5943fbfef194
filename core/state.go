package core

// MessageState tracks an in-flight message through the agency routing
// lifecycle: SUBMITTED -> ROUTE_VALIDATED -> DISPATCHED -> COMPLETED | FAILED.
type MessageState int

const (
	StateSubmitted MessageState = iota
	StateRouteValidated
	StateDispatched
	StateCompleted
	StateFailed
)

// String returns the upper-case state name used in logs.
func (s MessageState) String() string {
	switch s {
	case StateSubmitted:
		return "SUBMITTED"
	case StateRouteValidated:
		return "ROUTE_VALIDATED"
	case StateDispatched:
		return "DISPATCHED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s MessageState) Terminal() bool { return s == StateCompleted || s == StateFailed }

// CanTransition reports whether next is a legal successor of s.
func (s MessageState) CanTransition(next MessageState) bool {
	switch s {
	case StateSubmitted:
		return next == StateRouteValidated || next == StateFailed
	case StateRouteValidated:
		return next == StateDispatched || next == StateFailed
	case StateDispatched:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}
