package scratchomised

import "time"

// ConnectionState represents where the session is in its connect cycle.
type ConnectionState int

const (
	// StateIdle means no connection is wanted, or retries ran out.
	StateIdle ConnectionState = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateOpen means the socket is up and frames flow.
	StateOpen

	// StateClosing means the current socket is being torn down.
	StateClosing

	// StateBackoff means the session waits before the next dial.
	StateBackoff
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Attempt  int           // failed attempts since the last open
	Delay    time.Duration // set when entering StateBackoff
	DialID   string        // ULID of the dial this transition belongs to
	Error    error         // Optional error that caused the state change
}
