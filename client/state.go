package client

// SessionState is the lifecycle of the one socket a Session owns. The
// explicit enum is what keeps a scheduled reconnect and an explicit Close
// from racing: every timer callback re-checks the state before acting.
type SessionState int

const (
	// StateClosed means no socket is open and none will be opened
	// without a new Connect call.
	StateClosed SessionState = iota

	// StateConnecting means a dial or a scheduled reconnect is in
	// progress.
	StateConnecting

	// StateOpen means the socket is connected and joined.
	StateOpen

	// StateClosing means Close was called and any in-flight close event
	// must not trigger a reconnect.
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
