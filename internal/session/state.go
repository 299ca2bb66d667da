package session

// State is the connection lifecycle state. Transitions happen only inside
// the Manager; external code observes them through bus events.
type State int

const (
	// StateDisconnected is the initial state and the result of a local Disconnect.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight for a fresh session.
	StateConnecting
	// StateConnected means the transport is up and traffic flows.
	StateConnected
	// StateReconnecting means the transport dropped and retries are running.
	StateReconnecting
	// StateFailed is terminal: the retry budget is spent or auth was rejected.
	StateFailed
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
