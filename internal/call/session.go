package call

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Role distinguishes the two ends of a call.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// State is the call session state. Transitions are monotonic; the only
// backward moves allowed are into the terminal Ended and Error states.
type State int

const (
	StateIdle State = iota
	// StateRinging is the callee side of an unanswered call.
	StateRinging
	// StateAwaitingAnswer is the caller side of an unanswered call.
	StateAwaitingAnswer
	StateConnecting
	StateActive
	StateEnded
	StateError
)

var callStateNames = map[State]string{
	StateIdle:           "idle",
	StateRinging:        "ringing",
	StateAwaitingAnswer: "awaiting_answer",
	StateConnecting:     "connecting",
	StateActive:         "active",
	StateEnded:          "ended",
	StateError:          "error",
}

func (s State) String() string {
	if name, ok := callStateNames[s]; ok {
		return name
	}
	return "unknown"
}

var forward = map[State][]State{
	StateIdle:           {StateRinging, StateAwaitingAnswer},
	StateRinging:        {StateConnecting},
	StateAwaitingAnswer: {StateConnecting},
	StateConnecting:     {StateActive},
}

// ErrInvalidTransition reports a rejected state change.
var ErrInvalidTransition = errors.New("invalid call state transition")

// Session is one call with one peer.
type Session struct {
	CallID    string
	PeerID    string
	Role      Role
	CallType  string
	StartedAt time.Time

	mu    sync.Mutex
	state State
}

// State returns the current call state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves the session to next. Ended and Error are reachable from
// any non-terminal state; everything else must follow the forward table.
func (s *Session) advance(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded || s.state == StateError {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}
	if next == StateEnded || next == StateError {
		s.state = next
		return nil
	}
	for _, allowed := range forward[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
}

func (s *Session) terminal() bool {
	st := s.State()
	return st == StateEnded || st == StateError
}
