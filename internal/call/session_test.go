package call

import (
	"errors"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		name string
		from State
		to   State
		ok   bool
	}{
		{"idle to ringing", StateIdle, StateRinging, true},
		{"idle to awaiting answer", StateIdle, StateAwaitingAnswer, true},
		{"idle to active skips setup", StateIdle, StateActive, false},
		{"ringing to connecting", StateRinging, StateConnecting, true},
		{"ringing to active skips answer", StateRinging, StateActive, false},
		{"awaiting answer to connecting", StateAwaitingAnswer, StateConnecting, true},
		{"connecting to active", StateConnecting, StateActive, true},
		{"active cannot ring again", StateActive, StateRinging, false},
		{"ringing to ended", StateRinging, StateEnded, true},
		{"active to ended", StateActive, StateEnded, true},
		{"connecting to error", StateConnecting, StateError, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Session{state: tc.from}
			err := s.advance(tc.to)
			if tc.ok && err != nil {
				t.Fatalf("advance %s -> %s: %v", tc.from, tc.to, err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("advance %s -> %s: got %v, want ErrInvalidTransition", tc.from, tc.to, err)
				}
				if s.State() != tc.from {
					t.Fatalf("state changed on rejected transition: %s", s.State())
				}
			}
		})
	}
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	for _, terminal := range []State{StateEnded, StateError} {
		s := &Session{state: terminal}
		for _, next := range []State{StateRinging, StateConnecting, StateActive, StateEnded, StateError} {
			if err := s.advance(next); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("advance %s -> %s: got %v, want ErrInvalidTransition", terminal, next, err)
			}
		}
	}
}

func TestStateStrings(t *testing.T) {
	if got := StateAwaitingAnswer.String(); got != "awaiting_answer" {
		t.Fatalf("String: got %q", got)
	}
	if got := State(99).String(); got != "unknown" {
		t.Fatalf("String for out-of-range value: got %q", got)
	}
}
