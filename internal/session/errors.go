package session

import "errors"

var (
	// ErrNotConnected is returned by Dispatch when no transport is up.
	ErrNotConnected = errors.New("session not connected")
	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrLivenessTimeout marks a connection declared dead by the heartbeat.
	ErrLivenessTimeout = errors.New("liveness deadline exceeded")
	// ErrReconnectExhausted marks the end of the automatic retry budget.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrAuthRejected marks a fatal auth_error from the server.
	ErrAuthRejected = errors.New("authentication rejected")
)
