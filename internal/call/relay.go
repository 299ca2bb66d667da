package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heartlink/heartlink-realtime/internal/bus"
	"github.com/heartlink/heartlink-realtime/internal/session"
	"github.com/heartlink/heartlink-realtime/internal/wire"
)

var (
	// ErrAnswerTimeout is the hard error for an unanswered call attempt.
	ErrAnswerTimeout = errors.New("call answer deadline exceeded")
	// ErrCallNotFound reports an unknown call id.
	ErrCallNotFound = errors.New("call not found")
	// ErrCallEnded reports a call torn down by the peer or the transport.
	ErrCallEnded = errors.New("call ended")
)

// Options tunes the relay.
type Options struct {
	AnswerTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.AnswerTimeout == 0 {
		o.AnswerTimeout = 15 * time.Second
	}
}

// Relay forwards opaque call-signaling payloads and tracks one state
// machine per call session. Offer/answer/ICE contents are never
// interpreted, only tagged with call identifiers and forwarded.
type Relay struct {
	sess   *session.Manager
	bus    *bus.Bus
	log    *zerolog.Logger
	selfID string
	opts   Options

	mu     sync.Mutex
	calls  map[string]*Session
	byPeer map[string]string
	unsubs []func()
}

// NewRelay builds the relay and wires its inbound subscriptions.
func NewRelay(sess *session.Manager, b *bus.Bus, logger *zerolog.Logger, selfID string, opts Options) *Relay {
	opts.withDefaults()
	r := &Relay{
		sess:   sess,
		bus:    b,
		log:    logger,
		selfID: selfID,
		opts:   opts,
		calls:  make(map[string]*Session),
		byPeer: make(map[string]string),
	}
	r.unsubs = append(r.unsubs,
		b.Subscribe(bus.KindIncomingCall, r.onIncomingCall),
		b.Subscribe(bus.KindCallSignal, r.onSignal),
		b.Subscribe(bus.KindCallHangup, r.onHangup),
		b.Subscribe(bus.KindCallFailed, r.onCallError),
		b.Subscribe(bus.KindDisconnected, r.onTransportDown),
		b.Subscribe(bus.KindAuthFailed, r.onTransportDown),
		b.Subscribe(bus.KindStateChanged, r.onStateChanged),
	)
	return r
}

// Close removes the relay's bus subscriptions.
func (r *Relay) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
}

// Call looks up a tracked call session.
func (r *Relay) Call(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.calls[callID]
	return s, ok
}

// InitiateCall starts a call and suspends until the callee answers or the
// deadline elapses. Unlike chat sends, the timeout here is a hard error:
// an unanswered call has no useful optimistic state.
func (r *Relay) InitiateCall(ctx context.Context, recipientID, callType string) (*Session, error) {
	if !r.sess.IsConnected() {
		return nil, session.ErrNotConnected
	}

	s := &Session{
		CallID:    uuid.NewString(),
		PeerID:    recipientID,
		Role:      RoleCaller,
		CallType:  callType,
		StartedAt: time.Now(),
	}
	if err := s.advance(StateAwaitingAnswer); err != nil {
		return nil, err
	}
	r.register(s)

	handle := r.sess.Tracker().Track(s.CallID, r.opts.AnswerTimeout)
	err := r.sess.Dispatch(wire.EventInitiateCall, wire.InitiateCallData{
		CallID:      s.CallID,
		RecipientID: recipientID,
		CallType:    callType,
	})
	if err != nil {
		r.sess.Tracker().Fail(s.CallID, err)
	}

	res := handle.Await(ctx)
	switch {
	case res.TimedOut:
		r.fail(s, ErrAnswerTimeout)
		return nil, ErrAnswerTimeout
	case res.Err != nil:
		r.fail(s, res.Err)
		return nil, res.Err
	default:
		return s, nil
	}
}

// SendSignal forwards an opaque signaling blob to the call's peer. A
// ringing callee moves to Connecting on its first outbound signal (the
// answer).
func (r *Relay) SendSignal(callID string, signal json.RawMessage) error {
	s, ok := r.Call(callID)
	if !ok {
		return ErrCallNotFound
	}
	if err := r.sess.Dispatch(wire.EventVideoSignal, wire.VideoSignalData{
		RecipientID: s.PeerID,
		Signal:      signal,
		From:        r.selfID,
	}); err != nil {
		return err
	}
	if s.Role == RoleCallee && s.State() == StateRinging {
		if err := s.advance(StateConnecting); err != nil {
			r.log.Debug().Err(err).Str("call_id", callID).Msg("signal state advance")
		}
	}
	return nil
}

// MarkActive is called by the media layer once the peer connection is up.
func (r *Relay) MarkActive(callID string) error {
	s, ok := r.Call(callID)
	if !ok {
		return ErrCallNotFound
	}
	return s.advance(StateActive)
}

// SendHangup ends the call locally and notifies the peer.
func (r *Relay) SendHangup(callID string) error {
	s, ok := r.Call(callID)
	if !ok {
		return ErrCallNotFound
	}
	err := r.sess.Dispatch(wire.EventVideoHangup, wire.VideoHangupData{
		RecipientID: s.PeerID,
		UserID:      r.selfID,
		Timestamp:   time.Now().UnixMilli(),
	})
	r.end(s, StateEnded)
	return err
}

// SendMediaControl notifies the peer about a local mute/unmute.
func (r *Relay) SendMediaControl(callID, mediaType string, muted bool) error {
	s, ok := r.Call(callID)
	if !ok {
		return ErrCallNotFound
	}
	return r.sess.Dispatch(wire.EventVideoMediaControl, wire.VideoMediaControlData{
		RecipientID: s.PeerID,
		Type:        mediaType,
		Muted:       muted,
		UserID:      r.selfID,
	})
}

// OnIncomingCall subscribes to incoming call notifications.
func (r *Relay) OnIncomingCall(fn func(wire.IncomingCallData)) func() {
	return r.bus.Subscribe(bus.KindIncomingCall, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.IncomingCallData); ok {
			fn(d)
		}
	})
}

// OnSignal subscribes to inbound signaling blobs. The media layer feeds
// these to its peer connection untouched.
func (r *Relay) OnSignal(fn func(wire.VideoSignalData)) func() {
	return r.bus.Subscribe(bus.KindCallSignal, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.VideoSignalData); ok {
			fn(d)
		}
	})
}

// OnHangup subscribes to peer hangup notifications.
func (r *Relay) OnHangup(fn func(wire.VideoHangupData)) func() {
	return r.bus.Subscribe(bus.KindCallHangup, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.VideoHangupData); ok {
			fn(d)
		}
	})
}

// OnMediaControl subscribes to peer mute/unmute notifications.
func (r *Relay) OnMediaControl(fn func(wire.VideoMediaControlData)) func() {
	return r.bus.Subscribe(bus.KindCallMediaControl, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.VideoMediaControlData); ok {
			fn(d)
		}
	})
}

func (r *Relay) register(s *Session) {
	r.mu.Lock()
	r.calls[s.CallID] = s
	r.byPeer[s.PeerID] = s.CallID
	r.mu.Unlock()
}

func (r *Relay) remove(s *Session) {
	r.mu.Lock()
	delete(r.calls, s.CallID)
	if r.byPeer[s.PeerID] == s.CallID {
		delete(r.byPeer, s.PeerID)
	}
	r.mu.Unlock()
}

func (r *Relay) fail(s *Session, err error) {
	if advErr := s.advance(StateError); advErr != nil {
		r.log.Debug().Err(advErr).Str("call_id", s.CallID).Msg("fail state advance")
	}
	r.log.Warn().Err(err).Str("call_id", s.CallID).Str("peer", s.PeerID).Msg("call failed")
	r.remove(s)
}

func (r *Relay) end(s *Session, terminal State) {
	if err := s.advance(terminal); err != nil {
		r.log.Debug().Err(err).Str("call_id", s.CallID).Msg("end state advance")
	}
	r.remove(s)
}

func (r *Relay) byPeerID(peerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	callID, ok := r.byPeer[peerID]
	if !ok {
		return nil, false
	}
	s, ok := r.calls[callID]
	return s, ok
}

func (r *Relay) onIncomingCall(ev bus.Event) {
	d, ok := ev.Data.(wire.IncomingCallData)
	if !ok {
		return
	}
	s := &Session{
		CallID:    d.CallID,
		PeerID:    d.CallerID,
		Role:      RoleCallee,
		CallType:  d.CallType,
		StartedAt: time.Now(),
	}
	if err := s.advance(StateRinging); err != nil {
		return
	}
	r.register(s)
	r.log.Info().Str("call_id", d.CallID).Str("caller", d.CallerID).Msg("incoming call")
}

// onSignal resolves a pending initiation on the callee's first signal
// (the answer); there is no dedicated answer event on the wire.
func (r *Relay) onSignal(ev bus.Event) {
	d, ok := ev.Data.(wire.VideoSignalData)
	if !ok {
		return
	}
	s, ok := r.byPeerID(d.From)
	if !ok {
		return
	}
	if s.Role == RoleCaller && s.State() == StateAwaitingAnswer {
		payload, err := json.Marshal(d)
		if err != nil {
			payload = nil
		}
		r.sess.Tracker().Resolve(s.CallID, payload)
		if err := s.advance(StateConnecting); err != nil {
			r.log.Debug().Err(err).Str("call_id", s.CallID).Msg("answer state advance")
		}
	}
}

func (r *Relay) onHangup(ev bus.Event) {
	d, ok := ev.Data.(wire.VideoHangupData)
	if !ok {
		return
	}
	s, ok := r.byPeerID(d.UserID)
	if !ok {
		return
	}
	r.sess.Tracker().Fail(s.CallID, ErrCallEnded)
	r.end(s, StateEnded)
	r.log.Info().Str("call_id", s.CallID).Str("peer", d.UserID).Msg("peer hung up")
}

// onCallError carries no call identifier on the wire, so every live call
// is failed.
func (r *Relay) onCallError(ev bus.Event) {
	r.failAll(ev.Err)
}

func (r *Relay) onTransportDown(ev bus.Event) {
	r.failAll(ev.Err)
}

// onStateChanged catches teardowns that bypass the transport-down path:
// a local Disconnect and the fatal auth rejection both land the session
// in Disconnected or Failed without a KindDisconnected event.
func (r *Relay) onStateChanged(ev bus.Event) {
	st, ok := ev.Data.(session.State)
	if !ok {
		return
	}
	if st == session.StateDisconnected || st == session.StateFailed {
		r.failAll(ev.Err)
	}
}

func (r *Relay) failAll(cause error) {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.calls))
	for _, s := range r.calls {
		live = append(live, s)
	}
	r.mu.Unlock()

	if cause == nil {
		cause = ErrCallEnded
	}
	for _, s := range live {
		if s.terminal() {
			continue
		}
		r.sess.Tracker().Fail(s.CallID, cause)
		r.fail(s, cause)
	}
}
