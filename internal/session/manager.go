package session

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/heartlink/heartlink-realtime/internal/auth"
	"github.com/heartlink/heartlink-realtime/internal/bus"
	"github.com/heartlink/heartlink-realtime/internal/wire"
)

// Options tunes the session timers. Zero values fall back to defaults;
// tests compress them to keep scenarios fast.
type Options struct {
	HeartbeatInterval    time.Duration
	LivenessTimeout      time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	DialTimeout          time.Duration
	DispatchTimeout      time.Duration
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.LivenessTimeout == 0 {
		o.LivenessTimeout = 60 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.DispatchTimeout == 0 {
		o.DispatchTimeout = 5 * time.Second
	}
}

// Manager owns the transport lifecycle: connect, heartbeat liveness,
// bounded reconnection, and teardown. It is the single dispatch entry
// point for all outbound traffic.
type Manager struct {
	endpoint string
	dial     Dialer
	bus      *bus.Bus
	log      *zerolog.Logger
	opts     Options

	queue   *OperationQueue
	tracker *Tracker

	mu              sync.Mutex
	state           State
	transport       Transport
	identity        auth.Identity
	sessionCtx      context.Context
	sessionCancel   context.CancelFunc
	connCancel      context.CancelFunc
	reconnectTimer  *time.Timer
	skipNextBackoff bool
	lastPong        time.Time
	gen             int

	sendMu sync.Mutex
}

// NewManager builds a session manager for the given endpoint. The dialer
// is injected so tests can script the transport.
func NewManager(endpoint string, dial Dialer, b *bus.Bus, logger *zerolog.Logger, opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		endpoint: endpoint,
		dial:     dial,
		bus:      b,
		log:      logger,
		opts:     opts,
		queue:    NewOperationQueue(),
		tracker:  NewTracker(),
	}
}

// Tracker exposes the shared correlation tracker.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// QueueLen reports the number of operations waiting for a reconnect.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the transport is up. Pure query.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect establishes a fresh session with the given identity. A token
// that is already expired fails fast without dialing.
func (m *Manager) Connect(ctx context.Context, identity auth.Identity) error {
	if err := identity.Validate(time.Now()); err != nil {
		m.bus.Publish(bus.Event{Kind: bus.KindAuthFailed, Err: err})
		return err
	}

	m.mu.Lock()
	if m.state != StateDisconnected && m.state != StateFailed {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.identity = identity
	m.sessionCtx, m.sessionCancel = context.WithCancel(context.Background())
	m.state = StateConnecting
	m.mu.Unlock()
	m.publishState(StateConnecting, nil)

	if err := m.establish(ctx); err != nil {
		m.mu.Lock()
		if m.sessionCancel != nil {
			m.sessionCancel()
			m.sessionCancel = nil
		}
		m.state = StateDisconnected
		m.mu.Unlock()
		m.publishState(StateDisconnected, err)
		return err
	}
	return nil
}

// Disconnect tears the session down: both periodic timers are cancelled,
// the transport is closed, and state becomes Disconnected. The operation
// queue is kept for a future connect, and tracked requests are left to
// resolve through their own deadlines. Safe to call repeatedly.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.sessionCancel == nil && m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	tr := m.transport
	m.transport = nil
	m.gen++
	m.state = StateDisconnected
	m.mu.Unlock()

	if tr != nil {
		if err := tr.Close("client disconnect"); err != nil {
			m.log.Debug().Err(err).Msg("close transport")
		}
	}
	m.publishState(StateDisconnected, nil)
	return nil
}

// ForceReconnect triggers an immediate reconnection attempt, skipping any
// pending backoff wait. From the Failed state it restarts the retry loop.
func (m *Manager) ForceReconnect() error {
	m.mu.Lock()
	switch {
	case m.reconnectTimer != nil:
		m.reconnectTimer.Reset(0)
		m.mu.Unlock()
		return nil
	case m.state == StateFailed && m.sessionCtx != nil:
		ctx := m.sessionCtx
		m.state = StateReconnecting
		m.skipNextBackoff = true
		m.mu.Unlock()
		m.publishState(StateReconnecting, nil)
		go m.reconnectLoop(ctx)
		return nil
	case m.state == StateConnected:
		m.skipNextBackoff = true
		tr := m.transport
		m.mu.Unlock()
		if tr != nil {
			// The read loop observes the close and enters the
			// reconnect path with the backoff skipped.
			return tr.Close("force reconnect")
		}
		return nil
	default:
		m.mu.Unlock()
		return ErrNotConnected
	}
}

// Dispatch marshals and sends a frame immediately. All outbound traffic
// funnels through here; sends are serialized.
func (m *Manager) Dispatch(event string, v any) error {
	env, err := wire.NewEnvelope(event, v)
	if err != nil {
		return err
	}
	return m.dispatchEnvelope(env)
}

// Enqueue buffers an operation for the next flush. The payload is
// marshaled now so the queued entry is immutable.
func (m *Manager) Enqueue(event string, v any, correlationID string) error {
	env, err := wire.NewEnvelope(event, v)
	if err != nil {
		return err
	}
	m.queue.Enqueue(PendingOperation{
		Event:         event,
		Data:          env.Data,
		CorrelationID: correlationID,
		EnqueuedAt:    time.Now(),
	})
	return nil
}

func (m *Manager) dispatchEnvelope(env wire.Envelope) error {
	m.mu.Lock()
	tr := m.transport
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || tr == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DispatchTimeout)
	defer cancel()

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return tr.Send(ctx, env)
}

func (m *Manager) handshakeEndpoint() string {
	q := url.Values{}
	q.Set("token", m.identity.Token)
	q.Set("userId", m.identity.UserID)

	sep := "?"
	if strings.Contains(m.endpoint, "?") {
		sep = "&"
	}
	return m.endpoint + sep + q.Encode()
}

// establish dials, installs the transport, starts the per-connection
// loops, and flushes the offline queue.
func (m *Manager) establish(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()

	tr, err := m.dial(dialCtx, m.handshakeEndpoint())
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.sessionCancel == nil {
		// Disconnected while dialing.
		m.mu.Unlock()
		return tr.Close("session closed")
	}
	m.transport = tr
	m.gen++
	gen := m.gen
	connCtx, connCancel := context.WithCancel(m.sessionCtx)
	m.connCancel = connCancel
	m.lastPong = time.Now()
	m.state = StateConnected
	m.mu.Unlock()
	m.publishState(StateConnected, nil)

	go m.readLoop(connCtx, tr, gen)
	go m.heartbeatLoop(connCtx, gen)

	m.flushQueue()
	return nil
}

// flushQueue drains the offline queue and dispatches every entry once,
// in original submission order. A failed dispatch is reported to the
// entry's correlation handle and never retried.
func (m *Manager) flushQueue() {
	ops := m.queue.Drain()
	for _, op := range ops {
		if err := m.dispatchEnvelope(op.Envelope()); err != nil {
			m.log.Warn().Err(err).Str("event", op.Event).Msg("flush dispatch failed")
			if op.CorrelationID != "" {
				m.tracker.Fail(op.CorrelationID, err)
				m.bus.Publish(bus.Event{Kind: bus.KindMessageFailed, Data: wire.MessageErrorData{
					TempMessageID: op.CorrelationID,
					Error:         err.Error(),
				}, Err: err})
			}
			continue
		}
		m.log.Debug().Str("event", op.Event).Dur("queued_for", time.Since(op.EnqueuedAt)).Msg("flushed queued operation")
	}
}

func (m *Manager) readLoop(ctx context.Context, tr Transport, gen int) {
	for {
		env, err := tr.Receive(ctx)
		if err != nil {
			m.handleTransportDown(gen, err)
			return
		}
		m.handleInbound(env)
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, gen int) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			last := m.lastPong
			m.mu.Unlock()

			if time.Since(last) > m.opts.LivenessTimeout {
				m.log.Warn().Time("last_pong", last).Msg("liveness deadline exceeded, reconnecting")
				m.handleTransportDown(gen, ErrLivenessTimeout)
				return
			}
			if err := m.Dispatch(wire.EventPing, nil); err != nil {
				m.log.Debug().Err(err).Msg("heartbeat probe failed")
			}
		}
	}
}

// handleTransportDown moves a live connection into the reconnect path.
// The generation guard drops stale notifications from loops of an
// already-replaced transport.
func (m *Manager) handleTransportDown(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	tr := m.transport
	m.transport = nil
	m.state = StateReconnecting
	ctx := m.sessionCtx
	m.mu.Unlock()

	if tr != nil {
		_ = tr.Close("transport down")
	}
	m.log.Warn().Err(cause).Msg("transport down")
	m.bus.Publish(bus.Event{Kind: bus.KindDisconnected, Err: cause})
	m.publishState(StateReconnecting, cause)

	go m.reconnectLoop(ctx)
}

// reconnectLoop retries with doubling delay up to the attempt budget.
// It publishes ReconnectExhausted exactly once when the budget is spent.
func (m *Manager) reconnectLoop(ctx context.Context) {
	for attempt := 1; attempt <= m.opts.MaxReconnectAttempts; attempt++ {
		delay := m.backoffDelay(attempt)

		m.mu.Lock()
		if m.skipNextBackoff {
			m.skipNextBackoff = false
			delay = 0
		}
		timer := time.NewTimer(delay)
		m.reconnectTimer = timer
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			timer.Stop()
			m.clearReconnectTimer()
			return
		case <-timer.C:
		}
		m.clearReconnectTimer()

		m.bus.Publish(bus.Event{Kind: bus.KindReconnecting, Data: attempt})
		m.log.Info().Int("attempt", attempt).Msg("reconnecting")

		if err := m.establish(ctx); err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}
		return
	}

	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.mu.Unlock()

	m.log.Error().Int("attempts", m.opts.MaxReconnectAttempts).Msg("reconnect budget exhausted")
	m.publishState(StateFailed, ErrReconnectExhausted)
	m.bus.Publish(bus.Event{Kind: bus.KindReconnectExhausted, Err: ErrReconnectExhausted})
}

func (m *Manager) clearReconnectTimer() {
	m.mu.Lock()
	m.reconnectTimer = nil
	m.mu.Unlock()
}

func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.opts.ReconnectBaseDelay << (attempt - 1)
	if delay > m.opts.ReconnectMaxDelay {
		delay = m.opts.ReconnectMaxDelay
	}
	return delay
}

func (m *Manager) publishState(s State, err error) {
	m.bus.Publish(bus.Event{Kind: bus.KindStateChanged, Data: s, Err: err})
}

// fatalAuth tears the session down without reconnection and surfaces the
// failure for the caller to handle (forced logout).
func (m *Manager) fatalAuth(data json.RawMessage) {
	m.mu.Lock()
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	tr := m.transport
	m.transport = nil
	m.gen++
	m.state = StateFailed
	m.mu.Unlock()

	if tr != nil {
		_ = tr.Close("auth rejected")
	}
	m.log.Error().Msg("authentication rejected by server")
	m.publishState(StateFailed, ErrAuthRejected)
	m.bus.Publish(bus.Event{Kind: bus.KindAuthFailed, Data: data, Err: ErrAuthRejected})
}

// handleInbound translates wire frames into typed bus events and feeds
// the correlation and liveness paths.
func (m *Manager) handleInbound(env wire.Envelope) {
	switch env.Event {
	case wire.EventPong:
		m.mu.Lock()
		m.lastPong = time.Now()
		m.mu.Unlock()

	case wire.EventWelcome:
		var d wire.WelcomeData
		m.decode(env, &d)
		m.mu.Lock()
		m.lastPong = time.Now()
		m.mu.Unlock()
		m.bus.Publish(bus.Event{Kind: bus.KindConnected, Data: d})

	case wire.EventAuthError:
		m.fatalAuth(env.Data)

	case wire.EventError:
		serverErr := &wire.Error{}
		m.decode(env, serverErr)
		m.bus.Publish(bus.Event{Kind: bus.KindServerError, Data: *serverErr, Err: serverErr})

	case wire.EventMessageSent:
		var d wire.MessageSentData
		if !m.decode(env, &d) {
			return
		}
		m.tracker.Resolve(d.TempMessageID, env.Data)
		m.bus.Publish(bus.Event{Kind: bus.KindMessageSent, Data: d})

	case wire.EventMessageError:
		var d wire.MessageErrorData
		if !m.decode(env, &d) {
			return
		}
		m.tracker.Fail(d.TempMessageID, &wire.Error{Message: d.Error})
		m.bus.Publish(bus.Event{Kind: bus.KindMessageFailed, Data: d})

	case wire.EventMessageReceived:
		var d wire.MessageReceivedData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindMessageReceived, Data: d})
		}

	case wire.EventUserTyping:
		var d wire.UserTypingData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindUserTyping, Data: d})
		}

	case wire.EventNewLike:
		var d wire.NewLikeData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindNewLike, Data: d})
		}

	case wire.EventPhotoRequested:
		var d wire.PhotoRequestData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindPhotoRequested, Data: d})
		}

	case wire.EventPhotoResponded:
		var d wire.PhotoResponseData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindPhotoResponded, Data: d})
		}

	case wire.EventIncomingCall:
		var d wire.IncomingCallData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindIncomingCall, Data: d})
		}

	case wire.EventVideoSignal:
		var d wire.VideoSignalData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindCallSignal, Data: d})
		}

	case wire.EventVideoHangup:
		var d wire.VideoHangupData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindCallHangup, Data: d})
		}

	case wire.EventVideoMediaControl:
		var d wire.VideoMediaControlData
		if m.decode(env, &d) {
			m.bus.Publish(bus.Event{Kind: bus.KindCallMediaControl, Data: d})
		}

	case wire.EventVideoError:
		serverErr := &wire.Error{}
		m.decode(env, serverErr)
		m.bus.Publish(bus.Event{Kind: bus.KindCallFailed, Data: *serverErr, Err: serverErr})

	default:
		m.log.Debug().Str("event", env.Event).Msg("unhandled inbound event")
	}
}

func (m *Manager) decode(env wire.Envelope, v any) bool {
	if len(env.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		m.log.Warn().Err(err).Str("event", env.Event).Msg("malformed inbound payload")
		return false
	}
	return true
}
