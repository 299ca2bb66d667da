package bus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Kind identifies a notification the core emits to subscribers.
type Kind int

const (
	// KindStateChanged reports a connection state transition.
	KindStateChanged Kind = iota
	// KindConnected fires once the server has welcomed the session.
	KindConnected
	// KindDisconnected reports that the transport went down.
	KindDisconnected
	// KindReconnecting reports an upcoming reconnection attempt.
	KindReconnecting
	// KindReconnectExhausted is terminal: the retry budget is spent.
	KindReconnectExhausted
	// KindAuthFailed is fatal: the identity token was rejected.
	KindAuthFailed
	// KindServerError surfaces an explicit error event from the peer.
	KindServerError

	// Chat events
	// KindMessageReceived delivers an inbound chat message.
	KindMessageReceived
	// KindMessageSent confirms an outbound message by its temporary id.
	KindMessageSent
	// KindMessageFailed reports a server-side send failure.
	KindMessageFailed
	// KindUserTyping notifies that a peer is composing a message.
	KindUserTyping
	// KindNewLike notifies about a received like.
	KindNewLike
	// KindPhotoRequested notifies about a photo access request.
	KindPhotoRequested
	// KindPhotoResponded notifies about an answered photo access request.
	KindPhotoResponded

	// Call events
	// KindIncomingCall notifies the callee about a new call.
	KindIncomingCall
	// KindCallSignal delivers an opaque signaling blob from the peer.
	KindCallSignal
	// KindCallHangup notifies that the peer ended the call.
	KindCallHangup
	// KindCallMediaControl notifies about a peer mute/unmute.
	KindCallMediaControl
	// KindCallFailed reports a call-level error from the peer.
	KindCallFailed
)

var kindNames = map[Kind]string{
	KindStateChanged:       "state_changed",
	KindConnected:          "connected",
	KindDisconnected:       "disconnected",
	KindReconnecting:       "reconnecting",
	KindReconnectExhausted: "reconnect_exhausted",
	KindAuthFailed:         "auth_failed",
	KindServerError:        "server_error",
	KindMessageReceived:    "message_received",
	KindMessageSent:        "message_sent",
	KindMessageFailed:      "message_failed",
	KindUserTyping:         "user_typing",
	KindNewLike:            "new_like",
	KindPhotoRequested:     "photo_requested",
	KindPhotoResponded:     "photo_responded",
	KindIncomingCall:       "incoming_call",
	KindCallSignal:         "call_signal",
	KindCallHangup:         "call_hangup",
	KindCallMediaControl:   "call_media_control",
	KindCallFailed:         "call_failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is delivered to subscribers. Data holds the kind-specific payload
// (a wire struct for protocol events, a state value for lifecycle events).
type Event struct {
	Kind Kind
	Data any
	Err  error
}

// Handler consumes a published event. Panics are contained per handler.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus is an in-process typed publish/subscribe registry.
type Bus struct {
	mu   sync.RWMutex
	seq  int
	subs map[Kind][]subscription
	log  *zerolog.Logger
}

// New constructs an empty bus.
func New(logger *zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[Kind][]subscription),
		log:  logger,
	}
}

// Subscribe registers a handler for a kind and returns its unsubscribe func.
// The unsubscribe func is idempotent.
func (b *Bus) Subscribe(kind Kind, fn Handler) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, sub := range list {
			if sub.id == id {
				b.subs[kind] = append(append([]subscription{}, list[:i]...), list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every handler registered at call time.
// Handlers added or removed during dispatch do not affect the current pass,
// and a panicking handler does not stop the others.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	snapshot := make([]subscription, len(b.subs[ev.Kind]))
	copy(snapshot, b.subs[ev.Kind])
	b.mu.RUnlock()

	for _, sub := range snapshot {
		b.invoke(sub.fn, ev)
	}
}

func (b *Bus) invoke(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("event handler panicked")
		}
	}()
	fn(ev)
}
