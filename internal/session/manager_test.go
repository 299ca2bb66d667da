package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/heartlink/heartlink-realtime/internal/bus"
	"github.com/heartlink/heartlink-realtime/internal/wire"
)

func fastOptions() Options {
	return Options{
		HeartbeatInterval:    10 * time.Millisecond,
		LivenessTimeout:      30 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    4 * time.Millisecond,
		DialTimeout:          time.Second,
		DispatchTimeout:      time.Second,
	}
}

func newTestManager(d *fakeDialer, opts Options) (*Manager, *bus.Bus) {
	b := bus.New(testLogger())
	return NewManager("ws://test/ws", d.dial, b, testLogger(), opts), b
}

func TestConnectTransitionsToConnectedAndFlushesQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	m, b := newTestManager(dialer, fastOptions())
	states := collectEvents(b, bus.KindStateChanged)

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := m.Enqueue(wire.EventSendMessage, wire.SendMessageData{TempMessageID: id}, id); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if !m.IsConnected() {
		t.Fatal("manager not connected after Connect")
	}
	if ev := mustEvent(t, states, time.Second); ev.Data != StateConnecting {
		t.Fatalf("first transition: got %v, want connecting", ev.Data)
	}
	if ev := mustEvent(t, states, time.Second); ev.Data != StateConnected {
		t.Fatalf("second transition: got %v, want connected", ev.Data)
	}

	// Queued operations flush in submission order, exactly once.
	sent := tr.sentEnvelopes()
	if len(sent) < 3 {
		t.Fatalf("expected 3 flushed frames, got %d", len(sent))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		var d wire.SendMessageData
		decodeData(t, sent[i], &d)
		if d.TempMessageID != want {
			t.Fatalf("flush order broken at %d: got %s, want %s", i, d.TempMessageID, want)
		}
	}
	if m.QueueLen() != 0 {
		t.Fatalf("queue not empty after flush: %d", m.QueueLen())
	}
}

func TestDispatchWhileDisconnectedIsRejected(t *testing.T) {
	m, _ := newTestManager(&fakeDialer{}, fastOptions())

	if err := m.Dispatch(wire.EventSendLike, wire.LikeData{RecipientID: "u2"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestLivenessTimeoutTriggersReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Only one transport: the post-liveness redial fails, which keeps the
	// manager observably in the reconnect path.
	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	m, b := newTestManager(dialer, fastOptions())
	reconnecting := collectEvents(b, bus.KindReconnecting)

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	// No pongs are pushed: the heartbeat must declare the connection dead
	// on its own rather than waiting for a transport-level disconnect.
	ev := mustEvent(t, reconnecting, 2*time.Second)
	if attempt, ok := ev.Data.(int); !ok || attempt != 1 {
		t.Fatalf("unexpected reconnect event: %+v", ev)
	}
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	m, b := newTestManager(dialer, fastOptions())
	down := collectEvents(b, bus.KindDisconnected)

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	// Answer every ping for a few liveness windows.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tr.inbound <- wire.Envelope{Event: wire.EventPong}
			}
		}
	}()

	waitForSent(t, tr, wire.EventPing, time.Second)
	mustNoEvent(t, down, 100*time.Millisecond)
	if !m.IsConnected() {
		t.Fatal("connection dropped despite pongs")
	}
}

func TestReconnectExhaustedPublishesOnceAndStops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	opts := fastOptions()
	m, b := newTestManager(dialer, opts)
	exhausted := collectEvents(b, bus.KindReconnectExhausted)

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	tr.Close("drop") // transport dies; every redial fails

	mustEvent(t, exhausted, 2*time.Second)
	if got := m.State(); got != StateFailed {
		t.Fatalf("state after exhausted budget: got %v, want failed", got)
	}
	mustNoEvent(t, exhausted, 50*time.Millisecond)

	// 1 initial dial + the full retry budget, then nothing further.
	dials := dialer.dialCount()
	if dials != 1+opts.MaxReconnectAttempts {
		t.Fatalf("dial count: got %d, want %d", dials, 1+opts.MaxReconnectAttempts)
	}
	time.Sleep(30 * time.Millisecond)
	if dialer.dialCount() != dials {
		t.Fatal("automatic attempts continued after the budget was spent")
	}
}

func TestReconnectRestoresConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr1 := newFakeTransport()
	tr2 := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr1, tr2}}
	m, b := newTestManager(dialer, fastOptions())
	states := collectEvents(b, bus.KindStateChanged)

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	tr1.Close("drop")

	var seen []State
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-states:
			seen = append(seen, ev.Data.(State))
			if ev.Data == StateConnected && len(seen) > 2 {
				// connecting, connected, reconnecting, connected
				if seen[len(seen)-2] != StateReconnecting {
					t.Fatalf("unexpected transition history: %v", seen)
				}
				return
			}
		case <-deadline:
			t.Fatalf("never reconnected; transitions: %v", seen)
		}
	}
}

func TestAuthErrorIsFatalWithoutReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := newFakeTransport()
	spare := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr, spare}}
	m, b := newTestManager(dialer, fastOptions())
	authFailed := collectEvents(b, bus.KindAuthFailed)

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	tr.push(t, wire.EventAuthError, map[string]string{"message": "token revoked"})

	ev := mustEvent(t, authFailed, time.Second)
	if !errors.Is(ev.Err, ErrAuthRejected) {
		t.Fatalf("unexpected auth event: %+v", ev)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state after auth_error: got %v, want failed", got)
	}

	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("reconnection attempted after auth_error: %d dials", dialer.dialCount())
	}
}

func TestDisconnectIsIdempotentAndKeepsQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	m, _ := newTestManager(dialer, fastOptions())

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Enqueue(wire.EventSendMessage, wire.SendMessageData{TempMessageID: "later"}, "later"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("state: got %v, want disconnected", got)
	}
	if m.QueueLen() != 1 {
		t.Fatalf("disconnect cleared the queue: %d entries left", m.QueueLen())
	}
}

func TestDisconnectLeavesTrackedRequestsToTheirDeadlines(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	m, _ := newTestManager(dialer, fastOptions())

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	handle := m.Tracker().Track("req", 30*time.Millisecond)
	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	res := handle.Await(ctx)
	if !res.TimedOut {
		t.Fatalf("tracked request should resolve via its own deadline, got %+v", res)
	}
}

func TestInboundAckResolvesTrackedRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	m, b := newTestManager(dialer, fastOptions())
	acked := collectEvents(b, bus.KindMessageSent)

	if err := m.Connect(ctx, testIdentity()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	handle := m.Tracker().Track("tmp-1", time.Second)
	tr.push(t, wire.EventMessageSent, wire.MessageSentData{TempMessageID: "tmp-1", MessageID: "srv-9"})

	res := handle.Await(ctx)
	if res.Err != nil || res.TimedOut {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	var ack wire.MessageSentData
	if err := json.Unmarshal(res.Payload, &ack); err != nil || ack.MessageID != "srv-9" {
		t.Fatalf("bad ack payload: %s (%v)", res.Payload, err)
	}

	ev := mustEvent(t, acked, time.Second)
	if d, ok := ev.Data.(wire.MessageSentData); !ok || d.TempMessageID != "tmp-1" {
		t.Fatalf("unexpected bus event: %+v", ev)
	}
}

func TestConnectRejectsExpiredToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	dialer := &fakeDialer{}
	m, b := newTestManager(dialer, fastOptions())
	authFailed := collectEvents(b, bus.KindAuthFailed)

	expired := expiredToken(t)
	err := m.Connect(ctx, testIdentityWithToken(expired))
	if err == nil {
		t.Fatal("connect accepted an expired token")
	}
	mustEvent(t, authFailed, time.Second)
	if dialer.dialCount() != 0 {
		t.Fatalf("dialed despite expired token: %d", dialer.dialCount())
	}
}
