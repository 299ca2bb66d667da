package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/heartlink/heartlink-realtime/internal/auth"
	"github.com/heartlink/heartlink-realtime/internal/bus"
	"github.com/heartlink/heartlink-realtime/internal/wire"
)

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport is a scripted in-memory Transport. Inbound frames are
// pushed by the test; outbound frames are recorded.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []wire.Envelope
	sendErr error

	inbound   chan wire.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan wire.Envelope, 32),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Send(_ context.Context, env wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (wire.Envelope, error) {
	select {
	case env := <-f.inbound:
		return env, nil
	case <-f.closed:
		return wire.Envelope{}, errFakeClosed
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	}
}

func (f *fakeTransport) Close(string) error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(t *testing.T, event string, v any) {
	t.Helper()
	env, err := wire.NewEnvelope(event, v)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	f.inbound <- env
}

func (f *fakeTransport) sentEnvelopes() []wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) countSent(event string) int {
	n := 0
	for _, env := range f.sentEnvelopes() {
		if env.Event == event {
			n++
		}
	}
	return n
}

// fakeDialer hands out transports in order; once the script is spent it
// returns errDialFailed.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dials      int
}

var errDialFailed = errors.New("dial failed")

func (d *fakeDialer) dial(context.Context, string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.transports) == 0 {
		return nil, errDialFailed
	}
	tr := d.transports[0]
	d.transports = d.transports[1:]
	return tr, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func testIdentity() auth.Identity {
	return auth.Identity{UserID: "user-1", Token: "opaque-token"}
}

func testIdentityWithToken(token string) auth.Identity {
	return auth.Identity{UserID: "user-1", Token: token}
}

func expiredToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func collectEvents(b *bus.Bus, kind bus.Kind) <-chan bus.Event {
	ch := make(chan bus.Event, 32)
	b.Subscribe(kind, func(ev bus.Event) { ch <- ev })
	return ch
}

func mustEvent(t *testing.T, ch <-chan bus.Event, timeout time.Duration) bus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func mustNoEvent(t *testing.T, ch <-chan bus.Event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(wait):
	}
}

// waitForSent polls until the transport recorded a frame with the event
// name and returns it.
func waitForSent(t *testing.T, f *fakeTransport, event string, timeout time.Duration) wire.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, env := range f.sentEnvelopes() {
			if env.Event == event {
				return env
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s frame sent within %v", event, timeout)
	return wire.Envelope{}
}

func decodeData(t *testing.T, env wire.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Event, err)
	}
}
