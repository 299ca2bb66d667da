package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTrackerResolvesWithAckPayload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr := NewTracker()
	handle := tr.Track("req-1", time.Second)

	payload := json.RawMessage(`{"messageId":"m1"}`)
	if !tr.Resolve("req-1", payload) {
		t.Fatal("resolve of a tracked id returned false")
	}

	res := handle.Await(ctx)
	if res.Err != nil || res.TimedOut {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if string(res.Payload) != string(payload) {
		t.Fatalf("wrong payload: %s", res.Payload)
	}
	if tr.Len() != 0 {
		t.Fatalf("entry still tracked after resolution: %d", tr.Len())
	}
}

func TestTrackerTimeoutYieldsFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr := NewTracker()
	handle := tr.Track("req-1", 10*time.Millisecond)

	res := handle.Await(ctx)
	if !res.TimedOut {
		t.Fatalf("expected fallback resolution, got %+v", res)
	}
	if res.Err != nil {
		t.Fatalf("fallback must not carry an error, got %v", res.Err)
	}
	if tr.Len() != 0 {
		t.Fatalf("entry still tracked after deadline: %d", tr.Len())
	}
}

func TestTrackerImmediateDeadlineNeverLeaksEntry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A deadline that fires before Track returns must still find and
	// clear the entry.
	tr := NewTracker()
	for i := 0; i < 500; i++ {
		handle := tr.Track("req", time.Nanosecond)

		res := handle.Await(ctx)
		if !res.TimedOut || res.Err != nil {
			t.Fatalf("iteration %d: unexpected resolution %+v", i, res)
		}
		if tr.Len() != 0 {
			t.Fatalf("iteration %d: entry outlived its deadline", i)
		}
	}
}

func TestTrackerFailDeliversError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr := NewTracker()
	handle := tr.Track("req-1", time.Second)

	cause := errors.New("server rejected")
	tr.Fail("req-1", cause)

	res := handle.Await(ctx)
	if !errors.Is(res.Err, cause) || res.TimedOut {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestTrackerResolvesExactlyOnce(t *testing.T) {
	tr := NewTracker()
	tr.Track("req-1", time.Second)

	if !tr.Resolve("req-1", nil) {
		t.Fatal("first resolve lost the race against nothing")
	}
	if tr.Resolve("req-1", nil) {
		t.Fatal("second resolve won; resolution must be exactly once")
	}
	if tr.Fail("req-1", errors.New("late")) {
		t.Fatal("fail after resolve won; resolution must be exactly once")
	}
}

func TestTrackerAckRacingDeadlineResolvesOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := NewTracker()
	for i := 0; i < 200; i++ {
		handle := tr.Track("req", time.Millisecond)

		go tr.Resolve("req", json.RawMessage(`{}`))

		res := handle.Await(ctx)
		if res.Err != nil {
			t.Fatalf("iteration %d: unexpected error %v", i, res.Err)
		}
		// Whichever path lost must now be a no-op.
		if tr.Resolve("req", nil) {
			t.Fatalf("iteration %d: entry resolved twice", i)
		}
		if tr.Len() != 0 {
			t.Fatalf("iteration %d: entry leaked", i)
		}
	}
}

func TestHandleAwaitHonorsContext(t *testing.T) {
	tr := NewTracker()
	handle := tr.Track("req-1", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := handle.Await(ctx)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %+v", res)
	}
}
