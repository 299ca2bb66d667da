package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heartlink/heartlink-realtime/internal/bus"
	"github.com/heartlink/heartlink-realtime/internal/session"
	"github.com/heartlink/heartlink-realtime/internal/wire"
)

// Options tunes the messaging facade.
type Options struct {
	AckTimeout     time.Duration
	TypingDebounce time.Duration
}

func (o *Options) withDefaults() {
	if o.AckTimeout == 0 {
		o.AckTimeout = 10 * time.Second
	}
	if o.TypingDebounce == 0 {
		o.TypingDebounce = 300 * time.Millisecond
	}
}

type typingState struct {
	timer *time.Timer
	draft string
}

// Service is the domain-level messaging facade: sends, typing signals,
// likes and photo permissions, plus inbound subscriptions.
//
// Policy per operation class: chat messages tolerate offline queuing,
// while likes and photo permissions require an active connection and
// reject with an explicit error otherwise.
type Service struct {
	sess   *session.Manager
	bus    *bus.Bus
	log    *zerolog.Logger
	selfID string
	opts   Options

	mu     sync.Mutex
	typing map[string]*typingState
}

// NewService builds the facade. selfID stamps outbound messages with the
// local sender.
func NewService(sess *session.Manager, b *bus.Bus, logger *zerolog.Logger, selfID string, opts Options) *Service {
	opts.withDefaults()
	return &Service{
		sess:   sess,
		bus:    b,
		log:    logger,
		selfID: selfID,
		opts:   opts,
		typing: make(map[string]*typingState),
	}
}

// Close cancels pending typing timers. The session itself is torn down
// by its owner.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for recipient, st := range s.typing {
		st.timer.Stop()
		delete(s.typing, recipient)
	}
}

// SendMessage sends a chat message to a user.
//
// Disconnected: the message is queued for the next reconnect and returned
// immediately with status pending. Connected: the call suspends for up to
// the ack deadline; a timeout resolves optimistically to pending (the
// caller may manually resend), an explicit server error to failed.
func (s *Service) SendMessage(ctx context.Context, recipientID, content string, typ Type, metadata map[string]any) (Message, error) {
	if typ == "" {
		typ = TypeText
	}
	msg := Message{
		TempID:      uuid.NewString(),
		SenderID:    s.selfID,
		RecipientID: recipientID,
		Content:     content,
		Type:        typ,
		Metadata:    metadata,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	payload := wire.SendMessageData{
		RecipientID:   recipientID,
		Content:       content,
		Type:          string(typ),
		Metadata:      metadata,
		TempMessageID: msg.TempID,
	}

	if !s.sess.IsConnected() {
		if err := s.sess.Enqueue(wire.EventSendMessage, payload, msg.TempID); err != nil {
			msg.Status = StatusFailed
			return msg, err
		}
		s.log.Debug().Str("temp_id", msg.TempID).Msg("message queued while offline")
		return msg, nil
	}

	handle := s.sess.Tracker().Track(msg.TempID, s.opts.AckTimeout)
	if err := s.sess.Dispatch(wire.EventSendMessage, payload); err != nil {
		s.sess.Tracker().Fail(msg.TempID, err)
	}

	res := handle.Await(ctx)
	switch {
	case res.TimedOut:
		// No ack within the deadline. Keep the optimistic pending state
		// rather than failing the send under flaky connectivity.
		s.log.Debug().Str("temp_id", msg.TempID).Msg("message ack deadline elapsed")
		return msg, nil
	case res.Err != nil:
		msg.Status = StatusFailed
		return msg, res.Err
	default:
		msg.Status = StatusSent
		var ack wire.MessageSentData
		if len(res.Payload) > 0 {
			if err := json.Unmarshal(res.Payload, &ack); err == nil {
				msg.ID = ack.MessageID
			}
		}
		return msg, nil
	}
}

// SendTyping signals that the user is composing a message to recipientID.
// Calls within the debounce window collapse into one dispatched signal,
// emitted only if the latest draft is non-empty when the window fires.
func (s *Service) SendTyping(recipientID, draft string) {
	s.mu.Lock()
	if st, ok := s.typing[recipientID]; ok {
		st.draft = draft
		s.mu.Unlock()
		return
	}
	st := &typingState{draft: draft}
	st.timer = time.AfterFunc(s.opts.TypingDebounce, func() {
		s.fireTyping(recipientID)
	})
	s.typing[recipientID] = st
	s.mu.Unlock()
}

func (s *Service) fireTyping(recipientID string) {
	s.mu.Lock()
	st, ok := s.typing[recipientID]
	if ok {
		delete(s.typing, recipientID)
	}
	s.mu.Unlock()

	if !ok || st.draft == "" {
		return
	}
	// Typing is ephemeral: dropped rather than queued when offline.
	if err := s.sess.Dispatch(wire.EventTyping, wire.TypingData{RecipientID: recipientID}); err != nil {
		s.log.Debug().Err(err).Str("recipient", recipientID).Msg("typing signal dropped")
	}
}

// SendLike sends a like. Requires an active connection.
func (s *Service) SendLike(recipientID string) error {
	if !s.sess.IsConnected() {
		return session.ErrNotConnected
	}
	return s.sess.Dispatch(wire.EventSendLike, wire.LikeData{
		RecipientID: recipientID,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// RequestPhotoPermission asks the photo owner for access to a private
// photo. Requires an active connection.
func (s *Service) RequestPhotoPermission(ownerID, photoID string) error {
	if !s.sess.IsConnected() {
		return session.ErrNotConnected
	}
	return s.sess.Dispatch(wire.EventRequestPhotoAccess, wire.PhotoRequestData{
		OwnerID:   ownerID,
		PhotoID:   photoID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// RespondToPhotoRequest answers a pending photo access request.
// Requires an active connection.
func (s *Service) RespondToPhotoRequest(requesterID, photoID string, approved bool) error {
	if !s.sess.IsConnected() {
		return session.ErrNotConnected
	}
	status := "denied"
	if approved {
		status = "approved"
	}
	return s.sess.Dispatch(wire.EventRespondPhotoRequest, wire.PhotoResponseData{
		RequesterID: requesterID,
		PhotoID:     photoID,
		Status:      status,
	})
}

// OnMessageReceived subscribes to inbound chat messages.
func (s *Service) OnMessageReceived(fn func(wire.MessageReceivedData)) func() {
	return s.bus.Subscribe(bus.KindMessageReceived, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.MessageReceivedData); ok {
			fn(d)
		}
	})
}

// OnMessageSent subscribes to server acknowledgments of outbound messages.
func (s *Service) OnMessageSent(fn func(wire.MessageSentData)) func() {
	return s.bus.Subscribe(bus.KindMessageSent, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.MessageSentData); ok {
			fn(d)
		}
	})
}

// OnMessageFailed subscribes to server-side send failures.
func (s *Service) OnMessageFailed(fn func(wire.MessageErrorData)) func() {
	return s.bus.Subscribe(bus.KindMessageFailed, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.MessageErrorData); ok {
			fn(d)
		}
	})
}

// OnUserTyping subscribes to typing notifications.
func (s *Service) OnUserTyping(fn func(wire.UserTypingData)) func() {
	return s.bus.Subscribe(bus.KindUserTyping, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.UserTypingData); ok {
			fn(d)
		}
	})
}

// OnNewLike subscribes to received likes.
func (s *Service) OnNewLike(fn func(wire.NewLikeData)) func() {
	return s.bus.Subscribe(bus.KindNewLike, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.NewLikeData); ok {
			fn(d)
		}
	})
}

// OnPhotoPermissionRequest subscribes to photo access requests.
func (s *Service) OnPhotoPermissionRequest(fn func(wire.PhotoRequestData)) func() {
	return s.bus.Subscribe(bus.KindPhotoRequested, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.PhotoRequestData); ok {
			fn(d)
		}
	})
}

// OnPhotoPermissionResponse subscribes to answered photo access requests.
func (s *Service) OnPhotoPermissionResponse(fn func(wire.PhotoResponseData)) func() {
	return s.bus.Subscribe(bus.KindPhotoResponded, func(ev bus.Event) {
		if d, ok := ev.Data.(wire.PhotoResponseData); ok {
			fn(d)
		}
	})
}
