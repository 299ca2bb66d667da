package wire

import "encoding/json"

// Envelope is the wire format for every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound event names (client -> peer).
const (
	EventPing                = "ping"
	EventSendMessage         = "sendMessage"
	EventTyping              = "typing"
	EventInitiateCall        = "initiateCall"
	EventVideoSignal         = "videoSignal"
	EventVideoHangup         = "videoHangup"
	EventVideoMediaControl   = "videoMediaControl"
	EventSendLike            = "sendLike"
	EventRequestPhotoAccess  = "requestPhotoPermission"
	EventRespondPhotoRequest = "respondToPhotoRequest"
)

// Inbound event names (peer -> client).
const (
	EventWelcome          = "welcome"
	EventPong             = "pong"
	EventError            = "error"
	EventAuthError        = "auth_error"
	EventVideoError       = "videoError"
	EventIncomingCall     = "incomingCall"
	EventMessageReceived  = "messageReceived"
	EventMessageSent      = "messageSent"
	EventMessageError     = "messageError"
	EventUserTyping       = "userTyping"
	EventNewLike          = "newLike"
	EventPhotoRequested   = "photoPermissionRequest"
	EventPhotoResponded   = "photoPermissionResponse"
)

// NewEnvelope marshals v into a frame carrying the given event name.
func NewEnvelope(event string, v any) (Envelope, error) {
	if v == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// SendMessageData is the payload for an outbound chat message.
type SendMessageData struct {
	RecipientID   string         `json:"recipientId"`
	Content       string         `json:"content"`
	Type          string         `json:"type"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	TempMessageID string         `json:"tempMessageId"`
}

// TypingData signals that the user is composing a message.
type TypingData struct {
	RecipientID string `json:"recipientId"`
}

// LikeData is the payload for a "like" sent to another user.
type LikeData struct {
	RecipientID string `json:"recipientId"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// PhotoRequestData asks a photo owner to grant access to a private photo.
type PhotoRequestData struct {
	OwnerID   string `json:"ownerId"`
	PhotoID   string `json:"photoId"`
	Timestamp int64  `json:"timestamp"`
}

// PhotoResponseData answers a photo access request.
type PhotoResponseData struct {
	RequesterID string `json:"requesterId"`
	PhotoID     string `json:"photoId"`
	Status      string `json:"status"`
}

// InitiateCallData starts a call session with another user.
type InitiateCallData struct {
	CallID      string `json:"callId"`
	RecipientID string `json:"recipientId"`
	CallType    string `json:"callType"`
}

// VideoSignalData carries an opaque signaling blob (offer/answer/ICE).
// The core forwards it untouched.
type VideoSignalData struct {
	RecipientID string          `json:"recipientId,omitempty"`
	Signal      json.RawMessage `json:"signal"`
	From        string          `json:"from"`
}

// VideoHangupData terminates a call.
type VideoHangupData struct {
	RecipientID string `json:"recipientId,omitempty"`
	UserID      string `json:"userId"`
	Timestamp   int64  `json:"timestamp"`
}

// VideoMediaControlData toggles a media track (mute/unmute camera or mic).
type VideoMediaControlData struct {
	RecipientID string `json:"recipientId,omitempty"`
	Type        string `json:"type"`
	Muted       bool   `json:"muted"`
	UserID      string `json:"userId"`
}

// WelcomeData is the server's greeting after a successful handshake.
type WelcomeData struct {
	UserID     string `json:"userId,omitempty"`
	ServerTime int64  `json:"serverTime,omitempty"`
}

// MessageReceivedData is an inbound chat message from another user.
type MessageReceivedData struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"senderId"`
	RecipientID string         `json:"recipientId,omitempty"`
	Content     string         `json:"content"`
	Type        string         `json:"type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   int64          `json:"createdAt,omitempty"`
}

// MessageSentData acknowledges an outbound message by its temporary id.
type MessageSentData struct {
	TempMessageID string `json:"tempMessageId"`
	MessageID     string `json:"messageId,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// MessageErrorData reports a server-side failure for an outbound message.
type MessageErrorData struct {
	TempMessageID string `json:"tempMessageId"`
	Error         string `json:"error"`
}

// UserTypingData notifies that a user is typing.
type UserTypingData struct {
	UserID string `json:"userId"`
}

// NewLikeData notifies about a received like.
type NewLikeData struct {
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// IncomingCallData notifies the callee about a new call.
type IncomingCallData struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
	CallType string `json:"callType"`
}

// Error is a protocol-level error reported by the peer.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
