package chat

import "time"

// Type classifies a chat message on the wire.
type Type string

const (
	TypeText        Type = "text"
	TypeWink        Type = "wink"
	TypeFile        Type = "file"
	TypeVideoMarker Type = "video-marker"
)

// Status is the delivery lifecycle of an outbound message.
type Status string

const (
	// StatusPending covers both "queued while offline" and "sent but not
	// yet acknowledged"; the UI renders these optimistically.
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	// StatusDelivered and StatusRead exist for receipt tracking. The wire
	// contract carries no receipt events, so the core never assigns them;
	// callers set them from their own read-state source.
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Message is the domain model for an outbound chat message. ID stays
// empty until the server acknowledges; TempID correlates the two.
type Message struct {
	ID          string
	TempID      string
	SenderID    string
	RecipientID string
	Content     string
	Type        Type
	Metadata    map[string]any
	Status      Status
	CreatedAt   time.Time
}
