package models

import "time"

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageLocation MessageType = "location"
	MessageSystem   MessageType = "system"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// MessageTypes is the closed set the store accepts on append.
var MessageTypes = map[MessageType]bool{
	MessageText:     true,
	MessageImage:    true,
	MessageVideo:    true,
	MessageAudio:    true,
	MessageDocument: true,
	MessageLocation: true,
	MessageSystem:   true,
}

// Location is an optional geo payload on location messages and live updates.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
}

// Message is the persisted, append-only chat record. Status only ever moves
// forward through sent -> delivered -> read.
type Message struct {
	ID          string        `json:"id"`
	BookingID   string        `json:"booking_id"`
	SenderID    string        `json:"sender_id"`
	ReceiverID  string        `json:"receiver_id"`
	Type        MessageType   `json:"type"`
	Content     string        `json:"content"`
	Attachments []string      `json:"attachments,omitempty"`
	Location    *Location     `json:"location,omitempty"`
	Status      MessageStatus `json:"status"`
	SentAt      time.Time     `json:"sent_at"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
}

// ValidStatusAdvance reports whether a message status change moves forward.
// Skipping delivered (sent -> read) is allowed; any regression is not.
func ValidStatusAdvance(from, to MessageStatus) bool {
	switch to {
	case MessageDelivered:
		return from == MessageSent
	case MessageRead:
		return from == MessageSent || from == MessageDelivered
	default:
		return false
	}
}
