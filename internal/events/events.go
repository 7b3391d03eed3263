package events

import (
	"encoding/json"
	"fmt"
	"time"

	"crewlink/internal/domain"
	"crewlink/internal/models"
)

// Inbound event kinds, one per client-initiated operation.
const (
	KindJoinChat       = "join_chat"
	KindLeaveChat      = "leave_chat"
	KindSendMessage    = "send_message"
	KindTypingStart    = "typing_start"
	KindTypingStop     = "typing_stop"
	KindJoinBooking    = "join_booking"
	KindLeaveBooking   = "leave_booking"
	KindLocationUpdate = "location_update"
	KindStatusChange   = "status_change"
	KindMarkDelivered  = "mark_delivered"
	KindMarkRead       = "mark_read"
)

// Outbound event kinds.
const (
	KindConnected     = "connected"
	KindMessage       = "message"
	KindMessageStatus = "message_status"
	KindHistory       = "history"
	KindBookingStatus = "booking_status"
	KindUserOnline    = "user_online"
	KindUserOffline   = "user_offline"
	KindNotification  = "notification"
	KindError         = "error"
)

// Envelope is the single wire format for everything crossing a connection.
type Envelope struct {
	Kind      string          `json:"kind"`
	BookingID string          `json:"booking_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SenderID  string          `json:"sender_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an envelope with a JSON-encoded payload.
func New(kind, bookingID, senderID string, payload any) (Envelope, error) {
	env := Envelope{
		Kind:      kind,
		BookingID: bookingID,
		SenderID:  senderID,
		Timestamp: time.Now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// MustNew is New for payload types that cannot fail to marshal.
func MustNew(kind, bookingID, senderID string, payload any) Envelope {
	env, err := New(kind, bookingID, senderID, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the payload into out, mapping failures to the
// validation error class.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: missing payload for %s", domain.ErrValidation, e.Kind)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", domain.ErrValidation, e.Kind, err)
	}
	return nil
}

// SendMessagePayload is the inbound body of a send_message event.
type SendMessagePayload struct {
	Type        models.MessageType `json:"type"`
	Content     string             `json:"content"`
	ReceiverID  string             `json:"receiver_id,omitempty"`
	Attachments []string           `json:"attachments,omitempty"`
	Location    *models.Location   `json:"location,omitempty"`
}

// StatusChangePayload is the inbound body of a status_change event.
type StatusChangePayload struct {
	Status models.BookingStatus `json:"status"`
	Reason string               `json:"reason,omitempty"`
}

// MessageRefPayload references a persisted message (mark_delivered, mark_read).
type MessageRefPayload struct {
	MessageID string `json:"message_id"`
}

// TypingPayload is relayed as-is; typing signals are never persisted.
type TypingPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// BookingStatusPayload announces an accepted booking transition.
type BookingStatusPayload struct {
	BookingID string               `json:"booking_id"`
	Old       models.BookingStatus `json:"old"`
	New       models.BookingStatus `json:"new"`
	Timestamp time.Time            `json:"timestamp"`
}

// MessageStatusPayload announces a delivery-status advance.
type MessageStatusPayload struct {
	MessageID string               `json:"message_id"`
	Status    models.MessageStatus `json:"status"`
}

// ErrorPayload is sent to the offending connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError wraps err into an error envelope for one recipient.
func NewError(err error) Envelope {
	return MustNew(KindError, "", "", ErrorPayload{
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
	})
}
