package domain

import (
	"context"
	"time"

	"crewlink/internal/models"
)

// BookingStore is the authoritative booking record the core consults but does
// not own. Participancy checks go through it on every join so revoked access
// cannot survive in a cached membership.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetParticipants(ctx context.Context, id string) (customerID, workerID string, err error)
	GetStatus(ctx context.Context, id string) (models.BookingStatus, error)
	// SaveTransition persists the mutated booking plus its newest milestone,
	// guarded by the expected prior status. A lost race returns
	// ErrConcurrentModification and leaves the record unchanged.
	SaveTransition(ctx context.Context, booking *models.Booking, from models.BookingStatus) error
}

// MessageStore persists chat messages and their delivery-status advances.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	AdvanceMessageStatus(ctx context.Context, messageID string, status models.MessageStatus) (*models.Message, error)
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	GetBookingMessages(ctx context.Context, bookingID string, limit int) ([]*models.Message, error)
}

// NotificationStore persists user-facing notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetUserNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// UserDirectory resolves a user id to its role and active flag.
type UserDirectory interface {
	Resolve(ctx context.Context, userID string) (*models.User, error)
}

// Dispatcher delivers a notification to external channels (SMS, email, push).
// Fire-and-forget: failures are logged by the caller and never block the core.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, n *models.Notification) error
}

// FeePolicy computes the cancellation fee for a booking. The math lives
// outside the core.
type FeePolicy interface {
	CancellationFee(booking *models.Booking, actor string) float64
}

// PresenceCache mirrors online state across instances and throttles senders.
// Redis-backed in production with an in-memory fallback.
type PresenceCache interface {
	SetOnline(ctx context.Context, userID, role string, ttl time.Duration) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}
