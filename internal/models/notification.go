package models

import "time"

const (
	NotificationBookingStatus = "booking_status"
	NotificationNewMessage    = "new_message"
	NotificationSystem        = "system"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is persisted per (user, event). Read state flips false -> true
// once; an expired notification is logically invisible.
type Notification struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	RelatedID   string     `json:"related_id,omitempty"`
	RelatedType string     `json:"related_type,omitempty"`
	Priority    string     `json:"priority"`
	IsRead      bool       `json:"is_read"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the notification should be hidden at the given time.
func (n *Notification) Expired(at time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(at)
}
