package models

import "time"

type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in-progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
	StatusDisputed   BookingStatus = "disputed"
	StatusResolved   BookingStatus = "resolved"
)

// Milestone is an immutable record of one accepted status transition.
type Milestone struct {
	Status      BookingStatus `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
	Description string        `json:"description"`
	Actor       string        `json:"actor"`
}

// Cancellation carries who cancelled a booking and why. The fee itself is
// computed by an external policy collaborator.
type Cancellation struct {
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason"`
	Fee         float64   `json:"fee"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type Booking struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customer_id"`
	WorkerID     string        `json:"worker_id,omitempty"` // empty until assigned
	Status       BookingStatus `json:"status"`
	Milestones   []Milestone   `json:"milestones"`
	ActualStart  *time.Time    `json:"actual_start,omitempty"`
	ActualEnd    *time.Time    `json:"actual_end,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Participant reports whether a user may observe a booking's channels.
// Admins are always participants.
func (b *Booking) Participant(userID, role string) bool {
	if role == RoleAdmin {
		return true
	}
	return userID == b.CustomerID || (b.WorkerID != "" && userID == b.WorkerID)
}
