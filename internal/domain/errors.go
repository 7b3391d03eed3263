package domain

import "errors"

var (
	// ErrInvalidCredential is returned when a bearer token cannot be parsed or verified.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUserInactive is returned when the token resolves to a deactivated or blocked user.
	ErrUserInactive = errors.New("user inactive")

	// ErrAccessDenied is returned when a session is not a participant of the booking
	// whose channel it tries to join or act on.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidTransition is returned for a booking status change outside the
	// transition table. Booking state is left untouched.
	ErrInvalidTransition = errors.New("invalid booking transition")

	// ErrInvalidStatusTransition is returned when a message status would regress.
	ErrInvalidStatusTransition = errors.New("invalid message status transition")

	// ErrValidation is returned for malformed message or event payloads.
	ErrValidation = errors.New("validation failed")

	// ErrUnavailable is returned when the persistence collaborator is unreachable.
	// Callers may retry; nothing is broadcast for an unpersisted message.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrRateLimited is returned when a sender exceeds the inbound message budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrConcurrentModification is returned when a guarded write lost a race.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrorCode maps a core error to a stable wire code for error envelopes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrUserInactive):
		return "user_inactive"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_status_transition"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
