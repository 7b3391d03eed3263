package models

const (
	RoleCustomer = "customer"
	RoleWorker   = "worker"
	RoleAdmin    = "admin"
)

const (
	ActorCustomer = "customer"
	ActorWorker   = "worker"
	ActorAdmin    = "admin"
	ActorSystem   = "system"
)

const (
	// MaxMessageLength bounds chat message content.
	MaxMessageLength = 2000

	// SendBufferSize is the per-connection outbound queue; a full queue drops
	// the event for that recipient only.
	SendBufferSize = 64

	// DefaultHistoryLimit caps messages returned on a chat join.
	DefaultHistoryLimit = 50

	// RateLimitMessages is the default inbound message budget per window.
	RateLimitMessages = 20

	// RateLimitWindow is the default rate limit window in seconds.
	RateLimitWindow = 60

	// IdleTimeout is the default liveness threshold in seconds; a connection
	// silent for longer is unregistered.
	IdleTimeout = 120

	// PresenceTTL is the lifetime of mirrored presence keys in seconds.
	PresenceTTL = 150

	// DispatchQueueSize is the in-memory notification dispatch queue size.
	DispatchQueueSize = 1000
)
