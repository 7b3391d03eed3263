package presence

import (
	"hash/fnv"
	"sync"
	"time"

	"crewlink/internal/events"
	"crewlink/internal/metrics"

	"github.com/rs/zerolog"
)

// Handle is the opaque send-capable side of one connection. Send must never
// block; a full outbound queue drops the event for that recipient only.
type Handle interface {
	Send(env events.Envelope) error
	Close()
}

// Session is the ephemeral record of one open connection. It is owned by the
// registry: created on connect, destroyed on disconnect, never persisted.
type Session struct {
	UserID string
	Role   string

	mu       sync.Mutex
	handle   Handle
	lastSeen time.Time
}

// Deliver forwards an event through the session's handle.
func (s *Session) Deliver(env events.Envelope) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	if err := h.Send(env); err != nil {
		metrics.DeliveryDropped()
		return err
	}
	return nil
}

// Touch refreshes the liveness timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the last liveness timestamp.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry is the process-wide presence map. All mutation goes through it;
// the per-user entry is guarded by its shard lock so two concurrent
// registrations for one user cannot race into an inconsistent state.
type Registry struct {
	shards [shardCount]*shard
	logger zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "presence").Logger()
	}
	r := &Registry{logger: base}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register inserts or replaces the session for a user. A reconnect replaces
// the prior handle; UserOnline is broadcast only when the user had no active
// session, so reconnect storms do not echo through the fleet.
func (r *Registry) Register(userID, role string, handle Handle) *Session {
	sess := &Session{UserID: userID, Role: role, handle: handle, lastSeen: time.Now()}

	sh := r.shardFor(userID)
	sh.mu.Lock()
	prev, wasOnline := sh.sessions[userID]
	sh.sessions[userID] = sess
	sh.mu.Unlock()

	if wasOnline && prev != nil {
		prev.mu.Lock()
		old := prev.handle
		prev.handle = nil
		prev.mu.Unlock()
		if old != nil {
			old.Close()
		}
	}

	metrics.ConnectionOpened()
	r.logger.Debug().Str("user_id", userID).Str("role", role).Bool("reconnect", wasOnline).Msg("session registered")

	if !wasOnline {
		r.broadcastExcept(userID, events.MustNew(events.KindUserOnline, "", userID,
			events.PresencePayload{UserID: userID, Role: role}))
	}
	return sess
}

// Unregister removes whatever session the user currently has.
func (r *Registry) Unregister(userID string) {
	sh := r.shardFor(userID)
	sh.mu.Lock()
	sess, ok := sh.sessions[userID]
	delete(sh.sessions, userID)
	sh.mu.Unlock()

	if ok {
		r.finish(sess)
	}
}

// UnregisterSession removes the session only if it is still the user's
// current one. The deferred cleanup of a replaced connection must not tear
// down the session that superseded it.
func (r *Registry) UnregisterSession(sess *Session) {
	sh := r.shardFor(sess.UserID)
	sh.mu.Lock()
	current, ok := sh.sessions[sess.UserID]
	if ok && current == sess {
		delete(sh.sessions, sess.UserID)
	} else {
		ok = false
	}
	sh.mu.Unlock()

	if ok {
		r.finish(sess)
	}
}

func (r *Registry) finish(sess *Session) {
	sess.mu.Lock()
	h := sess.handle
	sess.handle = nil
	sess.mu.Unlock()
	if h != nil {
		h.Close()
	}

	metrics.ConnectionClosed()
	r.logger.Debug().Str("user_id", sess.UserID).Msg("session unregistered")

	r.broadcastExcept(sess.UserID, events.MustNew(events.KindUserOffline, "", sess.UserID,
		events.PresencePayload{UserID: sess.UserID}))
}

// Lookup returns the user's live session, if any.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	sess, ok := sh.sessions[userID]
	sh.mu.RUnlock()
	return sess, ok
}

// IsOnline reports whether the user has an active session in this process.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Reap unregisters sessions idle beyond the threshold and returns how many
// were removed. Stale presence entries otherwise survive dead connections.
func (r *Registry) Reap(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)
	var stale []*Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if sess.LastSeen().Before(cutoff) {
				stale = append(stale, sess)
			}
		}
		sh.mu.RUnlock()
	}

	for _, sess := range stale {
		r.logger.Info().Str("user_id", sess.UserID).Msg("reaping idle session")
		r.UnregisterSession(sess)
	}
	return len(stale)
}

func (r *Registry) broadcastExcept(userID string, env events.Envelope) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		targets := make([]*Session, 0, len(sh.sessions))
		for id, sess := range sh.sessions {
			if id != userID {
				targets = append(targets, sess)
			}
		}
		sh.mu.RUnlock()
		for _, sess := range targets {
			_ = sess.Deliver(env)
		}
	}
}
