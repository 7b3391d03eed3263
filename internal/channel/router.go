package channel

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"crewlink/internal/domain"
	"crewlink/internal/events"
	"crewlink/internal/models"
	"crewlink/internal/presence"

	"github.com/rs/zerolog"
)

// Kind names a channel family.
type Kind string

const (
	KindChat    Kind = "chat"    // chat:{bookingID}
	KindBooking Kind = "booking" // booking:{bookingID}
)

func channelKey(kind Kind, bookingID string) string {
	return fmt.Sprintf("%s:%s", kind, bookingID)
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	channels map[string]map[string]*presence.Session // key -> userID -> session
}

// Router manages channel membership and fan-out. Membership is gated by one
// policy check consulted on every join; it re-reads the live booking record
// so revoked participants cannot retain access through an old subscription.
type Router struct {
	store  domain.BookingStore
	shards [shardCount]*shard
	logger zerolog.Logger
}

func NewRouter(store domain.BookingStore, logger *zerolog.Logger) *Router {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "channel").Logger()
	}
	r := &Router{store: store, logger: base}
	for i := range r.shards {
		r.shards[i] = &shard{channels: make(map[string]map[string]*presence.Session)}
	}
	return r
}

func (r *Router) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return r.shards[h.Sum32()%shardCount]
}

// CanAccess is the single participancy policy: customer, assigned worker, or
// admin. Every join and targeted operation goes through it.
func (r *Router) CanAccess(ctx context.Context, sess *presence.Session, bookingID string) error {
	if sess.Role == models.RoleAdmin {
		return nil
	}
	customerID, workerID, err := r.store.GetParticipants(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("%w: participants of %s: %v", domain.ErrUnavailable, bookingID, err)
	}
	if sess.UserID == customerID || (workerID != "" && sess.UserID == workerID) {
		return nil
	}
	return fmt.Errorf("%w: user %s is not a participant of booking %s", domain.ErrAccessDenied, sess.UserID, bookingID)
}

// Join admits the session into the channel after revalidating participancy.
// Joining twice is a no-op; a session may hold many distinct channels.
func (r *Router) Join(ctx context.Context, sess *presence.Session, kind Kind, bookingID string) error {
	if err := r.CanAccess(ctx, sess, bookingID); err != nil {
		return err
	}

	key := channelKey(kind, bookingID)
	sh := r.shardFor(key)
	sh.mu.Lock()
	members, ok := sh.channels[key]
	if !ok {
		members = make(map[string]*presence.Session)
		sh.channels[key] = members
	}
	members[sess.UserID] = sess
	sh.mu.Unlock()

	r.logger.Debug().Str("channel", key).Str("user_id", sess.UserID).Msg("joined channel")
	return nil
}

// Leave removes the session's membership. Leaving a channel the session is
// not in is not an error.
func (r *Router) Leave(sess *presence.Session, kind Kind, bookingID string) {
	key := channelKey(kind, bookingID)
	sh := r.shardFor(key)
	sh.mu.Lock()
	if members, ok := sh.channels[key]; ok {
		if members[sess.UserID] == sess {
			delete(members, sess.UserID)
		}
		if len(members) == 0 {
			delete(sh.channels, key)
		}
	}
	sh.mu.Unlock()
}

// LeaveAll drops every membership held by the session. Called on disconnect.
func (r *Router) LeaveAll(sess *presence.Session) {
	for _, sh := range r.shards {
		sh.mu.Lock()
		for key, members := range sh.channels {
			if members[sess.UserID] == sess {
				delete(members, sess.UserID)
			}
			if len(members) == 0 {
				delete(sh.channels, key)
			}
		}
		sh.mu.Unlock()
	}
}

// IsMember reports current membership.
func (r *Router) IsMember(sess *presence.Session, kind Kind, bookingID string) bool {
	key := channelKey(kind, bookingID)
	sh := r.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	members, ok := sh.channels[key]
	return ok && members[sess.UserID] == sess
}

// Members returns the user ids currently joined, mostly for tests and ops.
func (r *Router) Members(kind Kind, bookingID string) []string {
	key := channelKey(kind, bookingID)
	sh := r.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	ids := make([]string, 0, len(sh.channels[key]))
	for id := range sh.channels[key] {
		ids = append(ids, id)
	}
	return ids
}

// Publish fans the event out to every current member. Delivery is best-effort
// and non-blocking per recipient; a slow consumer loses events without
// stalling anyone else. Per-recipient ordering is preserved by the handle's
// single writer.
func (r *Router) Publish(kind Kind, bookingID string, env events.Envelope) {
	key := channelKey(kind, bookingID)
	sh := r.shardFor(key)

	sh.mu.RLock()
	targets := make([]*presence.Session, 0, len(sh.channels[key]))
	for _, sess := range sh.channels[key] {
		targets = append(targets, sess)
	}
	sh.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.Deliver(env); err != nil {
			r.logger.Warn().Str("channel", key).Str("user_id", sess.UserID).Str("kind", env.Kind).
				Msg("dropped delivery to slow recipient")
		}
	}
}
