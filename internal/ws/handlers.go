package ws

import (
	"context"
	"fmt"

	"crewlink/internal/channel"
	"crewlink/internal/domain"
	"crewlink/internal/events"
	"crewlink/internal/models"
	"crewlink/internal/presence"
)

func requireBooking(env events.Envelope) error {
	if env.BookingID == "" {
		return fmt.Errorf("%w: booking_id is required for %s", domain.ErrValidation, env.Kind)
	}
	return nil
}

// handleJoinChat admits the session to the booking's chat channel and replays
// recent history, so a reconnecting client catches up with exactly what was
// broadcast.
func (s *Server) handleJoinChat(ctx context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}
	if err := s.router.Join(ctx, sess, channel.KindChat, env.BookingID); err != nil {
		return err
	}

	history, err := s.messages.History(ctx, sess, env.BookingID, s.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	historyEnv, err := events.New(events.KindHistory, env.BookingID, "", history)
	if err != nil {
		return err
	}
	return sess.Deliver(historyEnv)
}

func (s *Server) handleLeaveChat(_ context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}
	s.router.Leave(sess, channel.KindChat, env.BookingID)
	return nil
}

func (s *Server) handleJoinBooking(ctx context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}
	return s.router.Join(ctx, sess, channel.KindBooking, env.BookingID)
}

func (s *Server) handleLeaveBooking(_ context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}
	s.router.Leave(sess, channel.KindBooking, env.BookingID)
	return nil
}

func (s *Server) handleSendMessage(ctx context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}

	if s.cache != nil {
		allowed, err := s.cache.CheckRateLimit(ctx, sess.UserID, s.limits.MessagesPerWindow, s.limits.Window())
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("rate limit check failed, allowing")
		} else if !allowed {
			return fmt.Errorf("%w: max %d messages per window", domain.ErrRateLimited, s.limits.MessagesPerWindow)
		}
	}

	var payload events.SendMessagePayload
	if err := env.Decode(&payload); err != nil {
		return err
	}

	msg, err := s.messages.Send(ctx, sess, env.BookingID, payload)
	if err != nil {
		return err
	}

	// The channel broadcast already reached everyone connected; the stored
	// notification is for the receiver who was not.
	if s.notifications != nil && msg.ReceiverID != "" && !s.registry.IsOnline(msg.ReceiverID) {
		n := &models.Notification{
			UserID:      msg.ReceiverID,
			Type:        models.NotificationNewMessage,
			Title:       "New message",
			Message:     msg.Content,
			RelatedID:   env.BookingID,
			RelatedType: "booking",
			Priority:    models.PriorityNormal,
		}
		if err := s.notifications.Raise(ctx, n); err != nil {
			s.logger.Warn().Err(err).Str("user_id", msg.ReceiverID).Msg("raise message notification failed")
		}
	}
	return nil
}

// handleTyping relays start/stop signals without persistence. Membership is
// still required; typing is not a way around the participancy gate.
func (s *Server) handleTyping(_ context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}
	if !s.router.IsMember(sess, channel.KindChat, env.BookingID) {
		return fmt.Errorf("%w: join chat:%s first", domain.ErrAccessDenied, env.BookingID)
	}

	s.router.Publish(channel.KindChat, env.BookingID, events.MustNew(env.Kind, env.BookingID, sess.UserID,
		events.TypingPayload{UserID: sess.UserID, Role: sess.Role}))
	return nil
}

// handleLocationUpdate relays a live position into the booking channel,
// unpersisted. Clients that need a durable trail send a location message.
func (s *Server) handleLocationUpdate(_ context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}
	if !s.router.IsMember(sess, channel.KindBooking, env.BookingID) {
		return fmt.Errorf("%w: join booking:%s first", domain.ErrAccessDenied, env.BookingID)
	}

	out := env
	out.SenderID = sess.UserID
	s.router.Publish(channel.KindBooking, env.BookingID, out)
	return nil
}

func (s *Server) handleStatusChange(ctx context.Context, sess *presence.Session, env events.Envelope) error {
	if err := requireBooking(env); err != nil {
		return err
	}
	if err := s.router.CanAccess(ctx, sess, env.BookingID); err != nil {
		return err
	}

	var payload events.StatusChangePayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	if payload.Status == "" {
		return fmt.Errorf("%w: status is required", domain.ErrValidation)
	}

	// The session's role doubles as the milestone actor for audit.
	b, err := s.coordinator.Transition(ctx, env.BookingID, payload.Status, sess.Role, payload.Reason)
	if err != nil {
		return err
	}

	if s.notifications != nil {
		for _, userID := range []string{b.CustomerID, b.WorkerID} {
			if userID == "" || userID == sess.UserID {
				continue
			}
			n := &models.Notification{
				UserID:      userID,
				Type:        models.NotificationBookingStatus,
				Title:       "Booking update",
				Message:     fmt.Sprintf("Booking %s is now %s", b.ID, b.Status),
				RelatedID:   b.ID,
				RelatedType: "booking",
				Priority:    models.PriorityHigh,
			}
			if err := s.notifications.Raise(ctx, n); err != nil {
				s.logger.Warn().Err(err).Str("user_id", userID).Msg("raise status notification failed")
			}
		}
	}
	return nil
}

func (s *Server) handleMarkDelivered(ctx context.Context, sess *presence.Session, env events.Envelope) error {
	return s.advanceMessage(ctx, sess, env, models.MessageDelivered)
}

func (s *Server) handleMarkRead(ctx context.Context, sess *presence.Session, env events.Envelope) error {
	return s.advanceMessage(ctx, sess, env, models.MessageRead)
}

func (s *Server) advanceMessage(ctx context.Context, sess *presence.Session, env events.Envelope, status models.MessageStatus) error {
	var payload events.MessageRefPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	if payload.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", domain.ErrValidation)
	}

	_, err := s.messages.Advance(ctx, sess, payload.MessageID, status)
	return err
}
