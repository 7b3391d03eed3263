package service

import (
	"context"
	"fmt"

	"crewlink/internal/channel"
	"crewlink/internal/domain"
	"crewlink/internal/events"
	"crewlink/internal/metrics"
	"crewlink/internal/models"
	"crewlink/internal/presence"

	"github.com/rs/zerolog"
)

// MessageService runs the send path: membership check, durable append, then
// fan-out. A message is never broadcast before the append has returned.
type MessageService struct {
	store  domain.MessageStore
	router *channel.Router
	logger zerolog.Logger
}

func NewMessageService(store domain.MessageStore, router *channel.Router, logger *zerolog.Logger) *MessageService {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "messages").Logger()
	}
	return &MessageService{store: store, router: router, logger: base}
}

// Send persists the sender's message and broadcasts it to the booking's chat
// channel. Persistence failure surfaces as ErrUnavailable and nothing is
// broadcast, so a reconnecting client's history is always consistent with
// what members saw.
func (s *MessageService) Send(ctx context.Context, sess *presence.Session, bookingID string, in events.SendMessagePayload) (*models.Message, error) {
	if !s.router.IsMember(sess, channel.KindChat, bookingID) {
		return nil, fmt.Errorf("%w: join chat:%s before sending", domain.ErrAccessDenied, bookingID)
	}

	msg := &models.Message{
		BookingID:   bookingID,
		SenderID:    sess.UserID,
		ReceiverID:  in.ReceiverID,
		Type:        in.Type,
		Content:     in.Content,
		Attachments: in.Attachments,
		Location:    in.Location,
	}

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("booking_id", bookingID).Str("sender_id", sess.UserID).Msg("append message failed")
		return nil, err
	}
	metrics.MessagePersisted()

	env, err := events.New(events.KindMessage, bookingID, sess.UserID, msg)
	if err != nil {
		return nil, err
	}
	s.router.Publish(channel.KindChat, bookingID, env)

	return msg, nil
}

// Advance moves a message's delivery status forward and announces the change
// on the chat channel. Only a booking participant may advance.
func (s *MessageService) Advance(ctx context.Context, sess *presence.Session, messageID string, status models.MessageStatus) (*models.Message, error) {
	current, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.router.CanAccess(ctx, sess, current.BookingID); err != nil {
		return nil, err
	}

	msg, err := s.store.AdvanceMessageStatus(ctx, messageID, status)
	if err != nil {
		return nil, err
	}

	s.router.Publish(channel.KindChat, msg.BookingID, events.MustNew(
		events.KindMessageStatus, msg.BookingID, sess.UserID,
		events.MessageStatusPayload{MessageID: msg.ID, Status: msg.Status},
	))
	return msg, nil
}

// History returns the booking's recent messages for a participant.
func (s *MessageService) History(ctx context.Context, sess *presence.Session, bookingID string, limit int) ([]*models.Message, error) {
	if err := s.router.CanAccess(ctx, sess, bookingID); err != nil {
		return nil, err
	}
	return s.store.GetBookingMessages(ctx, bookingID, limit)
}
