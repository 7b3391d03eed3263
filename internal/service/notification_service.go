package service

import (
	"context"

	"crewlink/internal/domain"
	"crewlink/internal/events"
	"crewlink/internal/models"
	"crewlink/internal/presence"

	"github.com/rs/zerolog"
)

// Enqueuer hands a persisted notification to the external dispatch worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

// NotificationService persists notifications and pushes them to live
// sessions; offline users find them on their next query until read or
// expired. External channels (SMS/email/push) go through the dispatch worker,
// fire-and-forget.
type NotificationService struct {
	store    domain.NotificationStore
	registry *presence.Registry
	worker   Enqueuer
	logger   zerolog.Logger
}

func NewNotificationService(store domain.NotificationStore, registry *presence.Registry, worker Enqueuer, logger *zerolog.Logger) *NotificationService {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "notifications").Logger()
	}
	return &NotificationService{store: store, registry: registry, worker: worker, logger: base}
}

// Raise persists the notification, then delivers it immediately when the
// user has an active session. Dispatch failures never reach the caller.
func (s *NotificationService) Raise(ctx context.Context, n *models.Notification) error {
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return err
	}

	if sess, ok := s.registry.Lookup(n.UserID); ok {
		env, err := events.New(events.KindNotification, n.RelatedID, "", n)
		if err == nil {
			_ = sess.Deliver(env)
		}
	}

	if s.worker != nil {
		if err := s.worker.Enqueue(ctx, n); err != nil {
			s.logger.Warn().Err(err).Str("user_id", n.UserID).Str("type", n.Type).Msg("dispatch enqueue failed")
		}
	}
	return nil
}

// List returns the user's visible notifications.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	return s.store.GetUserNotifications(ctx, userID, unreadOnly)
}

// MarkRead flips the read flag for the owning user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, userID, notificationID)
}
