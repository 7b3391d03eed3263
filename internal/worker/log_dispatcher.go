package worker

import (
	"context"

	"crewlink/internal/models"

	"github.com/rs/zerolog"
)

// LogDispatcher is the default Dispatcher: it records the notification and
// succeeds. Deployments wire a real SMS/email/push gateway in its place.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger *zerolog.Logger) *LogDispatcher {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "dispatcher").Logger()
	}
	return &LogDispatcher{logger: base}
}

func (d *LogDispatcher) Dispatch(_ context.Context, userID string, n *models.Notification) error {
	d.logger.Info().
		Str("user_id", userID).
		Str("notification_id", n.ID).
		Str("type", n.Type).
		Str("priority", n.Priority).
		Msg("notification dispatched")
	return nil
}
