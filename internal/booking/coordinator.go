package booking

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"crewlink/internal/channel"
	"crewlink/internal/domain"
	"crewlink/internal/events"
	"crewlink/internal/metrics"
	"crewlink/internal/models"

	"github.com/rs/zerolog"
)

// transitions is the closed table of allowed status edges. Anything not
// listed fails with ErrInvalidTransition and mutates nothing.
var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusPending:    {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed:  {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:  {models.StatusDisputed},
	models.StatusCancelled:  {},
	models.StatusDisputed:   {models.StatusResolved}, // resolution handling is external
}

// CanTransition reports whether from -> to is an edge of the table.
func CanTransition(from, to models.BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const lockCount = 32

// Coordinator owns the booking-status state machine. The check-and-append is
// serialized per booking id, so concurrent transition attempts observe a
// strict milestone order.
type Coordinator struct {
	store  domain.BookingStore
	router *channel.Router
	fees   domain.FeePolicy
	locks  [lockCount]sync.Mutex
	logger zerolog.Logger
}

func NewCoordinator(store domain.BookingStore, router *channel.Router, fees domain.FeePolicy, logger *zerolog.Logger) *Coordinator {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "booking").Logger()
	}
	return &Coordinator{store: store, router: router, fees: fees, logger: base}
}

func (c *Coordinator) lockFor(bookingID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bookingID))
	return &c.locks[h.Sum32()%lockCount]
}

// Transition applies one status change: validate against the table, append
// exactly one milestone carrying the actor, stamp start/end times, attach
// cancellation metadata, persist, then announce on the booking channel.
func (c *Coordinator) Transition(ctx context.Context, bookingID string, next models.BookingStatus, actor, description string) (*models.Booking, error) {
	mu := c.lockFor(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: load booking %s: %v", domain.ErrUnavailable, bookingID, err)
	}

	from := b.Status
	if !CanTransition(from, next) {
		return nil, fmt.Errorf("%w: %s -> %s on booking %s", domain.ErrInvalidTransition, from, next, bookingID)
	}

	now := time.Now()
	b.Status = next
	b.UpdatedAt = now
	b.Milestones = append(b.Milestones, models.Milestone{
		Status:      next,
		Timestamp:   now,
		Description: description,
		Actor:       actor,
	})

	switch next {
	case models.StatusInProgress:
		b.ActualStart = &now
	case models.StatusCompleted:
		b.ActualEnd = &now
	case models.StatusCancelled:
		cancellation := &models.Cancellation{
			CancelledBy: actor,
			Reason:      description,
			CancelledAt: now,
		}
		if c.fees != nil {
			// The policy sees the status being cancelled from, not "cancelled".
			prior := *b
			prior.Status = from
			cancellation.Fee = c.fees.CancellationFee(&prior, actor)
		}
		b.Cancellation = cancellation
	}

	if err := c.store.SaveTransition(ctx, b, from); err != nil {
		return nil, err
	}

	metrics.Transition(string(next))
	c.logger.Info().
		Str("booking_id", bookingID).
		Str("from", string(from)).
		Str("to", string(next)).
		Str("actor", actor).
		Msg("booking transition")

	if c.router != nil {
		c.router.Publish(channel.KindBooking, bookingID, events.MustNew(
			events.KindBookingStatus, bookingID, "",
			events.BookingStatusPayload{BookingID: bookingID, Old: from, New: next, Timestamp: now},
		))
	}

	return b, nil
}
