package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crewlink/internal/domain"
	"crewlink/internal/metrics"
	"crewlink/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey      = "dispatch:queue"
	redisDeadLetterKey = "dispatch:deadletter"
	pollInterval       = 2 * time.Second
)

// DispatchWorker forwards persisted notifications to the external dispatcher
// (SMS, email, push). Delivery is fire-and-forget from the core's point of
// view: retries and dead-lettering happen here, failures are logged and
// never propagate back.
type DispatchWorker struct {
	dispatcher domain.Dispatcher
	redis      *redis.Client
	retry      RetryPolicy
	queue      chan *models.Notification
	logger     zerolog.Logger
}

func NewDispatchWorker(dispatcher domain.Dispatcher, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *DispatchWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "dispatch").Logger()
	}

	return &DispatchWorker{
		dispatcher: dispatcher,
		redis:      redisClient,
		retry:      retry,
		queue:      make(chan *models.Notification, models.DispatchQueueSize),
		logger:     base,
	}
}

// Enqueue schedules a notification for external delivery. Redis keeps the
// queue across restarts when available; otherwise the in-memory channel
// carries it. A full queue drops the dispatch, not the core operation.
func (w *DispatchWorker) Enqueue(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return errors.New("notification is required")
	}

	if w.redis != nil {
		raw, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		if err := w.redis.RPush(ctx, redisQueueKey, raw).Err(); err == nil {
			return nil
		} else {
			w.logger.Warn().Err(err).Msg("redis push failed, falling back to memory queue")
		}
	}

	select {
	case w.queue <- n:
		return nil
	default:
		return errors.New("dispatch queue is full")
	}
}

// Run consumes both queues until the context is cancelled.
func (w *DispatchWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.queue:
			w.deliver(ctx, n)
		case <-ticker.C:
			w.drainRedis(ctx)
		}
	}
}

func (w *DispatchWorker) drainRedis(ctx context.Context) {
	if w.redis == nil {
		return
	}
	for {
		raw, err := w.redis.LPop(ctx, redisQueueKey).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			w.logger.Warn().Err(err).Msg("redis pop failed")
			return
		}

		var n models.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			w.logger.Error().Err(err).Msg("discarding undecodable queued notification")
			continue
		}
		w.deliver(ctx, &n)
	}
}

func (w *DispatchWorker) deliver(ctx context.Context, n *models.Notification) {
	var lastErr error
	for attempt := 1; attempt <= w.retry.MaxRetries; attempt++ {
		if err := w.dispatcher.Dispatch(ctx, n.UserID, n); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retry.NextDelay(attempt)):
			}
			continue
		}
		metrics.Dispatch("ok")
		return
	}

	metrics.Dispatch("error")
	w.logger.Error().Err(lastErr).
		Str("user_id", n.UserID).
		Str("type", n.Type).
		Int("attempts", w.retry.MaxRetries).
		Msg("notification dispatch failed")
	w.deadLetter(ctx, n)
}

func (w *DispatchWorker) deadLetter(ctx context.Context, n *models.Notification) {
	if w.redis == nil {
		return
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := w.redis.RPush(ctx, redisDeadLetterKey, raw).Err(); err != nil {
		w.logger.Warn().Err(err).Msg("dead letter push failed")
	}
}
