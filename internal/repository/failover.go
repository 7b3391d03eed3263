package repository

import (
	"context"
	"sync/atomic"
	"time"

	"crewlink/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverPresenceCache prefers the primary (redis) cache and degrades to the
// in-memory fallback when it errors, probing the primary again after a
// recovery window.
type FailoverPresenceCache struct {
	primary   domain.PresenceCache
	fallback  domain.PresenceCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last failed probe
}

const recoveryWindow = time.Minute

func NewFailoverPresenceCache(primary, fallback domain.PresenceCache, logger *zerolog.Logger) *FailoverPresenceCache {
	return &FailoverPresenceCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// tryPrimary reports whether the primary should be attempted for this call.
func (f *FailoverPresenceCache) tryPrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, f.lastCheck.Load())) > recoveryWindow
}

func (f *FailoverPresenceCache) markDown(err error) {
	f.logger.Error().Err(err).Msg("primary presence cache failed, falling back to memory")
	f.isDown.Store(true)
	f.lastCheck.Store(time.Now().UnixNano())
}

func (f *FailoverPresenceCache) markUp() {
	if f.isDown.Swap(false) {
		f.logger.Info().Msg("primary presence cache recovered")
	}
}

func (f *FailoverPresenceCache) SetOnline(ctx context.Context, userID, role string, ttl time.Duration) error {
	if f.tryPrimary() {
		if err := f.primary.SetOnline(ctx, userID, role, ttl); err == nil {
			f.markUp()
			return nil
		} else {
			f.markDown(err)
		}
	}
	return f.fallback.SetOnline(ctx, userID, role, ttl)
}

func (f *FailoverPresenceCache) SetOffline(ctx context.Context, userID string) error {
	if f.tryPrimary() {
		if err := f.primary.SetOffline(ctx, userID); err == nil {
			f.markUp()
			return nil
		} else {
			f.markDown(err)
		}
	}
	return f.fallback.SetOffline(ctx, userID)
}

func (f *FailoverPresenceCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	if f.tryPrimary() {
		online, err := f.primary.IsOnline(ctx, userID)
		if err == nil {
			f.markUp()
			return online, nil
		}
		f.markDown(err)
	}
	return f.fallback.IsOnline(ctx, userID)
}

func (f *FailoverPresenceCache) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if f.tryPrimary() {
		allowed, err := f.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			f.markUp()
			return allowed, nil
		}
		f.markDown(err)
	}
	return f.fallback.CheckRateLimit(ctx, userID, limit, window)
}
