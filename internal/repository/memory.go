package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryPresenceCache is the in-process fallback when redis is absent or
// down. TTL handling mirrors the redis behavior closely enough for failover.
type MemoryPresenceCache struct {
	mu         sync.Mutex
	presence   map[string]presenceEntry
	rateLimits map[string]*rateLimitEntry
}

type presenceEntry struct {
	role      string
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryPresenceCache() *MemoryPresenceCache {
	return &MemoryPresenceCache{
		presence:   make(map[string]presenceEntry),
		rateLimits: make(map[string]*rateLimitEntry),
	}
}

func (m *MemoryPresenceCache) SetOnline(ctx context.Context, userID, role string, ttl time.Duration) error {
	m.mu.Lock()
	m.presence[userID] = presenceEntry{role: role, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryPresenceCache) SetOffline(ctx context.Context, userID string) error {
	m.mu.Lock()
	delete(m.presence, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPresenceCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.presence[userID]
	if !ok {
		return false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.presence, userID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryPresenceCache) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.rateLimits[userID]
	if !ok || now.After(entry.expiresAt) {
		m.rateLimits[userID] = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		return limit >= 1, nil
	}

	entry.count++
	return entry.count <= limit, nil
}
