// Package newscache keeps each user's most recently scraped news items.
package newscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"newsradar/pkg/radar"
)

const keyPrefix = "news:"

// Key is the cache key for a user's items.
func Key(userID string) string {
	return keyPrefix + userID
}

// Redis stores items as JSON strings with a TTL.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache. ttl of zero keeps entries forever.
func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, logger: logger}
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Set replaces the user's items.
func (r *Redis) Set(ctx context.Context, userID string, items []radar.NewsItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal news: %w", err)
	}
	if err := r.client.Set(ctx, Key(userID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	r.logger.Debug("News cached", "user_id", userID, "items", len(items), "ttl", r.ttl.String())
	return nil
}

// Get returns the user's items, or nil when none are cached.
func (r *Redis) Get(ctx context.Context, userID string) ([]radar.NewsItem, error) {
	data, err := r.client.Get(ctx, Key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var items []radar.NewsItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal news: %w", err)
	}
	return items, nil
}

// Delete drops the user's items.
func (r *Redis) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, Key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type entry struct {
	expires time.Time
	items   []radar.NewsItem
}

// Memory is an in-process cache for local development and tests.
type Memory struct {
	entries map[string]entry
	now     func() time.Time
	ttl     time.Duration
	mu      sync.RWMutex
}

// NewMemory creates an in-memory cache. ttl of zero keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Set replaces the user's items.
func (m *Memory) Set(_ context.Context, userID string, items []radar.NewsItem) error {
	e := entry{items: append([]radar.NewsItem(nil), items...)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[Key(userID)] = e
	m.mu.Unlock()
	return nil
}

// Get returns the user's items, or nil when none are cached or they expired.
func (m *Memory) Get(_ context.Context, userID string) ([]radar.NewsItem, error) {
	m.mu.RLock()
	e, ok := m.entries[Key(userID)]
	m.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return nil, nil
	}
	return append([]radar.NewsItem(nil), e.items...), nil
}

// Delete drops the user's items.
func (m *Memory) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.entries, Key(userID))
	m.mu.Unlock()
	return nil
}
