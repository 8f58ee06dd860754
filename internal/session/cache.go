package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores computed session summaries in Redis. Every mutating cage
// operation invalidates the session's entry, so a hit is always current.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the summary cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func summaryKey(sessionID int64) string {
	return fmt.Sprintf("session:summary:%d", sessionID)
}

// Get returns the cached summary, or nil on a miss.
func (c *Cache) Get(ctx context.Context, sessionID int64) (*Summary, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	payload, err := c.client.Get(ctx, summaryKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Set stores the summary under its session key.
func (c *Cache) Set(ctx context.Context, summary Summary) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(summary.SessionID), raw, c.ttl).Err()
}

// Invalidate drops the cached summary after a mutation.
func (c *Cache) Invalidate(ctx context.Context, sessionID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, summaryKey(sessionID)).Err()
}
