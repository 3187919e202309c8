package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultReferenceTTL is how long a committed reference is remembered.
const DefaultReferenceTTL = 24 * time.Hour

// ReferenceCache implements ports.ReferenceCache using Redis.
type ReferenceCache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewReferenceCache creates a new Redis-backed reference cache.
func NewReferenceCache(client goredis.UniversalClient, ttl time.Duration) *ReferenceCache {
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	return &ReferenceCache{
		client: client,
		prefix: "ref:",
		ttl:    ttl,
	}
}

// Seen reports whether the reference was remembered and has not expired.
func (c *ReferenceCache) Seen(ctx context.Context, reference string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+reference).Result()
	if err != nil {
		return false, fmt.Errorf("redis reference exists: %w", err)
	}
	return n > 0, nil
}

// Remember records a committed reference.
func (c *ReferenceCache) Remember(ctx context.Context, reference string) error {
	if err := c.client.Set(ctx, c.prefix+reference, 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis reference set: %w", err)
	}
	return nil
}
