package cache

import (
	"context"
	"time"
)

const (
	// identityCachePrefix is the Redis key prefix for the gate identity cache.
	identityCachePrefix = "gate:identity:"
	// identityCacheTTL is the time-to-live for cached identities.
	identityCacheTTL = 5 * time.Minute
)

// The identity cache maps QuickHash(api key) -> user id so the gate can skip
// the Argon2id verification on hot keys. It never stores credit state: the
// balance is shared mutable state and every charge must hit storage.

// GetIdentity retrieves a cached user id for a key hash.
// Returns empty string on a cache miss.
func (c *Cache) GetIdentity(ctx context.Context, cacheKey string) (string, error) {
	userID, err := c.client.Get(ctx, identityCachePrefix+cacheKey).Result()
	if err != nil {
		// Cache miss is not an error
		return "", nil //nolint:nilerr
	}
	return userID, nil
}

// SetIdentity caches a verified key -> user id mapping.
func (c *Cache) SetIdentity(ctx context.Context, cacheKey, userID string) error {
	return c.client.Set(ctx, identityCachePrefix+cacheKey, userID, identityCacheTTL).Err()
}

// DeleteIdentity removes a cached identity.
func (c *Cache) DeleteIdentity(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, identityCachePrefix+cacheKey).Err()
}
