package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// dedupeTTL is how long an order hash is held after first submission. It
// comfortably outlives any order expiry the relay quotes.
const dedupeTTL = 24 * time.Hour

// DedupeCache prevents the same signed order from being accepted twice when
// a taker retries a submission. Claims are process-wide via Redis, so a
// multi-instance deployment still accepts each order exactly once.
type DedupeCache struct {
	client *redis.Client
}

// NewDedupeCache connects to Redis and verifies the connection.
func NewDedupeCache(ctx context.Context, addr string) (*DedupeCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %v", addr, err)
	}
	return &DedupeCache{client: client}, nil
}

// Claim marks the order hash as submitted. It returns false when another
// submission already claimed it.
func (c *DedupeCache) Claim(ctx context.Context, orderHash common.Hash) (bool, error) {
	ok, err := c.client.SetNX(ctx, dedupeKey(orderHash), 1, dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim order: %v", err)
	}
	return ok, nil
}

// Release frees a claim so a submission that failed validation can retry.
func (c *DedupeCache) Release(ctx context.Context, orderHash common.Hash) error {
	if err := c.client.Del(ctx, dedupeKey(orderHash)).Err(); err != nil {
		return fmt.Errorf("failed to release order claim: %v", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *DedupeCache) Close() error {
	return c.client.Close()
}

func dedupeKey(orderHash common.Hash) string {
	return "rfq:submitted:" + orderHash.Hex()
}
