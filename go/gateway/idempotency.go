package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// IdempotencyCache stores successful gateway responses keyed by
// (customer_id, idempotency_key). It is best-effort: a miss falls through to
// the orchestrator, whose unique idempotency_key constraint is authoritative.
type IdempotencyCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func idempotencyKey(customerID, key string) string {
	return fmt.Sprintf("idempotency:payment:%s:%s", customerID, key)
}

// Get returns the cached response body, or nil on miss or cache failure.
func (c *IdempotencyCache) Get(ctx context.Context, customerID, key string) []byte {
	raw, err := c.Redis.Get(ctx, idempotencyKey(customerID, key)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.WithField("error", err).Warn("idempotency cache read failed")
		return nil
	}
	return raw
}

// Put caches a successful response body. Failures only log.
func (c *IdempotencyCache) Put(ctx context.Context, customerID, key string, body []byte) {
	if err := c.Redis.Set(ctx, idempotencyKey(customerID, key), body, c.TTL).Err(); err != nil {
		log.WithField("error", err).Warn("idempotency cache write failed")
	}
}
