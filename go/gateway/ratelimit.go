// Package gateway is the public edge: API-key auth, per-customer rate
// limiting, idempotency caching, and forwarding to the orchestrator.
package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// TokenBucket is a per-customer limiter over a Redis hash. The bucket state
// lives entirely in Redis so every gateway replica shares it.
type TokenBucket struct {
	Redis            *redis.Client
	CapacityPerMinute int64

	// Now is overridable so tests can control refill.
	Now func() time.Time
}

const bucketTTL = 120 * time.Second

// Allow consumes one token for the customer. Redis outages fail open: the
// orchestrator's own constraints are the safety net, an unavailable limiter
// must not drop payments.
func (b *TokenBucket) Allow(ctx context.Context, customerID string) bool {
	var now = time.Now
	if b.Now != nil {
		now = b.Now
	}
	var key = "tokenbucket:" + customerID
	var capacity = float64(b.CapacityPerMinute)
	var refillPerSec = capacity / 60

	state, err := b.Redis.HGetAll(ctx, key).Result()
	if err != nil {
		log.WithFields(log.Fields{"customer_id": customerID, "error": err}).
			Warn("rate limiter unavailable, allowing request")
		return true
	}

	var nowSec = float64(now().UnixNano()) / float64(time.Second)
	var tokens = capacity
	if raw, ok := state["tokens"]; ok {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			tokens = parsed
			if updated, err := strconv.ParseFloat(state["updated_at"], 64); err == nil {
				tokens += (nowSec - updated) * refillPerSec
				if tokens > capacity {
					tokens = capacity
				}
			}
		}
	}

	var allowed = tokens >= 1
	if allowed {
		tokens--
	}
	var pipe = b.Redis.Pipeline()
	pipe.HSet(ctx, key,
		"tokens", strconv.FormatFloat(tokens, 'f', -1, 64),
		"updated_at", strconv.FormatFloat(nowSec, 'f', -1, 64))
	pipe.Expire(ctx, key, bucketTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithFields(log.Fields{"customer_id": customerID, "error": err}).
			Warn("persisting bucket state failed")
	}
	return allowed
}
