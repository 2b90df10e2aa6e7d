// Package risk screens requested payments against velocity and amount rules,
// owns the manual review queue, and emits risk.approved / risk.denied.
package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of rule evaluation.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionDeny    Decision = "DENY"
	DecisionReview  Decision = "REVIEW"
)

// Engine evaluates the ordered rule set against Redis-held counters.
type Engine struct {
	Redis                  *redis.Client
	VelocityPerHour        int64
	ReviewAmountCents      int64
	DenyFrequencyThreshold int64

	// Now is overridable so tests can pin the velocity window.
	Now func() time.Time
}

const velocityWindowTTL = 7200 * time.Second

// Decide applies the rules in order; the first match wins.
//
//  1. hourly count above the deny threshold   -> DENY  high_frequency
//  2. amount above the review threshold       -> REVIEW high_amount
//  3. three or more recorded failed attempts  -> REVIEW multiple_failed_attempts
//  4. hourly count above the velocity limit   -> REVIEW velocity_threshold
//  5. otherwise                               -> APPROVE rule_passed
func (e *Engine) Decide(ctx context.Context, customerID string, amountCents int64) (Decision, string, error) {
	var now = time.Now
	if e.Now != nil {
		now = e.Now
	}
	var velocityKey = fmt.Sprintf("velocity:%s:%s", customerID, now().UTC().Format("2006010215"))

	count, err := e.Redis.Incr(ctx, velocityKey).Result()
	if err != nil {
		return "", "", fmt.Errorf("incrementing velocity counter: %w", err)
	}
	// Expiry is refreshed on every hit; the window key rotates hourly anyway.
	if err := e.Redis.Expire(ctx, velocityKey, velocityWindowTTL).Err(); err != nil {
		return "", "", fmt.Errorf("setting velocity expiry: %w", err)
	}

	var failedAttempts int64
	raw, err := e.Redis.Get(ctx, "failed_attempts:"+customerID).Result()
	if err != nil && err != redis.Nil {
		return "", "", fmt.Errorf("reading failed attempts: %w", err)
	}
	if err == nil {
		failedAttempts, _ = strconv.ParseInt(raw, 10, 64)
	}

	switch {
	case count > e.DenyFrequencyThreshold:
		return DecisionDeny, "high_frequency", nil
	case amountCents > e.ReviewAmountCents:
		return DecisionReview, "high_amount", nil
	case failedAttempts >= 3:
		return DecisionReview, "multiple_failed_attempts", nil
	case count > e.VelocityPerHour:
		return DecisionReview, "velocity_threshold", nil
	default:
		return DecisionApprove, "rule_passed", nil
	}
}
