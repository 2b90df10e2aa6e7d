package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	var mr = miniredis.RunT(t)
	var eng = &Engine{
		Redis:                  redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		VelocityPerHour:        20,
		ReviewAmountCents:      100000,
		DenyFrequencyThreshold: 50,
		Now:                    func() time.Time { return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC) },
	}
	return eng, mr
}

func TestDecideApprove(t *testing.T) {
	var eng, _ = newEngine(t)
	decision, reason, err := eng.Decide(context.Background(), "cust-1", 5000)
	require.NoError(t, err)
	require.Equal(t, DecisionApprove, decision)
	require.Equal(t, "rule_passed", reason)
}

func TestDecideHighAmount(t *testing.T) {
	var eng, _ = newEngine(t)
	decision, reason, err := eng.Decide(context.Background(), "cust-1", 100001)
	require.NoError(t, err)
	require.Equal(t, DecisionReview, decision)
	require.Equal(t, "high_amount", reason)
}

func TestDecideFailedAttempts(t *testing.T) {
	var eng, mr = newEngine(t)
	mr.Set("failed_attempts:cust-1", "3")

	decision, reason, err := eng.Decide(context.Background(), "cust-1", 5000)
	require.NoError(t, err)
	require.Equal(t, DecisionReview, decision)
	require.Equal(t, "multiple_failed_attempts", reason)
}

func TestDecideVelocityReview(t *testing.T) {
	var eng, _ = newEngine(t)
	var ctx = context.Background()
	for i := 0; i < 20; i++ {
		_, _, err := eng.Decide(ctx, "cust-1", 5000)
		require.NoError(t, err)
	}
	decision, reason, err := eng.Decide(ctx, "cust-1", 5000)
	require.NoError(t, err)
	require.Equal(t, DecisionReview, decision)
	require.Equal(t, "velocity_threshold", reason)
}

func TestDecideHighFrequencyDeny(t *testing.T) {
	var eng, mr = newEngine(t)
	mr.Set("velocity:cust-1:2026031415", "50")

	decision, reason, err := eng.Decide(context.Background(), "cust-1", 5000)
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, decision)
	require.Equal(t, "high_frequency", reason)
}

func TestDenyWinsOverAmount(t *testing.T) {
	var eng, mr = newEngine(t)
	mr.Set("velocity:cust-1:2026031415", "50")

	// Both the deny and the review rule match; the first rule wins.
	decision, reason, err := eng.Decide(context.Background(), "cust-1", 200000)
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, decision)
	require.Equal(t, "high_frequency", reason)
}

func TestVelocityWindowKey(t *testing.T) {
	var eng, mr = newEngine(t)
	_, _, err := eng.Decide(context.Background(), "cust-1", 5000)
	require.NoError(t, err)

	var key = fmt.Sprintf("velocity:%s:%s", "cust-1", "2026031415")
	require.True(t, mr.Exists(key))
	require.Equal(t, 7200*time.Second, mr.TTL(key))
}
