// Package provider simulates an external card authorizer: it consumes
// authorize requests, runs a bounded retry loop with exponential backoff, and
// emits authorized / failed / DLQ events.
package provider

import (
	"math/rand"
	"strings"
	"sync"
)

// Outcome is one simulated provider response.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeTimeout Outcome = "TIMEOUT"
	OutcomeDecline Outcome = "DECLINE"
)

// Outcomer decides a single attempt's outcome and its simulated latency.
type Outcomer interface {
	Outcome(customerID string) (Outcome, int64)
}

// WeightedOutcomer honors the force-timeout / force-decline customer prefixes
// and otherwise draws SUCCESS 70%, TIMEOUT 20%, DECLINE 10%.
type WeightedOutcomer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWeightedOutcomer seeds an outcomer. A fixed seed makes runs
// reproducible.
func NewWeightedOutcomer(seed int64) *WeightedOutcomer {
	return &WeightedOutcomer{rng: rand.New(rand.NewSource(seed))}
}

func (w *WeightedOutcomer) Outcome(customerID string) (Outcome, int64) {
	var lower = strings.ToLower(customerID)
	if strings.HasPrefix(lower, "force-timeout") {
		return OutcomeTimeout, 0
	}
	if strings.HasPrefix(lower, "force-decline") {
		return OutcomeDecline, w.latency()
	}

	w.mu.Lock()
	var roll = w.rng.Float64()
	w.mu.Unlock()
	switch {
	case roll < 0.70:
		return OutcomeSuccess, w.latency()
	case roll < 0.90:
		return OutcomeTimeout, 0
	default:
		return OutcomeDecline, w.latency()
	}
}

func (w *WeightedOutcomer) latency() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return 20 + w.rng.Int63n(180)
}
