package orchestrator

import (
	"errors"
	"time"
)

// Payment is the orchestrator-owned source of truth for one payment.
// Status and StateVersion always change together under the optimistic
// concurrency guard.
type Payment struct {
	PaymentID      string
	CustomerID     string
	AmountCents    int64
	Currency       string
	Status         Status
	StateVersion   int64
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TimelineEntry is one append-only audit row. The first row of a payment has
// an empty FromState; every later row chains from its predecessor's ToState.
type TimelineEntry struct {
	PaymentID string
	FromState Status
	ToState   Status
	Reason    string
	EventID   string
	CreatedAt time.Time
}

// Attempt records one provider outcome for a payment.
type Attempt struct {
	PaymentID     string
	AttemptNumber int64
	Result        string
	LatencyMs     int64
	ErrorCode     string
	CreatedAt     time.Time
}

var (
	// ErrConcurrencyConflict is returned when the conditional status update
	// matched no row: a concurrent writer advanced the payment first.
	ErrConcurrencyConflict = errors.New("optimistic concurrency conflict")

	// ErrNotFound is returned for unknown payment ids.
	ErrNotFound = errors.New("payment not found")
)
