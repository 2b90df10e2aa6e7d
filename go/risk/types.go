package risk

import (
	"errors"
	"time"
)

// Review is one manual-review queue row. At most one review exists per
// payment.
type Review struct {
	ReviewID        string
	PaymentID       string
	CustomerID      string
	AmountCents     int64
	Reason          string
	Status          string // PENDING, APPROVED, DENIED
	ReviewedBy      string
	ReviewedAt      *time.Time
	DecisionEventID string
	CreatedAt       time.Time
}

var (
	// ErrNotFound is returned for unknown reviews.
	ErrNotFound = errors.New("review not found")

	// ErrReviewFinalized is returned when a decision targets a review that is
	// no longer PENDING.
	ErrReviewFinalized = errors.New("review already finalized")

	// ErrPaymentNotReviewable is returned when the orchestrator reports the
	// payment outside RISK_REVIEW.
	ErrPaymentNotReviewable = errors.New("payment is not in risk review")
)
