package orchestrator

import (
	"context"

	"github.com/sagapay/core/go/events"
)

// Store is the orchestrator's persistence boundary. Handlers run all of
// their mutations through one Tx so the inbox row, the business change, and
// any produced outbox events commit atomically.
type Store interface {
	// InTx runs fn inside one transaction, committing when fn returns nil
	// and rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// GetPayment reads one payment outside any transaction (HTTP reads).
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// Tx is the set of mutations available inside one orchestrator transaction.
type Tx interface {
	InboxSeen(ctx context.Context, eventID string) (bool, error)
	MarkInbox(ctx context.Context, eventID string) error

	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error

	// UpdatePaymentStatus performs the conditional update keyed on
	// (payment_id, status, state_version) and returns the affected row count.
	UpdatePaymentStatus(ctx context.Context, paymentID string, from Status, fromVersion int64, to Status) (int64, error)

	AppendTimeline(ctx context.Context, e TimelineEntry) error
	InsertAttempt(ctx context.Context, a Attempt) error
	EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error
}
