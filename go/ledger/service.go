// Package ledger posts double-entry settlement records for captured payments
// and serves reconciliation queries over them.
package ledger

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/metrics"
)

// Store is the ledger's persistence boundary.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	TransactionSummary(ctx context.Context, transactionID string) (*TransactionSummary, []Entry, error)
	ListSummaries(ctx context.Context, limit int) ([]TransactionSummary, error)
}

// Tx is the set of mutations available inside one ledger transaction.
type Tx interface {
	InboxSeen(ctx context.Context, eventID string) (bool, error)
	MarkInbox(ctx context.Context, eventID string) error
	InsertEntry(ctx context.Context, e *Entry) error
	AdjustBalance(ctx context.Context, accountName string, deltaCents int64) error
	SumEntries(ctx context.Context, transactionID string) (debits, credits int64, err error)
	EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error
}

// Service consumes payments.captured and writes balanced settlement entries.
type Service struct {
	Store   Store
	Service string
}

// HandleCaptured posts one settlement. Both entries, the balance updates, the
// balance verification, and the settled event share one transaction.
func (s *Service) HandleCaptured(ctx context.Context, env events.Envelope) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
			return err
		} else if seen {
			log.WithFields(log.Fields{"topic": events.TopicPaymentsCaptured, "event_id": env.EventID}).
				Info("duplicate event skipped")
			metrics.DuplicateEventsSkippedTotal.WithLabelValues(s.Service, events.TopicPaymentsCaptured).Inc()
			return nil
		}

		var amount = env.PayloadInt("amount_cents", 0)
		if amount <= 0 {
			return fmt.Errorf("captured event %s carries non-positive amount %d", env.EventID, amount)
		}
		var transactionID = "settlement:" + env.AggregateID

		if err := tx.InsertEntry(ctx, &Entry{
			TransactionID: transactionID,
			AccountName:   AccountCustomerCash,
			Direction:     DirectionDebit,
			AmountCents:   amount,
		}); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &Entry{
			TransactionID: transactionID,
			AccountName:   AccountMerchantReceivable,
			Direction:     DirectionCredit,
			AmountCents:   amount,
		}); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, AccountCustomerCash, -amount); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, AccountMerchantReceivable, amount); err != nil {
			return err
		}

		// Verification re-reads what was written; an imbalance rolls the whole
		// posting back.
		debits, credits, err := tx.SumEntries(ctx, transactionID)
		if err != nil {
			return err
		}
		if debits != credits {
			return fmt.Errorf("%w: transaction_id=%s debits=%d credits=%d",
				ErrLedgerImbalance, transactionID, debits, credits)
		}

		log.WithFields(log.Fields{
			"payment_id":     env.AggregateID,
			"transaction_id": transactionID,
			"amount_cents":   amount,
			"trace_id":       env.TraceID,
		}).Info("settlement posted")

		if err := tx.MarkInbox(ctx, env.EventID); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, events.TopicPaymentsSettled,
			events.NewEnvelope(events.TopicPaymentsSettled, env.AggregateID, env.TraceID,
				map[string]interface{}{
					"transaction_id": transactionID,
					"amount_cents":   amount,
				}))
	})
}

// Subscriptions returns the topic/group/handler wiring for this service.
func (s *Service) Subscriptions() []events.Subscription {
	return []events.Subscription{
		{Topic: events.TopicPaymentsCaptured, Group: "ledger-payments-captured", Handler: s.HandleCaptured},
	}
}
