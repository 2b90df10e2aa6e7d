package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/metrics"
)

// Store is the risk service's persistence boundary.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ListReviews(ctx context.Context, status string, limit int) ([]Review, error)
}

// Tx is the set of mutations available inside one risk transaction.
type Tx interface {
	InboxSeen(ctx context.Context, eventID string) (bool, error)
	MarkInbox(ctx context.Context, eventID string) error
	GetReviewByPayment(ctx context.Context, paymentID string) (*Review, error)
	InsertReview(ctx context.Context, r *Review) error
	FinalizeReview(ctx context.Context, paymentID, status, reviewedBy, decisionEventID string, reviewedAt time.Time) error
	EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error
}

// PaymentStatusFetcher reads a payment's current status from the
// orchestrator. Manual decisions are gated on RISK_REVIEW.
type PaymentStatusFetcher interface {
	PaymentStatus(ctx context.Context, paymentID string) (string, error)
}

// Service consumes payments.requested, applies the rule engine, and manages
// the manual review queue.
type Service struct {
	Store    Store
	Engine   *Engine
	Statuses PaymentStatusFetcher
	Service  string
}

// HandlePaymentRequested evaluates one requested payment and enqueues the
// APPROVE / DENY / REVIEW outcome.
func (s *Service) HandlePaymentRequested(ctx context.Context, env events.Envelope) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
			return err
		} else if seen {
			log.WithFields(log.Fields{"topic": events.TopicPaymentsRequested, "event_id": env.EventID}).
				Info("duplicate event skipped")
			metrics.DuplicateEventsSkippedTotal.WithLabelValues(s.Service, events.TopicPaymentsRequested).Inc()
			return nil
		}

		var customerID = env.PayloadString("customer_id")
		var amountCents = env.PayloadInt("amount_cents", 0)
		decision, reason, err := s.Engine.Decide(ctx, customerID, amountCents)
		if err != nil {
			return err
		}

		var topic = events.TopicRiskDenied
		if decision == DecisionApprove {
			topic = events.TopicRiskApproved
		}
		if decision == DecisionReview {
			existing, err := tx.GetReviewByPayment(ctx, env.AggregateID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if existing == nil {
				if err := tx.InsertReview(ctx, &Review{
					PaymentID:   env.AggregateID,
					CustomerID:  customerID,
					AmountCents: amountCents,
					Reason:      reason,
					Status:      "PENDING",
				}); err != nil {
					return err
				}
			}
		}

		log.WithFields(log.Fields{
			"payment_id": env.AggregateID,
			"decision":   decision,
			"reason":     reason,
			"trace_id":   env.TraceID,
		}).Info("risk decision")

		if err := tx.EnqueueOutbox(ctx, topic, events.NewEnvelope(topic, env.AggregateID, env.TraceID,
			map[string]interface{}{
				"decision":    string(decision),
				"reason":      reason,
				"customer_id": customerID,
			})); err != nil {
			return err
		}
		return tx.MarkInbox(ctx, env.EventID)
	})
}

// ManualDecision finalizes one PENDING review. The payment must still be in
// RISK_REVIEW at the orchestrator; otherwise the decision conflicts.
func (s *Service) ManualDecision(ctx context.Context, paymentID string, decision Decision, reviewedBy, traceID string) (*Review, error) {
	if decision != DecisionApprove && decision != DecisionDeny {
		return nil, fmt.Errorf("decision must be APPROVE or DENY, got %q", decision)
	}

	var out *Review
	var err = s.Store.InTx(ctx, func(tx Tx) error {
		review, err := tx.GetReviewByPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if review.Status != "PENDING" {
			return fmt.Errorf("%w: status=%s", ErrReviewFinalized, review.Status)
		}
		status, err := s.Statuses.PaymentStatus(ctx, paymentID)
		if err != nil {
			return err
		}
		if status != "RISK_REVIEW" {
			return fmt.Errorf("%w: current=%s", ErrPaymentNotReviewable, status)
		}

		var topic = events.TopicRiskDenied
		var reviewStatus = "DENIED"
		if decision == DecisionApprove {
			topic = events.TopicRiskApproved
			reviewStatus = "APPROVED"
		}
		var reviewedAt = time.Now().UTC()
		var env = events.NewEnvelope(topic, paymentID, traceID, map[string]interface{}{
			"decision":      string(decision),
			"reason":        "manual_" + strings.ToLower(string(decision)),
			"customer_id":   review.CustomerID,
			"reviewed_by":   reviewedBy,
			"reviewed_at":   reviewedAt.Format(time.RFC3339),
			"review_status": reviewStatus,
		})
		if err := tx.EnqueueOutbox(ctx, topic, env); err != nil {
			return err
		}
		if err := tx.FinalizeReview(ctx, paymentID, reviewStatus, reviewedBy, env.EventID, reviewedAt); err != nil {
			return err
		}

		review.Status = reviewStatus
		review.ReviewedBy = reviewedBy
		review.ReviewedAt = &reviewedAt
		review.DecisionEventID = env.EventID
		out = review
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Subscriptions returns the topic/group/handler wiring for this service.
func (s *Service) Subscriptions() []events.Subscription {
	return []events.Subscription{
		{Topic: events.TopicPaymentsRequested, Group: "risk-payments-requested", Handler: s.HandlePaymentRequested},
	}
}
