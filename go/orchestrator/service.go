package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/metrics"
)

// Service drives the payment saga: it creates payments and applies state
// transitions in reaction to risk, provider, and ledger events.
type Service struct {
	Store   Store
	Service string
}

// CreateRequest is the validated input for payment creation.
type CreateRequest struct {
	CustomerID     string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

// CreatePayment inserts one payment in CREATED and enqueues
// payments.requested. A repeated idempotency key returns the existing payment
// without side effects.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest, traceID string) (*Payment, error) {
	var payment *Payment
	var err = s.Store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			payment = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		payment = &Payment{
			PaymentID:      uuid.NewString(),
			CustomerID:     req.CustomerID,
			AmountCents:    req.AmountCents,
			Currency:       strings.ToUpper(req.Currency),
			Status:         StatusCreated,
			StateVersion:   0,
			IdempotencyKey: req.IdempotencyKey,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if err := tx.AppendTimeline(ctx, TimelineEntry{
			PaymentID: payment.PaymentID,
			ToState:   StatusCreated,
			Reason:    "payment_created",
		}); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, events.TopicPaymentsRequested, events.NewEnvelope(
			events.TopicPaymentsRequested, payment.PaymentID, traceID,
			map[string]interface{}{
				"customer_id":  payment.CustomerID,
				"amount_cents": payment.AmountCents,
				"currency":     payment.Currency,
			}))
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// transition applies one validated state change under the optimistic
// concurrency guard and appends the matching timeline row.
func (s *Service) transition(ctx context.Context, tx Tx, p *Payment, to Status, reason, eventID string) error {
	if err := ValidateTransition(p.Status, to); err != nil {
		return err
	}
	n, err := tx.UpdatePaymentStatus(ctx, p.PaymentID, p.Status, p.StateVersion, to)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: payment %s at version %d", ErrConcurrencyConflict, p.PaymentID, p.StateVersion)
	}
	if err := tx.AppendTimeline(ctx, TimelineEntry{
		PaymentID: p.PaymentID,
		FromState: p.Status,
		ToState:   to,
		Reason:    reason,
		EventID:   eventID,
	}); err != nil {
		return err
	}
	p.Status = to
	p.StateVersion++
	return nil
}

// loadOrAbsorb resolves the event's payment. An unknown aggregate id is
// absorbed: the inbox row is written so redeliveries stay silent.
func (s *Service) loadOrAbsorb(ctx context.Context, tx Tx, env events.Envelope) (*Payment, error) {
	p, err := tx.GetPayment(ctx, env.AggregateID)
	if errors.Is(err, ErrNotFound) {
		log.WithFields(log.Fields{"payment_id": env.AggregateID, "event_id": env.EventID}).
			Warn("event references unknown payment")
		return nil, tx.MarkInbox(ctx, env.EventID)
	}
	return p, err
}

func (s *Service) skipDuplicate(topic, eventID string) {
	log.WithFields(log.Fields{"topic": topic, "event_id": eventID}).Info("duplicate event skipped")
	metrics.DuplicateEventsSkippedTotal.WithLabelValues(s.Service, topic).Inc()
}

func (s *Service) observeTerminal(p *Payment, terminal Status) {
	if p.CreatedAt.IsZero() {
		return
	}
	var elapsed = time.Since(p.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	metrics.PaymentE2ESeconds.WithLabelValues(s.Service, string(terminal)).Observe(elapsed.Seconds())
}

// HandleRiskApproved moves the payment to APPROVED and requests provider
// authorization.
func (s *Service) HandleRiskApproved(ctx context.Context, env events.Envelope) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
			return err
		} else if seen {
			s.skipDuplicate(events.TopicRiskApproved, env.EventID)
			return nil
		}
		p, err := s.loadOrAbsorb(ctx, tx, env)
		if err != nil || p == nil {
			return err
		}
		if err := s.transition(ctx, tx, p, StatusApproved, "risk_approved", env.EventID); err != nil {
			return err
		}
		if err := tx.MarkInbox(ctx, env.EventID); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, events.TopicProviderAuthorizeRequest, events.NewEnvelope(
			events.TopicProviderAuthorizeRequest, p.PaymentID, env.TraceID,
			map[string]interface{}{
				"amount_cents": p.AmountCents,
				"currency":     p.Currency,
				"customer_id":  p.CustomerID,
			}))
	})
}

// HandleRiskDenied routes DENY to FAILED and REVIEW to RISK_REVIEW. The
// decision payload field, not the topic, distinguishes the two.
func (s *Service) HandleRiskDenied(ctx context.Context, env events.Envelope) error {
	var denied bool
	var err = s.Store.InTx(ctx, func(tx Tx) error {
		if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
			return err
		} else if seen {
			s.skipDuplicate(events.TopicRiskDenied, env.EventID)
			return nil
		}
		p, err := s.loadOrAbsorb(ctx, tx, env)
		if err != nil || p == nil {
			return err
		}
		var target, reason = StatusFailed, "risk_denied"
		if env.PayloadString("decision") == "REVIEW" {
			target, reason = StatusRiskReview, "risk_review_required"
		}
		if err := s.transition(ctx, tx, p, target, reason, env.EventID); err != nil {
			return err
		}
		denied = target == StatusFailed
		if denied {
			s.observeTerminal(p, StatusFailed)
		}
		return tx.MarkInbox(ctx, env.EventID)
	})
	if err == nil && denied {
		metrics.PaymentFailureTotal.WithLabelValues(s.Service).Inc()
	}
	return err
}

// HandleAuthorized records the provider attempt and applies the
// AUTHORIZED→CAPTURED pair of transitions. Both timeline rows share the
// triggering event id.
func (s *Service) HandleAuthorized(ctx context.Context, env events.Envelope) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
			return err
		} else if seen {
			s.skipDuplicate(events.TopicPaymentsAuthorized, env.EventID)
			return nil
		}
		p, err := s.loadOrAbsorb(ctx, tx, env)
		if err != nil || p == nil {
			return err
		}
		if err := s.transition(ctx, tx, p, StatusAuthorized, "provider_authorized", env.EventID); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, p, StatusCaptured, "capture_requested", env.EventID); err != nil {
			return err
		}
		if err := tx.InsertAttempt(ctx, Attempt{
			PaymentID:     p.PaymentID,
			AttemptNumber: env.PayloadInt("attempt_number", 1),
			Result:        "AUTHORIZED",
			LatencyMs:     env.PayloadInt("latency_ms", 0),
		}); err != nil {
			return err
		}
		if err := tx.MarkInbox(ctx, env.EventID); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, events.TopicPaymentsCaptured, events.NewEnvelope(
			events.TopicPaymentsCaptured, p.PaymentID, env.TraceID,
			map[string]interface{}{
				"amount_cents": p.AmountCents,
				"currency":     p.Currency,
				"customer_id":  p.CustomerID,
			}))
	})
}

// HandleFailed records the failed attempt, transitions to FAILED unless
// already there, and compensates terminal provider timeouts by reversing the
// payment and emitting payments.reversed.
func (s *Service) HandleFailed(ctx context.Context, env events.Envelope) error {
	var handled bool
	var terminal *Payment
	var err = s.Store.InTx(ctx, func(tx Tx) error {
		if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
			return err
		} else if seen {
			s.skipDuplicate(events.TopicPaymentsFailed, env.EventID)
			return nil
		}
		p, err := s.loadOrAbsorb(ctx, tx, env)
		if err != nil || p == nil {
			return err
		}
		var errorCode = env.PayloadString("error_code")
		if errorCode == "" {
			errorCode = "UNKNOWN"
		}
		if p.Status != StatusFailed {
			var reason = "provider_failed:" + errorCode
			if err := s.transition(ctx, tx, p, StatusFailed, reason, env.EventID); err != nil {
				return err
			}
		}
		if err := tx.InsertAttempt(ctx, Attempt{
			PaymentID:     p.PaymentID,
			AttemptNumber: env.PayloadInt("attempt_number", 1),
			Result:        "FAILED",
			LatencyMs:     env.PayloadInt("latency_ms", 0),
			ErrorCode:     errorCode,
		}); err != nil {
			return err
		}
		// Compensation: a terminal provider timeout auto-reverses the payment.
		if errorCode == "PROVIDER_TIMEOUT" {
			if err := s.transition(ctx, tx, p, StatusReversed, "provider_timeout_compensation", env.EventID); err != nil {
				return err
			}
			if err := tx.EnqueueOutbox(ctx, events.TopicPaymentsReversed, events.NewEnvelope(
				events.TopicPaymentsReversed, p.PaymentID, env.TraceID,
				map[string]interface{}{
					"reason":          "provider_timeout_compensation",
					"source_event_id": env.EventID,
				})); err != nil {
				return err
			}
		}
		handled, terminal = true, p
		return tx.MarkInbox(ctx, env.EventID)
	})
	if err == nil && handled {
		s.observeTerminal(terminal, terminal.Status)
		metrics.PaymentFailureTotal.WithLabelValues(s.Service).Inc()
	}
	return err
}

// HandleSettled marks a payment SETTLED once the ledger has posted balanced
// entries.
func (s *Service) HandleSettled(ctx context.Context, env events.Envelope) error {
	var settled *Payment
	var err = s.Store.InTx(ctx, func(tx Tx) error {
		if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
			return err
		} else if seen {
			s.skipDuplicate(events.TopicPaymentsSettled, env.EventID)
			return nil
		}
		p, err := s.loadOrAbsorb(ctx, tx, env)
		if err != nil || p == nil {
			return err
		}
		if err := s.transition(ctx, tx, p, StatusSettled, "ledger_settled", env.EventID); err != nil {
			return err
		}
		settled = p
		return tx.MarkInbox(ctx, env.EventID)
	})
	if err == nil && settled != nil {
		s.observeTerminal(settled, StatusSettled)
		metrics.PaymentSuccessTotal.WithLabelValues(s.Service).Inc()
	}
	return err
}

// Subscriptions returns the topic/group/handler wiring for this service.
func (s *Service) Subscriptions() []events.Subscription {
	return []events.Subscription{
		{Topic: events.TopicRiskApproved, Group: "orchestrator-risk-approved", Handler: s.HandleRiskApproved},
		{Topic: events.TopicRiskDenied, Group: "orchestrator-risk-denied", Handler: s.HandleRiskDenied},
		{Topic: events.TopicPaymentsAuthorized, Group: "orchestrator-authorized", Handler: s.HandleAuthorized},
		{Topic: events.TopicPaymentsFailed, Group: "orchestrator-failed", Handler: s.HandleFailed},
		{Topic: events.TopicPaymentsSettled, Group: "orchestrator-settled", Handler: s.HandleSettled},
	}
}
