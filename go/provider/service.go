package provider

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/metrics"
)

// Store is the provider adapter's persistence boundary.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations available inside one provider transaction.
type Tx interface {
	InboxSeen(ctx context.Context, eventID string) (bool, error)
	MarkInbox(ctx context.Context, eventID string) error
	InsertAttempt(ctx context.Context, a *Attempt) error
	EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error
}

const maxAttempts = 3

// Service runs the authorize loop for consumed requests.
type Service struct {
	Store    Store
	Outcomer Outcomer
	Service  string

	// Sleep is overridable so tests can skip the backoff waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// HandleAuthorizeRequested processes one authorize request. The inbox row is
// committed before the attempt loop runs: the request is received exactly
// once, attempts are best-effort with bounded retries.
func (s *Service) HandleAuthorizeRequested(ctx context.Context, env events.Envelope) error {
	var duplicate bool
	var err = s.Store.InTx(ctx, func(tx Tx) error {
		seen, err := tx.InboxSeen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			duplicate = true
			return nil
		}
		return tx.MarkInbox(ctx, env.EventID)
	})
	if err != nil {
		return err
	}
	if duplicate {
		log.WithFields(log.Fields{"topic": events.TopicProviderAuthorizeRequest, "event_id": env.EventID}).
			Info("duplicate event skipped")
		metrics.DuplicateEventsSkippedTotal.WithLabelValues(s.Service, events.TopicProviderAuthorizeRequest).Inc()
		return nil
	}

	var customerID = env.PayloadString("customer_id")
	var currency = env.PayloadString("currency")
	var amountCents = env.PayloadInt("amount_cents", 0)
	if customerID == "" || len(currency) != 3 || amountCents <= 0 {
		return s.publishDLQ(ctx, env, "invalid authorize payload", "NON_RETRYABLE", false, nil)
	}

	var fields = log.Fields{"payment_id": env.AggregateID, "trace_id": env.TraceID}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, latencyMs := s.Outcomer.Outcome(customerID)
		fields["attempt"] = attempt
		fields["outcome"] = outcome
		log.WithFields(fields).Info("provider attempt")

		switch outcome {
		case OutcomeSuccess:
			return s.finishAttempt(ctx, env, &Attempt{
				PaymentID:     env.AggregateID,
				AttemptNumber: attempt,
				Result:        ResultAuthorized,
				LatencyMs:     latencyMs,
			}, events.TopicPaymentsAuthorized, map[string]interface{}{
				"attempt_number": attempt,
				"latency_ms":     latencyMs,
			})
		case OutcomeDecline:
			return s.finishAttempt(ctx, env, &Attempt{
				PaymentID:     env.AggregateID,
				AttemptNumber: attempt,
				Result:        ResultFailed,
				LatencyMs:     latencyMs,
				ErrorCode:     ErrCodeDecline,
			}, events.TopicPaymentsFailed, map[string]interface{}{
				"attempt_number": attempt,
				"latency_ms":     latencyMs,
				"error_code":     ErrCodeDecline,
			})
		case OutcomeTimeout:
			metrics.RetriesTotal.WithLabelValues(s.Service, "provider").Inc()
			if attempt < maxAttempts {
				// Backoff schedule is 1, 2, 4 seconds.
				if err := s.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unknown provider outcome %q", outcome)
		}
	}

	// All attempts timed out. The business failure and the replayable DLQ
	// record are committed together.
	return s.Store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertAttempt(ctx, &Attempt{
			PaymentID:     env.AggregateID,
			AttemptNumber: maxAttempts,
			Result:        ResultFailed,
			ErrorCode:     ErrCodeTimeout,
		}); err != nil {
			return err
		}
		var failed = events.NewEnvelope(events.TopicPaymentsFailed, env.AggregateID, env.TraceID,
			map[string]interface{}{
				"attempt_number": maxAttempts,
				"latency_ms":     int64(0),
				"error_code":     ErrCodeTimeout,
			})
		if err := tx.EnqueueOutbox(ctx, events.TopicPaymentsFailed, failed); err != nil {
			return err
		}
		return s.enqueueDLQ(ctx, tx, env, "authorize retries exhausted", "RETRY_EXHAUSTED", true, &env)
	})
}

func (s *Service) finishAttempt(ctx context.Context, env events.Envelope, a *Attempt, topic string, payload map[string]interface{}) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertAttempt(ctx, a); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, topic,
			events.NewEnvelope(topic, env.AggregateID, env.TraceID, payload))
	})
}

func (s *Service) publishDLQ(ctx context.Context, env events.Envelope, reason, errorType string, retryable bool, failedEvent *events.Envelope) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		return s.enqueueDLQ(ctx, tx, env, reason, errorType, retryable, failedEvent)
	})
}

func (s *Service) enqueueDLQ(ctx context.Context, tx Tx, env events.Envelope, reason, errorType string, retryable bool, failedEvent *events.Envelope) error {
	var payload = map[string]interface{}{
		"reason":          reason,
		"error_type":      errorType,
		"retryable":       retryable,
		"source":          s.Service,
		"source_event_id": env.EventID,
	}
	if failedEvent != nil {
		payload["replay_topic"] = events.TopicProviderAuthorizeRequest
		payload["failed_event"] = *failedEvent
	}
	log.WithFields(log.Fields{
		"payment_id": env.AggregateID,
		"error_type": errorType,
		"reason":     reason,
	}).Warn("publishing to DLQ")
	metrics.DLQPublishedTotal.WithLabelValues(s.Service, events.TopicPaymentsDLQ, errorType).Inc()
	return tx.EnqueueOutbox(ctx, events.TopicPaymentsDLQ,
		events.NewEnvelope(events.TopicPaymentsDLQ, env.AggregateID, env.TraceID, payload))
}

// Subscriptions returns the topic/group/handler wiring for this service.
func (s *Service) Subscriptions() []events.Subscription {
	return []events.Subscription{
		{Topic: events.TopicProviderAuthorizeRequest, Group: "provider-authorize-requested", Handler: s.HandleAuthorizeRequested},
	}
}
