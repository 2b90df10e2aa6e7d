// Package notification records a customer-facing notification for every
// terminal payment event.
package notification

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/metrics"
)

// Notification is one queued outbound message.
type Notification struct {
	NotificationID string
	PaymentID      string
	EventType      string
	Channel        string
	Message        string
	CreatedAt      time.Time
}

// Store is the notification service's persistence boundary.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations available inside one notification transaction.
type Tx interface {
	InboxSeen(ctx context.Context, eventID string) (bool, error)
	MarkInbox(ctx context.Context, eventID string) error
	InsertNotification(ctx context.Context, n *Notification) error
}

// Service consumes terminal payment events and logs notifications.
type Service struct {
	Store   Store
	Service string
}

func (s *Service) handle(topic string) events.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		return s.Store.InTx(ctx, func(tx Tx) error {
			if seen, err := tx.InboxSeen(ctx, env.EventID); err != nil {
				return err
			} else if seen {
				log.WithFields(log.Fields{"topic": topic, "event_id": env.EventID}).
					Info("duplicate event skipped")
				metrics.DuplicateEventsSkippedTotal.WithLabelValues(s.Service, topic).Inc()
				return nil
			}
			if err := tx.InsertNotification(ctx, &Notification{
				PaymentID: env.AggregateID,
				EventType: env.EventType,
				Channel:   "webhook",
				Message:   fmt.Sprintf("Payment %s event=%s", env.AggregateID, env.EventType),
			}); err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"payment_id": env.AggregateID,
				"event_type": env.EventType,
				"trace_id":   env.TraceID,
			}).Info("notification recorded")
			return tx.MarkInbox(ctx, env.EventID)
		})
	}
}

// Subscriptions returns the topic/group/handler wiring for this service.
func (s *Service) Subscriptions() []events.Subscription {
	return []events.Subscription{
		{Topic: events.TopicPaymentsSettled, Group: "notification-settled", Handler: s.handle(events.TopicPaymentsSettled)},
		{Topic: events.TopicPaymentsFailed, Group: "notification-failed", Handler: s.handle(events.TopicPaymentsFailed)},
		{Topic: events.TopicPaymentsReversed, Group: "notification-reversed", Handler: s.handle(events.TopicPaymentsReversed)},
	}
}
