package events

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/metrics"
)

// Subscription binds one topic and consumer group to a handler.
type Subscription struct {
	Topic   string
	Group   string
	Handler Handler
}

// Handler processes one decoded envelope. A returned error is logged and the
// message is still committed: redelivery protection is the job of the
// consumer's transactional inbox, not of offset management.
type Handler func(ctx context.Context, env Envelope) error

// RunConsumer consumes one topic under one consumer group until ctx is
// canceled. Delivery is at-least-once: offsets are committed in batches after
// processing, and a crash between handler commit and offset commit results in
// a redelivery that the inbox dedupes.
func RunConsumer(ctx context.Context, brokers []string, topic, group, service string, handler Handler) error {
	var cfg = sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true

	cg, err := sarama.NewConsumerGroup(brokers, group, cfg)
	if err != nil {
		return err
	}
	defer cg.Close()

	go func() {
		for err := range cg.Errors() {
			log.WithFields(log.Fields{"topic": topic, "group": group, "err": err}).
				Error("consumer group error")
		}
	}()

	var h = &groupHandler{
		topic:   topic,
		group:   group,
		service: service,
		handler: handler,
	}
	for {
		// Consume blocks through one session; it returns on rebalance and
		// must be called again to rejoin with fresh claims.
		if err := cg.Consume(ctx, []string{topic}, h); err != nil {
			log.WithFields(log.Fields{"topic": topic, "group": group, "err": err}).
				Error("consumer session failed")
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

type groupHandler struct {
	topic   string
	group   string
	service string
	handler Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks each processed message and commits offsets on a short
// cadence, batching commits across the messages of one poll.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	var ticker = time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var dirty bool
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				if dirty {
					sess.Commit()
				}
				return nil
			}
			h.process(sess.Context(), msg)
			sess.MarkMessage(msg, "")
			dirty = true
		case <-ticker.C:
			if dirty {
				sess.Commit()
				dirty = false
			}
		case <-sess.Context().Done():
			if dirty {
				sess.Commit()
			}
			return nil
		}
	}
}

func (h *groupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	env, err := Unmarshal(msg.Value)
	if err != nil {
		log.WithFields(log.Fields{"topic": h.topic, "group": h.group, "offset": msg.Offset, "err": err}).
			Error("dropping undecodable message")
		return
	}

	var delay = time.Since(env.OccurredAt)
	if delay < 0 {
		delay = 0
	}
	metrics.EventQueueDelaySeconds.WithLabelValues(h.service, h.topic).Observe(delay.Seconds())

	var entry = log.WithFields(log.Fields{
		"topic":        h.topic,
		"group":        h.group,
		"event_type":   env.EventType,
		"event_id":     env.EventID,
		"aggregate_id": env.AggregateID,
		"trace_id":     env.TraceID,
	})
	entry.Info("event received")

	if err := h.handler(ctx, env); err != nil {
		// The message stays committed; the failed transaction rolled back and
		// a later redelivery (or operator replay) retries it.
		entry.WithField("offset", msg.Offset).WithError(err).Error("handler failed")
	}
}
