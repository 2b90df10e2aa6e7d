// Package outbox runs the publisher loop that drains each service's
// transactional outbox into the event bus.
package outbox

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/metrics"
	"github.com/sagapay/core/go/store"
)

// Queue abstracts one service's outbox table. The production implementation
// is store.OutboxQueue.
type Queue interface {
	Claim(ctx context.Context, limit int, processingTimeout time.Duration) ([]store.OutboxRow, error)
	MarkSent(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) error
	Backlog(ctx context.Context) (int64, time.Duration, error)
}

// Publisher claims outbox rows and publishes them to the bus. Claim and
// publish are split across transactions: publishing is the one
// non-transactional side effect, and a crash mid-flight leaves rows in
// PROCESSING where the stale-claim window recovers them.
type Publisher struct {
	Queue   Queue
	Bus     events.Bus
	Service string

	// Zero values select the defaults below.
	BatchSize         int
	Interval          time.Duration
	ProcessingTimeout time.Duration
}

const (
	defaultBatchSize         = 100
	defaultInterval          = 500 * time.Millisecond
	defaultProcessingTimeout = 30 * time.Second
)

// Run iterates until ctx is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	var batch = p.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	var interval = p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	var timeout = p.ProcessingTimeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}

	for {
		p.runOnce(ctx, batch, timeout)
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Publisher) runOnce(ctx context.Context, batch int, timeout time.Duration) {
	rows, err := p.Queue.Claim(ctx, batch, timeout)
	if err != nil {
		if ctx.Err() == nil {
			log.WithFields(log.Fields{"service": p.Service, "err": err}).Error("outbox claim failed")
		}
		return
	}
	p.updateBacklogGauges(ctx)

	for _, row := range rows {
		env, err := events.Unmarshal(row.Payload)
		if err != nil {
			// An undecodable payload can never publish; requeueing it would
			// loop forever, so surface loudly and park it back as PENDING for
			// operator attention.
			log.WithFields(log.Fields{"service": p.Service, "outbox_id": row.ID, "err": err}).
				Error("outbox payload undecodable")
			p.requeue(ctx, row.ID)
			continue
		}
		if err := p.Bus.Publish(ctx, row.Topic, env); err != nil {
			log.WithFields(log.Fields{
				"service":   p.Service,
				"outbox_id": row.ID,
				"topic":     row.Topic,
				"err":       err,
			}).Error("outbox publish failed")
			p.requeue(ctx, row.ID)
			continue
		}
		if err := p.Queue.MarkSent(ctx, row.ID); err != nil {
			log.WithFields(log.Fields{"service": p.Service, "outbox_id": row.ID, "err": err}).
				Error("marking outbox row sent failed")
		}
	}
	if len(rows) > 0 {
		p.updateBacklogGauges(ctx)
	}
}

func (p *Publisher) requeue(ctx context.Context, id string) {
	if err := p.Queue.Requeue(ctx, id); err != nil {
		log.WithFields(log.Fields{"service": p.Service, "outbox_id": id, "err": err}).
			Error("requeueing outbox row failed")
	}
}

func (p *Publisher) updateBacklogGauges(ctx context.Context) {
	pending, oldestAge, err := p.Queue.Backlog(ctx)
	if err != nil {
		return
	}
	metrics.OutboxPendingTotal.WithLabelValues(p.Service).Set(float64(pending))
	metrics.OutboxOldestPendingAgeSeconds.WithLabelValues(p.Service).Set(oldestAge.Seconds())
}
