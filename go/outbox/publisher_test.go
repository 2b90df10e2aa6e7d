package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/store"
)

type fakeQueue struct {
	rows     []store.OutboxRow
	sent     []string
	requeued []string
}

func (q *fakeQueue) Claim(context.Context, int, time.Duration) ([]store.OutboxRow, error) {
	var rows = q.rows
	q.rows = nil
	return rows, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id string) error {
	q.sent = append(q.sent, id)
	return nil
}

func (q *fakeQueue) Requeue(_ context.Context, id string) error {
	q.requeued = append(q.requeued, id)
	return nil
}

func (q *fakeQueue) Backlog(context.Context) (int64, time.Duration, error) {
	return int64(len(q.rows)), 0, nil
}

type fakeBus struct {
	published []string
	fail      map[string]bool
}

func (b *fakeBus) Publish(_ context.Context, topic string, env events.Envelope) error {
	if b.fail[env.EventID] {
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, topic)
	return nil
}

func (b *fakeBus) Close() error { return nil }

func row(t *testing.T, id, topic string) (store.OutboxRow, events.Envelope) {
	t.Helper()
	var env = events.NewEnvelope(topic, "pay-1", "trace-1", map[string]interface{}{"k": "v"})
	payload, err := env.Marshal()
	require.NoError(t, err)
	return store.OutboxRow{ID: id, Topic: topic, Payload: payload}, env
}

func TestPublisherMarksSent(t *testing.T) {
	var q = &fakeQueue{}
	var b = &fakeBus{}
	r1, _ := row(t, "row-1", events.TopicPaymentsRequested)
	r2, _ := row(t, "row-2", events.TopicRiskApproved)
	q.rows = []store.OutboxRow{r1, r2}

	var p = &Publisher{Queue: q, Bus: b, Service: "orchestrator"}
	p.runOnce(context.Background(), 100, 30*time.Second)

	require.Equal(t, []string{events.TopicPaymentsRequested, events.TopicRiskApproved}, b.published)
	require.Equal(t, []string{"row-1", "row-2"}, q.sent)
	require.Empty(t, q.requeued)
}

func TestPublisherRequeuesOnPublishFailure(t *testing.T) {
	var q = &fakeQueue{}
	r1, env1 := row(t, "row-1", events.TopicPaymentsRequested)
	r2, _ := row(t, "row-2", events.TopicRiskApproved)
	q.rows = []store.OutboxRow{r1, r2}
	var b = &fakeBus{fail: map[string]bool{env1.EventID: true}}

	var p = &Publisher{Queue: q, Bus: b, Service: "orchestrator"}
	p.runOnce(context.Background(), 100, 30*time.Second)

	// The failed row goes back to PENDING; the rest of the batch proceeds.
	require.Equal(t, []string{"row-1"}, q.requeued)
	require.Equal(t, []string{"row-2"}, q.sent)
	require.Equal(t, []string{events.TopicRiskApproved}, b.published)
}

func TestPublisherParksUndecodableRow(t *testing.T) {
	var q = &fakeQueue{rows: []store.OutboxRow{{ID: "row-1", Topic: "t", Payload: []byte("{broken")}}}
	var b = &fakeBus{}

	var p = &Publisher{Queue: q, Bus: b, Service: "orchestrator"}
	p.runOnce(context.Background(), 100, 30*time.Second)

	require.Empty(t, b.published)
	require.Empty(t, q.sent)
	require.Equal(t, []string{"row-1"}, q.requeued)
}
