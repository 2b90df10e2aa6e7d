package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sagapay/core/go/events"
)

// memStore implements Store and Tx over maps. Commit semantics are
// approximated: handler errors leave whatever the fake already applied, which
// is fine for asserting the success paths and the returned errors.
type memStore struct {
	payments map[string]*Payment
	inbox    map[string]bool
	timeline []TimelineEntry
	attempts []Attempt
	outbox   []outboxRecord

	// updateRows overrides the conditional-update rowcount when set.
	updateRows *int64
}

type outboxRecord struct {
	topic string
	env   events.Envelope
}

func newMemStore() *memStore {
	return &memStore{
		payments: map[string]*Payment{},
		inbox:    map[string]bool{},
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error { return fn(m) }

func (m *memStore) GetPayment(_ context.Context, id string) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	var cp = *p
	return &cp, nil
}

func (m *memStore) InboxSeen(_ context.Context, eventID string) (bool, error) {
	return m.inbox[eventID], nil
}

func (m *memStore) MarkInbox(_ context.Context, eventID string) error {
	m.inbox[eventID] = true
	return nil
}

func (m *memStore) FindByIdempotencyKey(_ context.Context, key string) (*Payment, error) {
	for _, p := range m.payments {
		if p.IdempotencyKey == key {
			var cp = *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) InsertPayment(_ context.Context, p *Payment) error {
	p.CreatedAt = time.Now().UTC()
	var cp = *p
	m.payments[p.PaymentID] = &cp
	return nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, id string, from Status, fromVersion int64, to Status) (int64, error) {
	if m.updateRows != nil {
		return *m.updateRows, nil
	}
	p, ok := m.payments[id]
	if !ok || p.Status != from || p.StateVersion != fromVersion {
		return 0, nil
	}
	p.Status = to
	p.StateVersion++
	return 1, nil
}

func (m *memStore) AppendTimeline(_ context.Context, e TimelineEntry) error {
	m.timeline = append(m.timeline, e)
	return nil
}

func (m *memStore) InsertAttempt(_ context.Context, a Attempt) error {
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memStore) EnqueueOutbox(_ context.Context, topic string, env events.Envelope) error {
	m.outbox = append(m.outbox, outboxRecord{topic: topic, env: env})
	return nil
}

func (m *memStore) seed(status Status, version int64) *Payment {
	var p = &Payment{
		PaymentID:      "pay-1",
		CustomerID:     "cust-1",
		AmountCents:    5000,
		Currency:       "USD",
		Status:         status,
		StateVersion:   version,
		IdempotencyKey: "key-12345",
		CreatedAt:      time.Now().UTC(),
	}
	m.payments[p.PaymentID] = p
	return p
}

func envelopeFor(topic, paymentID string, payload map[string]interface{}) events.Envelope {
	return events.NewEnvelope(topic, paymentID, "trace-1", payload)
}

func TestCreatePayment(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}

	p, err := svc.CreatePayment(context.Background(), CreateRequest{
		CustomerID:     "cust-1",
		AmountCents:    5000,
		Currency:       "usd",
		IdempotencyKey: "key-12345",
	}, "trace-1")
	require.NoError(t, err)
	require.Equal(t, StatusCreated, p.Status)
	require.Equal(t, "USD", p.Currency)
	require.Equal(t, int64(0), p.StateVersion)

	require.Len(t, m.timeline, 1)
	require.Equal(t, "payment_created", m.timeline[0].Reason)

	require.Len(t, m.outbox, 1)
	require.Equal(t, events.TopicPaymentsRequested, m.outbox[0].topic)
	require.Equal(t, p.PaymentID, m.outbox[0].env.AggregateID)
	require.Equal(t, "cust-1", m.outbox[0].env.PayloadString("customer_id"))
}

func TestCreatePaymentIdempotent(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}

	first, err := svc.CreatePayment(context.Background(), CreateRequest{
		CustomerID: "cust-1", AmountCents: 5000, Currency: "USD", IdempotencyKey: "key-12345",
	}, "trace-1")
	require.NoError(t, err)

	second, err := svc.CreatePayment(context.Background(), CreateRequest{
		CustomerID: "cust-1", AmountCents: 5000, Currency: "USD", IdempotencyKey: "key-12345",
	}, "trace-2")
	require.NoError(t, err)
	require.Equal(t, first.PaymentID, second.PaymentID)

	// No second requested event, no second timeline row.
	require.Len(t, m.outbox, 1)
	require.Len(t, m.timeline, 1)
}

func TestHandleRiskApproved(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusCreated, 0)

	var env = envelopeFor(events.TopicRiskApproved, "pay-1", map[string]interface{}{
		"decision": "APPROVE", "reason": "rule_passed",
	})
	require.NoError(t, svc.HandleRiskApproved(context.Background(), env))

	require.Equal(t, StatusApproved, m.payments["pay-1"].Status)
	require.Equal(t, int64(1), m.payments["pay-1"].StateVersion)
	require.True(t, m.inbox[env.EventID])

	require.Len(t, m.outbox, 1)
	require.Equal(t, events.TopicProviderAuthorizeRequest, m.outbox[0].topic)
	require.Equal(t, int64(5000), m.outbox[0].env.PayloadInt("amount_cents", 0))
}

func TestHandleRiskDeniedRoutesByDecision(t *testing.T) {
	var cases = []struct {
		decision string
		want     Status
		reason   string
	}{
		{"DENY", StatusFailed, "risk_denied"},
		{"REVIEW", StatusRiskReview, "risk_review_required"},
	}
	for _, tc := range cases {
		var m = newMemStore()
		var svc = &Service{Store: m, Service: "orchestrator"}
		m.seed(StatusCreated, 0)

		var env = envelopeFor(events.TopicRiskDenied, "pay-1", map[string]interface{}{
			"decision": tc.decision,
		})
		require.NoError(t, svc.HandleRiskDenied(context.Background(), env))
		require.Equal(t, tc.want, m.payments["pay-1"].Status)
		require.Len(t, m.timeline, 1)
		require.Equal(t, tc.reason, m.timeline[0].Reason)
	}
}

func TestHandleAuthorizedAppliesBothTransitions(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusApproved, 2)

	var env = envelopeFor(events.TopicPaymentsAuthorized, "pay-1", map[string]interface{}{
		"attempt_number": 2, "latency_ms": 133,
	})
	require.NoError(t, svc.HandleAuthorized(context.Background(), env))

	require.Equal(t, StatusCaptured, m.payments["pay-1"].Status)
	require.Equal(t, int64(4), m.payments["pay-1"].StateVersion)

	// Two timeline rows, both carrying the same triggering event id.
	require.Len(t, m.timeline, 2)
	require.Equal(t, StatusAuthorized, m.timeline[0].ToState)
	require.Equal(t, StatusCaptured, m.timeline[1].ToState)
	require.Equal(t, env.EventID, m.timeline[0].EventID)
	require.Equal(t, env.EventID, m.timeline[1].EventID)

	require.Len(t, m.attempts, 1)
	require.Equal(t, "AUTHORIZED", m.attempts[0].Result)
	require.Equal(t, int64(2), m.attempts[0].AttemptNumber)

	require.Len(t, m.outbox, 1)
	require.Equal(t, events.TopicPaymentsCaptured, m.outbox[0].topic)
}

func TestHandleFailedDecline(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusApproved, 2)

	var env = envelopeFor(events.TopicPaymentsFailed, "pay-1", map[string]interface{}{
		"attempt_number": 1, "latency_ms": 80, "error_code": "PROVIDER_DECLINE",
	})
	require.NoError(t, svc.HandleFailed(context.Background(), env))

	require.Equal(t, StatusFailed, m.payments["pay-1"].Status)
	require.Len(t, m.timeline, 1)
	require.Equal(t, "provider_failed:PROVIDER_DECLINE", m.timeline[0].Reason)
	require.Len(t, m.attempts, 1)
	require.Equal(t, "PROVIDER_DECLINE", m.attempts[0].ErrorCode)
	require.Empty(t, m.outbox)
}

func TestHandleFailedTimeoutCompensates(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusApproved, 2)

	var env = envelopeFor(events.TopicPaymentsFailed, "pay-1", map[string]interface{}{
		"attempt_number": 3, "error_code": "PROVIDER_TIMEOUT",
	})
	require.NoError(t, svc.HandleFailed(context.Background(), env))

	require.Equal(t, StatusReversed, m.payments["pay-1"].Status)
	require.Len(t, m.timeline, 2)
	require.Equal(t, "provider_failed:PROVIDER_TIMEOUT", m.timeline[0].Reason)
	require.Equal(t, "provider_timeout_compensation", m.timeline[1].Reason)

	require.Len(t, m.outbox, 1)
	require.Equal(t, events.TopicPaymentsReversed, m.outbox[0].topic)
	require.Equal(t, "provider_timeout_compensation", m.outbox[0].env.PayloadString("reason"))
	require.Equal(t, env.EventID, m.outbox[0].env.PayloadString("source_event_id"))
}

func TestHandleSettled(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusCaptured, 4)

	var env = envelopeFor(events.TopicPaymentsSettled, "pay-1", map[string]interface{}{
		"transaction_id": "settlement:pay-1", "amount_cents": 5000,
	})
	require.NoError(t, svc.HandleSettled(context.Background(), env))
	require.Equal(t, StatusSettled, m.payments["pay-1"].Status)
	require.Empty(t, m.outbox)
}

func TestHandlerSkipsDuplicate(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusCreated, 0)

	var env = envelopeFor(events.TopicRiskApproved, "pay-1", nil)
	m.inbox[env.EventID] = true

	require.NoError(t, svc.HandleRiskApproved(context.Background(), env))
	require.Equal(t, StatusCreated, m.payments["pay-1"].Status)
	require.Empty(t, m.outbox)
}

func TestHandlerAbsorbsUnknownPayment(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}

	var env = envelopeFor(events.TopicRiskApproved, "pay-missing", nil)
	require.NoError(t, svc.HandleRiskApproved(context.Background(), env))

	// The inbox row is written so a redelivery stays silent.
	require.True(t, m.inbox[env.EventID])
	require.Empty(t, m.outbox)
}

func TestConcurrencyConflict(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusCreated, 0)
	var zero int64
	m.updateRows = &zero

	var env = envelopeFor(events.TopicRiskApproved, "pay-1", nil)
	var err = svc.HandleRiskApproved(context.Background(), env)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestInvalidTransitionRejected(t *testing.T) {
	var m = newMemStore()
	var svc = &Service{Store: m, Service: "orchestrator"}
	m.seed(StatusSettled, 5)

	var env = envelopeFor(events.TopicRiskApproved, "pay-1", nil)
	var err = svc.HandleRiskApproved(context.Background(), env)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
