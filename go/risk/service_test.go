package risk

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sagapay/core/go/events"
)

type memStore struct {
	inbox   map[string]bool
	reviews map[string]*Review
	outbox  []memOutbox
}

type memOutbox struct {
	topic string
	env   events.Envelope
}

func newMemStore() *memStore {
	return &memStore{inbox: map[string]bool{}, reviews: map[string]*Review{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error { return fn(m) }

func (m *memStore) ListReviews(_ context.Context, status string, limit int) ([]Review, error) {
	var out []Review
	for _, r := range m.reviews {
		if r.Status == status && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) InboxSeen(_ context.Context, eventID string) (bool, error) {
	return m.inbox[eventID], nil
}

func (m *memStore) MarkInbox(_ context.Context, eventID string) error {
	m.inbox[eventID] = true
	return nil
}

func (m *memStore) GetReviewByPayment(_ context.Context, paymentID string) (*Review, error) {
	r, ok := m.reviews[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	var cp = *r
	return &cp, nil
}

func (m *memStore) InsertReview(_ context.Context, r *Review) error {
	r.ReviewID = "rev-" + r.PaymentID
	r.CreatedAt = time.Now().UTC()
	var cp = *r
	m.reviews[r.PaymentID] = &cp
	return nil
}

func (m *memStore) FinalizeReview(_ context.Context, paymentID, status, reviewedBy, decisionEventID string, reviewedAt time.Time) error {
	r, ok := m.reviews[paymentID]
	if !ok || r.Status != "PENDING" {
		return ErrReviewFinalized
	}
	r.Status = status
	r.ReviewedBy = reviewedBy
	r.ReviewedAt = &reviewedAt
	r.DecisionEventID = decisionEventID
	return nil
}

func (m *memStore) EnqueueOutbox(_ context.Context, topic string, env events.Envelope) error {
	m.outbox = append(m.outbox, memOutbox{topic: topic, env: env})
	return nil
}

type staticStatuses struct{ status string }

func (s staticStatuses) PaymentStatus(context.Context, string) (string, error) {
	return s.status, nil
}

func newService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	var mr = miniredis.RunT(t)
	var m = newMemStore()
	var svc = &Service{
		Store: m,
		Engine: &Engine{
			Redis:                  redis.NewClient(&redis.Options{Addr: mr.Addr()}),
			VelocityPerHour:        20,
			ReviewAmountCents:      100000,
			DenyFrequencyThreshold: 50,
		},
		Statuses: staticStatuses{status: "RISK_REVIEW"},
		Service:  "risk",
	}
	return svc, m
}

func requested(paymentID, customerID string, amount int64) events.Envelope {
	return events.NewEnvelope(events.TopicPaymentsRequested, paymentID, "trace-1",
		map[string]interface{}{
			"customer_id":  customerID,
			"amount_cents": amount,
			"currency":     "USD",
		})
}

func TestHandlePaymentRequestedApproves(t *testing.T) {
	var svc, m = newService(t)

	require.NoError(t, svc.HandlePaymentRequested(context.Background(), requested("pay-1", "cust-1", 5000)))

	require.Len(t, m.outbox, 1)
	require.Equal(t, events.TopicRiskApproved, m.outbox[0].topic)
	require.Equal(t, "APPROVE", m.outbox[0].env.PayloadString("decision"))
	require.Equal(t, "rule_passed", m.outbox[0].env.PayloadString("reason"))
	require.Empty(t, m.reviews)
}

func TestHandlePaymentRequestedReviewInsertsRow(t *testing.T) {
	var svc, m = newService(t)

	require.NoError(t, svc.HandlePaymentRequested(context.Background(), requested("pay-1", "cust-1", 200000)))

	require.Len(t, m.outbox, 1)
	require.Equal(t, events.TopicRiskDenied, m.outbox[0].topic)
	require.Equal(t, "REVIEW", m.outbox[0].env.PayloadString("decision"))

	review, ok := m.reviews["pay-1"]
	require.True(t, ok)
	require.Equal(t, "PENDING", review.Status)
	require.Equal(t, "high_amount", review.Reason)
}

func TestHandlePaymentRequestedDuplicateSkipped(t *testing.T) {
	var svc, m = newService(t)
	var env = requested("pay-1", "cust-1", 5000)
	m.inbox[env.EventID] = true

	require.NoError(t, svc.HandlePaymentRequested(context.Background(), env))
	require.Empty(t, m.outbox)
}

func TestManualApprove(t *testing.T) {
	var svc, m = newService(t)
	m.reviews["pay-1"] = &Review{
		ReviewID: "rev-1", PaymentID: "pay-1", CustomerID: "cust-1",
		AmountCents: 200000, Reason: "high_amount", Status: "PENDING",
	}

	review, err := svc.ManualDecision(context.Background(), "pay-1", DecisionApprove, "ops@example.com", "trace-1")
	require.NoError(t, err)
	require.Equal(t, "APPROVED", review.Status)
	require.Equal(t, "ops@example.com", review.ReviewedBy)
	require.NotNil(t, review.ReviewedAt)

	require.Len(t, m.outbox, 1)
	require.Equal(t, events.TopicRiskApproved, m.outbox[0].topic)
	require.Equal(t, "manual_approve", m.outbox[0].env.PayloadString("reason"))
	require.Equal(t, m.outbox[0].env.EventID, review.DecisionEventID)
}

func TestManualDeny(t *testing.T) {
	var svc, m = newService(t)
	m.reviews["pay-1"] = &Review{PaymentID: "pay-1", Status: "PENDING"}

	review, err := svc.ManualDecision(context.Background(), "pay-1", DecisionDeny, "ops@example.com", "trace-1")
	require.NoError(t, err)
	require.Equal(t, "DENIED", review.Status)
	require.Equal(t, events.TopicRiskDenied, m.outbox[0].topic)
	require.Equal(t, "manual_deny", m.outbox[0].env.PayloadString("reason"))
}

func TestManualDecisionUnknownReview(t *testing.T) {
	var svc, _ = newService(t)
	_, err := svc.ManualDecision(context.Background(), "pay-missing", DecisionApprove, "ops", "trace-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManualDecisionAlreadyFinalized(t *testing.T) {
	var svc, m = newService(t)
	m.reviews["pay-1"] = &Review{PaymentID: "pay-1", Status: "APPROVED"}

	_, err := svc.ManualDecision(context.Background(), "pay-1", DecisionDeny, "ops", "trace-1")
	require.ErrorIs(t, err, ErrReviewFinalized)
}

func TestManualDecisionPaymentNotReviewable(t *testing.T) {
	var svc, m = newService(t)
	svc.Statuses = staticStatuses{status: "FAILED"}
	m.reviews["pay-1"] = &Review{PaymentID: "pay-1", Status: "PENDING"}

	_, err := svc.ManualDecision(context.Background(), "pay-1", DecisionApprove, "ops", "trace-1")
	require.ErrorIs(t, err, ErrPaymentNotReviewable)
	require.Empty(t, m.outbox)
}

func TestManualDecisionRejectsReview(t *testing.T) {
	var svc, _ = newService(t)
	_, err := svc.ManualDecision(context.Background(), "pay-1", DecisionReview, "ops", "trace-1")
	require.Error(t, err)
}
