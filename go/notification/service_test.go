package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sagapay/core/go/events"
)

type memStore struct {
	inbox map[string]bool
	rows  []Notification
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error { return fn(m) }

func (m *memStore) InboxSeen(_ context.Context, eventID string) (bool, error) {
	return m.inbox[eventID], nil
}

func (m *memStore) MarkInbox(_ context.Context, eventID string) error {
	m.inbox[eventID] = true
	return nil
}

func (m *memStore) InsertNotification(_ context.Context, n *Notification) error {
	m.rows = append(m.rows, *n)
	return nil
}

func TestTerminalEventWritesNotification(t *testing.T) {
	var m = &memStore{inbox: map[string]bool{}}
	var svc = &Service{Store: m, Service: "notification"}

	var env = events.NewEnvelope(events.TopicPaymentsSettled, "pay-1", "trace-1",
		map[string]interface{}{"transaction_id": "settlement:pay-1", "amount_cents": 5000})

	var subs = svc.Subscriptions()
	require.Len(t, subs, 3)
	require.NoError(t, subs[0].Handler(context.Background(), env))

	require.Len(t, m.rows, 1)
	require.Equal(t, "pay-1", m.rows[0].PaymentID)
	require.Equal(t, "webhook", m.rows[0].Channel)
	require.Equal(t, "Payment pay-1 event=payments.settled", m.rows[0].Message)
	require.True(t, m.inbox[env.EventID])

	// Redelivery writes nothing.
	require.NoError(t, subs[0].Handler(context.Background(), env))
	require.Len(t, m.rows, 1)
}
