package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagapay/core/go/store"
)

// Schema is the Postgres schema owned by the notification service.
const Schema = "notification"

// DDL bootstraps the notification schema.
const DDL = `
CREATE SCHEMA IF NOT EXISTS notification;

CREATE TABLE IF NOT EXISTS notification.notification_log (
	notification_id text PRIMARY KEY,
	payment_id      text NOT NULL,
	event_type      text NOT NULL,
	channel         text NOT NULL,
	message         text NOT NULL,
	created_at      timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_notification_log_payment
	ON notification.notification_log (payment_id);

CREATE TABLE IF NOT EXISTS notification.inbox_events (
	event_id            text NOT NULL,
	consumed_by_service text NOT NULL,
	consumed_at         timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, consumed_by_service)
);
`

// PgStore is the production Store over pgx.
type PgStore struct {
	Pool    *pgxpool.Pool
	Service string
}

// EnsureSchema applies the notification DDL.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	return store.EnsureSchema(ctx, s.Pool, DDL)
}

// InTx implements Store.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, service: s.Service}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx      pgx.Tx
	service string
}

func (t *pgTx) InboxSeen(ctx context.Context, eventID string) (bool, error) {
	return store.InboxSeen(ctx, t.tx, Schema, eventID, t.service)
}

func (t *pgTx) MarkInbox(ctx context.Context, eventID string) error {
	return store.MarkInbox(ctx, t.tx, Schema, eventID, t.service)
}

func (t *pgTx) InsertNotification(ctx context.Context, n *Notification) error {
	if n.NotificationID == "" {
		n.NotificationID = uuid.NewString()
	}
	var err = t.tx.QueryRow(ctx,
		`INSERT INTO notification.notification_log (notification_id, payment_id, event_type, channel, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		n.NotificationID, n.PaymentID, n.EventType, n.Channel, n.Message).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}
