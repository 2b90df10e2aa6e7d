package provider

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/store"
)

// Schema is the Postgres schema owned by the provider adapter.
const Schema = "provider_adapter"

// DDL bootstraps the provider adapter schema.
const DDL = `
CREATE SCHEMA IF NOT EXISTS provider_adapter;

CREATE TABLE IF NOT EXISTS provider_adapter.provider_attempts (
	id             bigserial PRIMARY KEY,
	payment_id     text NOT NULL,
	attempt_number int NOT NULL,
	result         text NOT NULL,
	latency_ms     bigint NOT NULL DEFAULT 0,
	error_code     text,
	created_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_provider_attempts_payment
	ON provider_adapter.provider_attempts (payment_id, attempt_number);

CREATE TABLE IF NOT EXISTS provider_adapter.outbox_events (
	id             text PRIMARY KEY,
	aggregate_type text NOT NULL,
	aggregate_id   text NOT NULL,
	event_type     text NOT NULL,
	topic          text NOT NULL,
	payload        jsonb NOT NULL,
	status         text NOT NULL,
	created_at     timestamptz NOT NULL DEFAULT now(),
	sent_at        timestamptz
);
CREATE INDEX IF NOT EXISTS ix_provider_outbox_status_created
	ON provider_adapter.outbox_events (status, created_at);

CREATE TABLE IF NOT EXISTS provider_adapter.inbox_events (
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

// EnsureSchema applies the provider adapter DDL.
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

func (t *pgTx) InsertAttempt(ctx context.Context, a *Attempt) error {
	var err = t.tx.QueryRow(ctx,
		`INSERT INTO provider_adapter.provider_attempts
		 (payment_id, attempt_number, result, latency_ms, error_code)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		 RETURNING created_at`,
		a.PaymentID, a.AttemptNumber, a.Result, a.LatencyMs, a.ErrorCode).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting provider attempt: %w", err)
	}
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error {
	return store.EnqueueOutbox(ctx, t.tx, Schema, "payment", env.AggregateID, topic, env)
}
