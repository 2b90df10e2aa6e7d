package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/store"
)

// Schema is the Postgres schema owned by the orchestrator.
const Schema = "orchestrator"

// DDL bootstraps the orchestrator schema. All statements are idempotent.
const DDL = `
CREATE SCHEMA IF NOT EXISTS orchestrator;

CREATE TABLE IF NOT EXISTS orchestrator.payments (
	payment_id      text PRIMARY KEY,
	customer_id     text NOT NULL,
	amount_cents    bigint NOT NULL CHECK (amount_cents > 0),
	currency        char(3) NOT NULL,
	status          text NOT NULL,
	state_version   bigint NOT NULL DEFAULT 0,
	idempotency_key text NOT NULL UNIQUE,
	created_at      timestamptz NOT NULL DEFAULT now(),
	updated_at      timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_payments_customer_id ON orchestrator.payments (customer_id);
CREATE INDEX IF NOT EXISTS ix_payments_status ON orchestrator.payments (status);

CREATE TABLE IF NOT EXISTS orchestrator.payment_timeline (
	timeline_id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	payment_id  text NOT NULL REFERENCES orchestrator.payments (payment_id),
	from_state  text,
	to_state    text NOT NULL,
	reason      text NOT NULL,
	event_id    text,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_payment_timeline_payment_id
	ON orchestrator.payment_timeline (payment_id, created_at);

CREATE TABLE IF NOT EXISTS orchestrator.payment_attempts (
	attempt_id     bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	payment_id     text NOT NULL REFERENCES orchestrator.payments (payment_id),
	attempt_number integer NOT NULL,
	result         text NOT NULL,
	latency_ms     integer NOT NULL,
	error_code     text,
	created_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_payment_attempts_payment_id
	ON orchestrator.payment_attempts (payment_id);

CREATE TABLE IF NOT EXISTS orchestrator.outbox_events (
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
CREATE INDEX IF NOT EXISTS ix_orchestrator_outbox_status_created
	ON orchestrator.outbox_events (status, created_at);

CREATE TABLE IF NOT EXISTS orchestrator.inbox_events (
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

// EnsureSchema applies the orchestrator DDL.
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

// GetPayment implements Store.
func (s *PgStore) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	return scanPayment(s.Pool.QueryRow(ctx, selectPayment+` WHERE payment_id = $1`, paymentID))
}

type pgTx struct {
	tx      pgx.Tx
	service string
}

const selectPayment = `
	SELECT payment_id, customer_id, amount_cents, currency, status,
	       state_version, idempotency_key, created_at, updated_at
	FROM orchestrator.payments`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var err = row.Scan(&p.PaymentID, &p.CustomerID, &p.AmountCents, &p.Currency,
		&p.Status, &p.StateVersion, &p.IdempotencyKey, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	return &p, nil
}

func (t *pgTx) InboxSeen(ctx context.Context, eventID string) (bool, error) {
	return store.InboxSeen(ctx, t.tx, Schema, eventID, t.service)
}

func (t *pgTx) MarkInbox(ctx context.Context, eventID string) error {
	return store.MarkInbox(ctx, t.tx, Schema, eventID, t.service)
}

func (t *pgTx) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, selectPayment+` WHERE payment_id = $1`, paymentID))
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, selectPayment+` WHERE idempotency_key = $1`, key))
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	var err = t.tx.QueryRow(ctx,
		`INSERT INTO orchestrator.payments
			(payment_id, customer_id, amount_cents, currency, status, state_version, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		p.PaymentID, p.CustomerID, p.AmountCents, p.Currency, p.Status, p.StateVersion,
		p.IdempotencyKey).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdatePaymentStatus(ctx context.Context, paymentID string, from Status, fromVersion int64, to Status) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE orchestrator.payments
		 SET status = $1, state_version = $2, updated_at = now()
		 WHERE payment_id = $3 AND status = $4 AND state_version = $5`,
		to, fromVersion+1, paymentID, from, fromVersion)
	if err != nil {
		return 0, fmt.Errorf("updating payment status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) AppendTimeline(ctx context.Context, e TimelineEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orchestrator.payment_timeline (payment_id, from_state, to_state, reason, event_id)
		 VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''))`,
		e.PaymentID, string(e.FromState), e.ToState, e.Reason, e.EventID)
	if err != nil {
		return fmt.Errorf("appending timeline: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAttempt(ctx context.Context, a Attempt) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orchestrator.payment_attempts (payment_id, attempt_number, result, latency_ms, error_code)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		a.PaymentID, a.AttemptNumber, a.Result, a.LatencyMs, a.ErrorCode)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error {
	return store.EnqueueOutbox(ctx, t.tx, Schema, "payment", env.AggregateID, topic, env)
}
