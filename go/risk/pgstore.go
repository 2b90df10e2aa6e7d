package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/store"
)

// Schema is the Postgres schema owned by the risk service.
const Schema = "risk"

// DDL bootstraps the risk schema.
const DDL = `
CREATE SCHEMA IF NOT EXISTS risk;

CREATE TABLE IF NOT EXISTS risk.risk_reviews (
	review_id         text PRIMARY KEY,
	payment_id        text NOT NULL UNIQUE,
	customer_id       text NOT NULL,
	amount_cents      bigint NOT NULL,
	reason            text NOT NULL,
	status            text NOT NULL,
	reviewed_by       text,
	reviewed_at       timestamptz,
	decision_event_id text,
	created_at        timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_risk_reviews_status_created
	ON risk.risk_reviews (status, created_at);

CREATE TABLE IF NOT EXISTS risk.outbox_events (
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
CREATE INDEX IF NOT EXISTS ix_risk_outbox_status_created
	ON risk.outbox_events (status, created_at);

CREATE TABLE IF NOT EXISTS risk.inbox_events (
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

// EnsureSchema applies the risk DDL.
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

const selectReview = `
	SELECT review_id, payment_id, customer_id, amount_cents, reason, status,
	       coalesce(reviewed_by, ''), reviewed_at, coalesce(decision_event_id, ''), created_at
	FROM risk.risk_reviews`

func scanReview(row pgx.Row) (*Review, error) {
	var r Review
	var err = row.Scan(&r.ReviewID, &r.PaymentID, &r.CustomerID, &r.AmountCents, &r.Reason,
		&r.Status, &r.ReviewedBy, &r.ReviewedAt, &r.DecisionEventID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning review: %w", err)
	}
	return &r, nil
}

// ListReviews implements Store.
func (s *PgStore) ListReviews(ctx context.Context, status string, limit int) ([]Review, error) {
	rows, err := s.Pool.Query(ctx,
		selectReview+` WHERE status = $1 ORDER BY created_at LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
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

func (t *pgTx) GetReviewByPayment(ctx context.Context, paymentID string) (*Review, error) {
	return scanReview(t.tx.QueryRow(ctx, selectReview+` WHERE payment_id = $1`, paymentID))
}

func (t *pgTx) InsertReview(ctx context.Context, r *Review) error {
	if r.ReviewID == "" {
		r.ReviewID = uuid.NewString()
	}
	var err = t.tx.QueryRow(ctx,
		`INSERT INTO risk.risk_reviews (review_id, payment_id, customer_id, amount_cents, reason, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		r.ReviewID, r.PaymentID, r.CustomerID, r.AmountCents, r.Reason, r.Status).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting review: %w", err)
	}
	return nil
}

func (t *pgTx) FinalizeReview(ctx context.Context, paymentID, status, reviewedBy, decisionEventID string, reviewedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE risk.risk_reviews
		 SET status = $1, reviewed_by = $2, reviewed_at = $3, decision_event_id = $4
		 WHERE payment_id = $5 AND status = 'PENDING'`,
		status, reviewedBy, reviewedAt, decisionEventID, paymentID)
	if err != nil {
		return fmt.Errorf("finalizing review: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrReviewFinalized
	}
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error {
	return store.EnqueueOutbox(ctx, t.tx, Schema, "payment", env.AggregateID, topic, env)
}
