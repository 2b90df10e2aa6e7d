package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagapay/core/go/events"
)

// OutboxRow is one claimed outbox event ready for publishing.
type OutboxRow struct {
	ID      string
	Topic   string
	Payload []byte
}

// EnqueueOutbox inserts one PENDING outbox row inside the caller's
// transaction. The payload column stores the full wire envelope, so the
// publisher never needs to reconstruct it.
func EnqueueOutbox(ctx context.Context, tx pgx.Tx, schema, aggregateType, aggregateID, topic string, env events.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encoding outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.outbox_events (id, aggregate_type, aggregate_id, event_type, topic, payload, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')`, schema),
		uuid.NewString(), aggregateType, aggregateID, env.EventType, topic, payload); err != nil {
		return fmt.Errorf("inserting outbox event: %w", err)
	}
	return nil
}

// OutboxQueue is the publisher-facing view of one service's outbox table.
type OutboxQueue struct {
	Pool   *pgxpool.Pool
	Schema string
}

// Claim atomically moves up to limit PENDING rows (or PROCESSING rows whose
// claim went stale) to PROCESSING and returns them oldest-first. Rows locked
// by a concurrent publisher are skipped, so multiple publishers of one
// service can coexist.
func (q *OutboxQueue) Claim(ctx context.Context, limit int, processingTimeout time.Duration) ([]OutboxRow, error) {
	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(
		`WITH claim_ids AS (
			SELECT id FROM %[1]s.outbox_events
			WHERE status = 'PENDING'
			   OR (status = 'PROCESSING' AND sent_at IS NOT NULL
			       AND sent_at < now() - make_interval(secs => $1))
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %[1]s.outbox_events o
		SET status = 'PROCESSING', sent_at = now()
		FROM claim_ids
		WHERE o.id = claim_ids.id
		RETURNING o.id, o.topic, o.payload`, q.Schema),
		processingTimeout.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox batch: %w", err)
	}

	var claimed []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.Topic, &r.Payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning claimed row: %w", err)
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return claimed, nil
}

// MarkSent advances one claimed row to SENT after the bus acknowledged it.
func (q *OutboxQueue) MarkSent(ctx context.Context, id string) error {
	_, err := q.Pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.outbox_events
		 SET status = 'SENT', sent_at = now()
		 WHERE id = $1 AND status = 'PROCESSING'`, q.Schema), id)
	return err
}

// Requeue returns one claimed row to PENDING so a later iteration retries it.
func (q *OutboxQueue) Requeue(ctx context.Context, id string) error {
	_, err := q.Pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.outbox_events
		 SET status = 'PENDING', sent_at = NULL
		 WHERE id = $1 AND status = 'PROCESSING'`, q.Schema), id)
	return err
}

// Backlog returns the count of not-yet-sent rows and the age of the oldest,
// feeding the publisher's gauges.
func (q *OutboxQueue) Backlog(ctx context.Context) (int64, time.Duration, error) {
	var pending int64
	var oldest *time.Time
	var err = q.Pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*), min(created_at)
		 FROM %s.outbox_events
		 WHERE status IN ('PENDING', 'PROCESSING')`, q.Schema)).Scan(&pending, &oldest)
	if err != nil {
		return 0, 0, fmt.Errorf("reading outbox backlog: %w", err)
	}
	var age time.Duration
	if oldest != nil {
		if age = time.Since(*oldest); age < 0 {
			age = 0
		}
	}
	return pending, age, nil
}
