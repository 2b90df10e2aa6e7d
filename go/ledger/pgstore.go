package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/events"
	"github.com/sagapay/core/go/store"
)

// Schema is the Postgres schema owned by the ledger service.
const Schema = "ledger"

// DDL bootstraps the ledger schema. Entries are append-only; the trigger
// rejects any UPDATE or DELETE against them.
const DDL = `
CREATE SCHEMA IF NOT EXISTS ledger;

CREATE TABLE IF NOT EXISTS ledger.accounts (
	account_name  text PRIMARY KEY,
	account_type  text NOT NULL CHECK (account_type IN ('CUSTOMER', 'MERCHANT', 'PLATFORM', 'CLEARING')),
	balance_cents bigint NOT NULL DEFAULT 0,
	created_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger.ledger_entries (
	entry_id       text PRIMARY KEY,
	transaction_id text NOT NULL,
	account_name   text NOT NULL REFERENCES ledger.accounts (account_name),
	direction      text NOT NULL CHECK (direction IN ('DEBIT', 'CREDIT')),
	amount_cents   bigint NOT NULL CHECK (amount_cents > 0),
	created_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_ledger_entries_transaction
	ON ledger.ledger_entries (transaction_id);

CREATE OR REPLACE FUNCTION ledger.prevent_entry_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'ledger entries are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_ledger_entries_append_only ON ledger.ledger_entries;
CREATE TRIGGER trg_ledger_entries_append_only
	BEFORE UPDATE OR DELETE ON ledger.ledger_entries
	FOR EACH ROW EXECUTE FUNCTION ledger.prevent_entry_mutation();

CREATE TABLE IF NOT EXISTS ledger.outbox_events (
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
CREATE INDEX IF NOT EXISTS ix_ledger_outbox_status_created
	ON ledger.outbox_events (status, created_at);

CREATE TABLE IF NOT EXISTS ledger.inbox_events (
	event_id            text NOT NULL,
	consumed_by_service text NOT NULL,
	consumed_at         timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, consumed_by_service)
);
`

var bootstrapAccounts = map[string]string{
	AccountCustomerCash:       "CUSTOMER",
	AccountMerchantReceivable: "MERCHANT",
	AccountPlatformFee:        "PLATFORM",
	AccountClearing:           "CLEARING",
}

// PgStore is the production Store over pgx.
type PgStore struct {
	Pool    *pgxpool.Pool
	Service string
}

// EnsureSchema applies the ledger DDL.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	return store.EnsureSchema(ctx, s.Pool, DDL)
}

// EnsureAccounts seeds the chart of accounts, retrying while the database
// comes up.
func (s *PgStore) EnsureAccounts(ctx context.Context) error {
	var err error
	for i := 0; i < 20; i++ {
		err = s.insertAccounts(ctx)
		if err == nil {
			return nil
		}
		log.WithField("error", err).Warn("account bootstrap failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("bootstrapping accounts: %w", err)
}

func (s *PgStore) insertAccounts(ctx context.Context) error {
	for name, accountType := range bootstrapAccounts {
		if _, err := s.Pool.Exec(ctx,
			`INSERT INTO ledger.accounts (account_name, account_type) VALUES ($1, $2)
			 ON CONFLICT (account_name) DO NOTHING`, name, accountType); err != nil {
			return err
		}
	}
	return nil
}

// InTx implements Store. Repeatable read keeps the balance updates and the
// verification re-read consistent.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, service: s.Service}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TransactionSummary implements Store.
func (s *PgStore) TransactionSummary(ctx context.Context, transactionID string) (*TransactionSummary, []Entry, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT entry_id, transaction_id, account_name, direction, amount_cents, created_at
		 FROM ledger.ledger_entries WHERE transaction_id = $1 ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, nil, fmt.Errorf("reading entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	var summary = TransactionSummary{TransactionID: transactionID}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.TransactionID, &e.AccountName, &e.Direction,
			&e.AmountCents, &e.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scanning entry: %w", err)
		}
		if e.Direction == DirectionDebit {
			summary.DebitsCents += e.AmountCents
		} else {
			summary.CreditsCents += e.AmountCents
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, ErrNotFound
	}
	summary.Balanced = summary.DebitsCents == summary.CreditsCents
	return &summary, entries, nil
}

// ListSummaries implements Store.
func (s *PgStore) ListSummaries(ctx context.Context, limit int) ([]TransactionSummary, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT transaction_id,
		        coalesce(sum(amount_cents) FILTER (WHERE direction = 'DEBIT'), 0),
		        coalesce(sum(amount_cents) FILTER (WHERE direction = 'CREDIT'), 0)
		 FROM ledger.ledger_entries
		 GROUP BY transaction_id
		 ORDER BY transaction_id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("summarizing transactions: %w", err)
	}
	defer rows.Close()

	var out []TransactionSummary
	for rows.Next() {
		var t TransactionSummary
		if err := rows.Scan(&t.TransactionID, &t.DebitsCents, &t.CreditsCents); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		t.Balanced = t.DebitsCents == t.CreditsCents
		out = append(out, t)
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

func (t *pgTx) InsertEntry(ctx context.Context, e *Entry) error {
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	var err = t.tx.QueryRow(ctx,
		`INSERT INTO ledger.ledger_entries (entry_id, transaction_id, account_name, direction, amount_cents)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		e.EntryID, e.TransactionID, e.AccountName, e.Direction, e.AmountCents).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, accountName string, deltaCents int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE ledger.accounts SET balance_cents = balance_cents + $1 WHERE account_name = $2`,
		deltaCents, accountName)
	if err != nil {
		return fmt.Errorf("adjusting balance of %s: %w", accountName, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("account %s does not exist", accountName)
	}
	return nil
}

func (t *pgTx) SumEntries(ctx context.Context, transactionID string) (int64, int64, error) {
	var debits, credits int64
	var err = t.tx.QueryRow(ctx,
		`SELECT coalesce(sum(amount_cents) FILTER (WHERE direction = 'DEBIT'), 0),
		        coalesce(sum(amount_cents) FILTER (WHERE direction = 'CREDIT'), 0)
		 FROM ledger.ledger_entries WHERE transaction_id = $1`, transactionID).
		Scan(&debits, &credits)
	if err != nil {
		return 0, 0, fmt.Errorf("summing entries: %w", err)
	}
	return debits, credits, nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, topic string, env events.Envelope) error {
	return store.EnqueueOutbox(ctx, t.tx, Schema, "payment", env.AggregateID, topic, env)
}
