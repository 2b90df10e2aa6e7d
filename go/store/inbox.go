package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InboxSeen reports whether an event id was already consumed by a service.
// The check runs inside the handler's transaction so the matching MarkInbox
// insert commits atomically with the handler's business mutations.
func InboxSeen(ctx context.Context, tx pgx.Tx, schema, eventID, service string) (bool, error) {
	var exists bool
	var err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (
			SELECT 1 FROM %s.inbox_events
			WHERE event_id = $1 AND consumed_by_service = $2)`, schema),
		eventID, service).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking inbox: %w", err)
	}
	return exists, nil
}

// MarkInbox records an event id as consumed by a service.
func MarkInbox(ctx context.Context, tx pgx.Tx, schema, eventID, service string) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.inbox_events (event_id, consumed_by_service) VALUES ($1, $2)`, schema),
		eventID, service); err != nil {
		return fmt.Errorf("marking inbox: %w", err)
	}
	return nil
}
