package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/billing"
)

// AppendOutbox implements billing.OutboxStore. A message whose DedupKey is
// already stored is dropped silently; messages without a key are always stored.
func (s *Store) AppendOutbox(ctx context.Context, msg *billing.OutboxMessage) error {
	if len(msg.Recipients) == 0 {
		return billing.ErrEmptyRecipients
	}
	_, err := s.db.Exec(ctx, `INSERT INTO outbox_messages (id, kind, dedup_key, recipients, payload, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (dedup_key) DO NOTHING`,
		msg.ID, string(msg.Kind), msg.DedupKey, uuidStrings(msg.Recipients), []byte(msg.Payload), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}
	return nil
}

// PendingOutbox returns up to limit undispatched messages in append order.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]*billing.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT id, kind, COALESCE(dedup_key, ''), recipients, payload, created_at
		FROM outbox_messages WHERE dispatched_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []*billing.OutboxMessage
	for rows.Next() {
		var (
			msg        billing.OutboxMessage
			kind       string
			recipients []string
			payload    []byte
		)
		if err := rows.Scan(&msg.ID, &kind, &msg.DedupKey, &recipients, &payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msg.Kind = billing.NotificationKind(kind)
		msg.Payload = payload
		if msg.Recipients, err = parseUUIDs(recipients); err != nil {
			return nil, fmt.Errorf("failed to parse outbox recipients: %w", err)
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox: %w", err)
	}
	return out, nil
}

// MarkOutboxDispatched stamps the given messages as handed off to the dispatcher.
func (s *Store) MarkOutboxDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE outbox_messages SET dispatched_at = $2
		WHERE id = ANY($1::uuid[]) AND dispatched_at IS NULL`, uuidStrings(ids), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark outbox dispatched: %w", err)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(values))
	for i, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
