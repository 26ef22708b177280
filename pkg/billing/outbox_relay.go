package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// OutboxSource is the drain side of the notification outbox.
type OutboxSource interface {
	// PendingOutbox returns up to limit undispatched messages in append order.
	PendingOutbox(ctx context.Context, limit int) ([]*OutboxMessage, error)
	// MarkOutboxDispatched records that the messages were handed off.
	MarkOutboxDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher hands an outbox message to the notification dispatcher.
type Publisher interface {
	Publish(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelay moves committed outbox messages to a Publisher.
// Delivery is at-least-once: a message published right before a failed
// MarkOutboxDispatched is published again on the next run.
type OutboxRelay struct {
	source    OutboxSource
	publisher Publisher
	batch     int
	settings
}

// NewOutboxRelay creates a relay draining up to batch messages per run.
func NewOutboxRelay(source OutboxSource, publisher Publisher, batch int, opts ...Option) *OutboxRelay {
	if source == nil || publisher == nil {
		panic("billing: outbox relay requires a source and a publisher")
	}
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{
		source:    source,
		publisher: publisher,
		batch:     batch,
		settings:  newSettings("outbox_relay", opts),
	}
}

// Batch is the number of messages read per Relay call.
func (r *OutboxRelay) Batch() int {
	return r.batch
}

// Relay publishes one batch of pending messages in order and marks the
// published prefix dispatched. It stops at the first publish failure so
// ordering is kept, and returns how many messages were dispatched.
func (r *OutboxRelay) Relay(ctx context.Context) (int, error) {
	msgs, err := r.source.PendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending outbox: %w", err)
	}

	var (
		sent       = make([]uuid.UUID, 0, len(msgs))
		publishErr error
	)
	for _, msg := range msgs {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			publishErr = fmt.Errorf("failed to publish outbox message %s: %w", msg.ID, err)
			break
		}
		sent = append(sent, msg.ID)
	}

	if len(sent) > 0 {
		if err := r.source.MarkOutboxDispatched(ctx, sent, r.clock()); err != nil {
			return 0, errors.Join(publishErr, fmt.Errorf("failed to mark outbox dispatched: %w", err))
		}
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "outbox relayed",
		logger.Count(len(sent)),
		logger.Error(publishErr),
	)
	return len(sent), publishErr
}
