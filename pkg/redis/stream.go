package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billing/pkg/billing"
)

// StreamClient is the part of the go-redis client the publisher uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher appends outbox messages to a Redis stream for the
// notification dispatcher. It implements billing.Publisher.
//
// Entry fields: id, kind, dedup_key, recipients (comma separated UUIDs),
// payload (JSON) and created_at (RFC 3339).
type StreamPublisher struct {
	client StreamClient
	stream string
	maxLen int64
}

// StreamOption configures a StreamPublisher.
type StreamOption func(*StreamPublisher)

// WithMaxLen caps the stream at roughly n entries. Zero keeps every entry.
func WithMaxLen(n int64) StreamOption {
	return func(p *StreamPublisher) {
		p.maxLen = n
	}
}

// NewStreamPublisher creates a publisher writing to stream.
func NewStreamPublisher(client StreamClient, stream string, opts ...StreamOption) (*StreamPublisher, error) {
	if client == nil {
		panic("redis: stream client is required")
	}
	if stream == "" {
		return nil, ErrEmptyStream
	}
	p := &StreamPublisher{client: client, stream: stream}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

var _ billing.Publisher = (*StreamPublisher)(nil)

// Publish implements billing.Publisher.
func (p *StreamPublisher) Publish(ctx context.Context, msg *billing.OutboxMessage) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":         msg.ID.String(),
			"kind":       string(msg.Kind),
			"dedup_key":  msg.DedupKey,
			"recipients": joinIDs(msg.Recipients),
			"payload":    string(msg.Payload),
			"created_at": msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", p.stream, err)
	}
	return nil
}

func joinIDs(ids []uuid.UUID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	return strings.Join(s, ",")
}
