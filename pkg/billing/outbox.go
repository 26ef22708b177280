package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationKind identifies the notification a message asks the dispatcher to deliver.
type NotificationKind string

const (
	KindTrialWillEnd NotificationKind = "subscription.trial_will_end"
	KindTrialEnded   NotificationKind = "subscription.trial_ended"
)

// OutboxMessage is an opaque notification request appended in the same
// commit as the state change it describes. Delivery happens elsewhere.
// Appending a message whose DedupKey is already in the outbox is a no-op.
type OutboxMessage struct {
	ID         uuid.UUID
	Kind       NotificationKind
	DedupKey   string
	Recipients []uuid.UUID
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// TrialNotice is the payload of both trial notification kinds.
type TrialNotice struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	PlanID         uuid.UUID  `json:"plan_id"`
	TerritoryID    *uuid.UUID `json:"territory_id,omitempty"`
	TrialEnd       time.Time  `json:"trial_end"`
	DaysLeft       int        `json:"days_left,omitempty"`
}

// NewOutboxMessage marshals payload into a message for recipients.
func NewOutboxMessage(kind NotificationKind, payload any, now time.Time, recipients ...uuid.UUID) (*OutboxMessage, error) {
	if len(recipients) == 0 {
		return nil, ErrEmptyRecipients
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload of type %T: %w", kind, payload, err)
	}
	return &OutboxMessage{
		ID:         uuid.New(),
		Kind:       kind,
		Recipients: recipients,
		Payload:    raw,
		CreatedAt:  now.UTC(),
	}, nil
}

func trialNotice(kind NotificationKind, s *Subscription, now time.Time) (*OutboxMessage, error) {
	notice := TrialNotice{
		SubscriptionID: s.ID,
		PlanID:         s.PlanID,
		TerritoryID:    s.TerritoryID,
	}
	if s.TrialEnd != nil {
		notice.TrialEnd = *s.TrialEnd
		if kind == KindTrialWillEnd {
			notice.DaysLeft = daysUntil(now, *s.TrialEnd)
		}
	}
	msg, err := NewOutboxMessage(kind, notice, now, s.UserID)
	if err != nil {
		return nil, err
	}
	msg.DedupKey = fmt.Sprintf("%s:%s:%d", kind, s.ID, notice.TrialEnd.Unix())
	return msg, nil
}

// daysUntil rounds partial days up so a trial ending later today reads as one day left.
func daysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
