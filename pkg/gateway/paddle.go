package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/billing/pkg/billing"
)

// Paddle is the gateway name reported by the Paddle normalizer.
const Paddle = "paddle"

// PaddleStatuses maps Paddle subscription statuses onto canonical ones.
var PaddleStatuses = billing.StatusTable{
	"trialing":  billing.StatusTrialing,
	"active":    billing.StatusActive,
	"past_due":  billing.StatusPastDue,
	"canceled":  billing.StatusCanceled,
	"cancelled": billing.StatusCanceled,
}

var paddleEvents = map[string]billing.EventKind{
	"subscription.created":       billing.EventSubscriptionCreated,
	"subscription.updated":       billing.EventSubscriptionUpdated,
	"subscription.activated":     billing.EventSubscriptionUpdated,
	"subscription.trialing":      billing.EventSubscriptionUpdated,
	"subscription.past_due":      billing.EventSubscriptionUpdated,
	"subscription.paused":        billing.EventSubscriptionUpdated,
	"subscription.resumed":       billing.EventSubscriptionUpdated,
	"subscription.canceled":      billing.EventSubscriptionDeleted,
	"transaction.completed":      billing.EventPaymentSucceeded,
	"transaction.paid":           billing.EventPaymentSucceeded,
	"transaction.payment_failed": billing.EventPaymentFailed,
	"transaction.past_due":       billing.EventPaymentFailed,
}

type paddlePeriod struct {
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

func (p *paddlePeriod) bounds() (start, end time.Time) {
	if p == nil {
		return
	}
	if p.StartsAt != nil {
		start = p.StartsAt.UTC()
	}
	if p.EndsAt != nil {
		end = p.EndsAt.UTC()
	}
	return
}

// paddleData is the flat resource carried in a Paddle notification.
type paddleData struct {
	ID             flexID `json:"id"`
	SubscriptionID flexID `json:"subscription_id"`
	CustomerID     flexID `json:"customer_id"`
	Status         string `json:"status"`
	CurrencyCode   string `json:"currency_code"`
	Amount         amount `json:"amount"`

	CurrentBillingPeriod *paddlePeriod `json:"current_billing_period"`
	BillingPeriod        *paddlePeriod `json:"billing_period"`
	CanceledAt           *time.Time    `json:"canceled_at"`

	Items []struct {
		PriceID    flexID        `json:"price_id"`
		TrialDates *paddlePeriod `json:"trial_dates"`
		Price      *struct {
			ID flexID `json:"id"`
		} `json:"price"`
	} `json:"items"`

	Details *struct {
		Totals *struct {
			Total      amount `json:"total"`
			GrandTotal amount `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`

	Payments []struct {
		Status    string `json:"status"`
		ErrorCode string `json:"error_code"`
	} `json:"payments"`
}

// PaddleNormalizer decodes Paddle webhook payloads. The payload is either
// the notification's data object or the whole notification; only the latter
// carries occurred_at, which orders subscription updates.
type PaddleNormalizer struct{}

// NewPaddleNormalizer creates a Paddle normalizer.
func NewPaddleNormalizer() *PaddleNormalizer {
	return &PaddleNormalizer{}
}

// Gateway implements billing.Normalizer.
func (n *PaddleNormalizer) Gateway() string {
	return Paddle
}

// Normalize implements billing.Normalizer.
func (n *PaddleNormalizer) Normalize(eventType string, payload []byte) (*billing.Event, error) {
	kind, known := paddleEvents[eventType]
	event := &billing.Event{Kind: kind, Gateway: Paddle, GatewayEventType: eventType}
	if !known {
		return event, nil
	}

	var envelope struct {
		EventType  string          `json:"event_type"`
		OccurredAt *time.Time      `json:"occurred_at"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(billing.ErrMalformedPayload, fmt.Errorf("paddle notification: %w", err))
	}
	if envelope.EventType != "" && len(envelope.Data) > 0 {
		payload = envelope.Data
		if envelope.OccurredAt != nil {
			event.OccurredAt = envelope.OccurredAt.UTC()
		}
	}

	var data paddleData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, errors.Join(billing.ErrMalformedPayload, fmt.Errorf("paddle %s data: %w", eventType, err))
	}

	event.CustomerRef = string(data.CustomerID)
	event.GatewayStatus = data.Status
	if len(data.Items) > 0 {
		item := data.Items[0]
		event.PriceRef = string(item.PriceID)
		if item.Price != nil && item.Price.ID != "" {
			event.PriceRef = string(item.Price.ID)
		}
		if _, trialEnd := item.TrialDates.bounds(); !trialEnd.IsZero() {
			event.TrialEnd = trialEnd
		}
	}

	if event.IsSubscriptionEvent() {
		event.SubscriptionRef = string(data.ID)
		event.Status, _ = PaddleStatuses.Lookup(strings.ToLower(data.Status))
		event.PeriodStart, event.PeriodEnd = data.CurrentBillingPeriod.bounds()
		if data.CanceledAt != nil {
			event.CanceledAt = data.CanceledAt.UTC()
		}
		return event, nil
	}

	event.SubscriptionRef = string(data.SubscriptionID)
	event.InvoiceRef = string(data.ID)
	event.PeriodStart, event.PeriodEnd = data.BillingPeriod.bounds()
	total := data.Amount
	if data.Details != nil && data.Details.Totals != nil {
		if total = data.Details.Totals.GrandTotal; total == 0 {
			total = data.Details.Totals.Total
		}
	}
	event.Amount = billing.Money{Amount: int64(total), Currency: strings.ToUpper(data.CurrencyCode)}
	if event.Kind == billing.EventPaymentFailed {
		event.FailureReason = "payment_failed"
		for i := len(data.Payments) - 1; i >= 0; i-- {
			if code := data.Payments[i].ErrorCode; code != "" {
				event.FailureReason = code
				break
			}
		}
	}
	return event, nil
}

// PaddleVerifier checks the Paddle-Signature header with the Paddle SDK.
type PaddleVerifier struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleVerifier creates a verifier for the notification destination's secret key.
func NewPaddleVerifier(secret string) *PaddleVerifier {
	if secret == "" {
		return &PaddleVerifier{}
	}
	return &PaddleVerifier{verifier: paddle.NewWebhookVerifier(secret)}
}

// Verify implements Verifier.
func (v *PaddleVerifier) Verify(ctx context.Context, payload []byte, signature string) error {
	if v.verifier == nil {
		return ErrMissingSecret
	}
	// The SDK verifies requests, so the raw delivery is replayed into one.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := v.verifier.Verify(req)
	if err != nil {
		return errors.Join(ErrInvalidSignature, fmt.Errorf("paddle: %w", err))
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}
