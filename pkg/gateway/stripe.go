package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"

	"github.com/dmitrymomot/billing/pkg/billing"
)

// Stripe is the gateway name reported by the Stripe normalizer.
const Stripe = "stripe"

// StripeStatuses maps Stripe subscription statuses onto canonical ones.
// incomplete and paused have no local status and stay unmapped.
var StripeStatuses = billing.StatusTable{
	string(stripe.SubscriptionStatusTrialing):          billing.StatusTrialing,
	string(stripe.SubscriptionStatusActive):            billing.StatusActive,
	string(stripe.SubscriptionStatusPastDue):           billing.StatusPastDue,
	string(stripe.SubscriptionStatusUnpaid):            billing.StatusPastDue,
	string(stripe.SubscriptionStatusCanceled):          billing.StatusCanceled,
	string(stripe.SubscriptionStatusIncompleteExpired): billing.StatusCanceled,
}

var stripeEvents = map[string]billing.EventKind{
	"customer.subscription.created":        billing.EventSubscriptionCreated,
	"customer.subscription.updated":        billing.EventSubscriptionUpdated,
	"customer.subscription.paused":         billing.EventSubscriptionUpdated,
	"customer.subscription.resumed":        billing.EventSubscriptionUpdated,
	"customer.subscription.deleted":        billing.EventSubscriptionDeleted,
	"customer.subscription.trial_will_end": billing.EventTrialWillEnd,
	"invoice.paid":                         billing.EventPaymentSucceeded,
	"invoice.payment_succeeded":            billing.EventPaymentSucceeded,
	"invoice.payment_failed":               billing.EventPaymentFailed,
	"invoice.marked_uncollectible":         billing.EventPaymentRejected,
}

// StripeNormalizer decodes Stripe webhook payloads with stripe-go types.
// The payload is either the event's data envelope ({"object": {...}}) or the
// whole event; only the latter carries the creation time used for ordering.
type StripeNormalizer struct{}

// NewStripeNormalizer creates a Stripe normalizer.
func NewStripeNormalizer() *StripeNormalizer {
	return &StripeNormalizer{}
}

// Gateway implements billing.Normalizer.
func (n *StripeNormalizer) Gateway() string {
	return Stripe
}

// Normalize implements billing.Normalizer.
func (n *StripeNormalizer) Normalize(eventType string, payload []byte) (*billing.Event, error) {
	kind, known := stripeEvents[eventType]
	event := &billing.Event{Kind: kind, Gateway: Stripe, GatewayEventType: eventType}
	if !known {
		return event, nil
	}

	data, created, err := stripeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	event.OccurredAt = unixTime(created)

	switch {
	case event.IsSubscriptionEvent(), kind == billing.EventTrialWillEnd:
		var sub stripe.Subscription
		if err := json.Unmarshal(data.Raw, &sub); err != nil {
			return nil, errors.Join(billing.ErrMalformedPayload, fmt.Errorf("stripe subscription: %w", err))
		}
		fillStripeSubscription(event, &sub)
	case event.IsPaymentEvent():
		var inv stripe.Invoice
		if err := json.Unmarshal(data.Raw, &inv); err != nil {
			return nil, errors.Join(billing.ErrMalformedPayload, fmt.Errorf("stripe invoice: %w", err))
		}
		fillStripeInvoice(event, &inv)
	}
	return event, nil
}

func stripeEnvelope(payload []byte) (*stripe.EventData, int64, error) {
	var probe struct {
		Object  string          `json:"object"`
		Created int64           `json:"created"`
		Data    json.RawMessage `json:"data"`
	}
	// A full event has "object":"event"; a data envelope has an object value there.
	if err := json.Unmarshal(payload, &probe); err == nil && probe.Object == "event" {
		payload = probe.Data
	} else {
		probe.Created = 0
	}

	var data stripe.EventData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, 0, errors.Join(billing.ErrMalformedPayload, fmt.Errorf("stripe event data: %w", err))
	}
	if len(data.Raw) == 0 || string(data.Raw) == "null" {
		return nil, 0, errors.Join(billing.ErrMalformedPayload, errors.New("stripe event data has no object"))
	}
	return &data, probe.Created, nil
}

func fillStripeSubscription(e *billing.Event, sub *stripe.Subscription) {
	e.SubscriptionRef = sub.ID
	if sub.Customer != nil {
		e.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				e.PriceRef = item.Price.ID
				break
			}
		}
	}
	e.GatewayStatus = string(sub.Status)
	e.Status, _ = StripeStatuses.Lookup(e.GatewayStatus)
	e.PeriodStart = unixTime(sub.CurrentPeriodStart)
	e.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
	e.TrialEnd = unixTime(sub.TrialEnd)
	e.CanceledAt = unixTime(sub.EndedAt)
	if e.CanceledAt.IsZero() {
		e.CanceledAt = unixTime(sub.CanceledAt)
	}
}

func fillStripeInvoice(e *billing.Event, inv *stripe.Invoice) {
	e.InvoiceRef = inv.ID
	if inv.Subscription != nil {
		e.SubscriptionRef = inv.Subscription.ID
	}
	if inv.Customer != nil {
		e.CustomerRef = inv.Customer.ID
	}
	amount := inv.AmountPaid
	if e.Kind != billing.EventPaymentSucceeded {
		amount = inv.AmountDue
	}
	e.Amount = billing.Money{Amount: amount, Currency: strings.ToUpper(string(inv.Currency))}
	e.GatewayStatus = string(inv.Status)

	// Subscription invoices report the billed service period on their lines;
	// the invoice-level bounds cover the previous usage period.
	e.PeriodStart = unixTime(inv.PeriodStart)
	e.PeriodEnd = unixTime(inv.PeriodEnd)
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > 0 {
				e.PeriodStart = unixTime(line.Period.Start)
				e.PeriodEnd = unixTime(line.Period.End)
				if line.Price != nil {
					e.PriceRef = line.Price.ID
				}
				break
			}
		}
	}
	if e.Kind == billing.EventPaymentFailed {
		e.FailureReason = "payment_failed"
		if inv.AttemptCount > 0 {
			e.FailureReason = fmt.Sprintf("payment_failed after %d attempts", inv.AttemptCount)
		}
	}
	if e.Kind == billing.EventPaymentRejected {
		e.FailureReason = "marked_uncollectible"
	}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
