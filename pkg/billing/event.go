package billing

import "time"

// EventKind is the gateway-agnostic family of a webhook event.
type EventKind string

const (
	EventUnknown             EventKind = ""
	EventSubscriptionCreated EventKind = "subscription.created"
	EventSubscriptionUpdated EventKind = "subscription.updated"
	EventSubscriptionDeleted EventKind = "subscription.deleted"
	EventPaymentSucceeded    EventKind = "payment.succeeded"
	EventPaymentFailed       EventKind = "payment.failed"
	EventPaymentRejected     EventKind = "payment.rejected"
	EventTrialWillEnd        EventKind = "subscription.trial_will_end"
)

// Event is the canonical form every gateway payload is normalized into.
// Zero-valued fields were absent from the payload.
type Event struct {
	Kind             EventKind
	Gateway          string
	GatewayEventType string

	SubscriptionRef string // gateway subscription id
	CustomerRef     string // gateway customer id
	InvoiceRef      string // gateway invoice or transaction id
	PriceRef        string // gateway price id of the subscribed item

	Status        Status // canonical status; empty when not reported or not mapped
	GatewayStatus string // raw status string as sent by the gateway
	Amount        Money
	FailureReason string

	PeriodStart time.Time
	PeriodEnd   time.Time
	TrialEnd    time.Time
	CanceledAt  time.Time
	OccurredAt  time.Time
}

// IsSubscriptionEvent reports whether the event describes subscription state.
func (e *Event) IsSubscriptionEvent() bool {
	switch e.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// IsPaymentEvent reports whether the event describes an invoice charge.
func (e *Event) IsPaymentEvent() bool {
	switch e.Kind {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentRejected:
		return true
	}
	return false
}

// PaymentStatus returns the payment outcome for payment events.
func (e *Event) PaymentStatus() PaymentStatus {
	switch e.Kind {
	case EventPaymentSucceeded:
		return PaymentSucceeded
	case EventPaymentRejected:
		return PaymentRejected
	default:
		return PaymentFailed
	}
}

// Normalizer converts one gateway's webhook payloads into canonical events.
// Unrecognized event types yield an event with Kind EventUnknown and no error.
type Normalizer interface {
	Gateway() string
	Normalize(eventType string, payload []byte) (*Event, error)
}

// StatusTable maps a gateway's status strings onto canonical statuses.
type StatusTable map[string]Status

// Lookup returns the canonical status for raw; ok is false for unmapped values.
func (t StatusTable) Lookup(raw string) (Status, bool) {
	s, ok := t[raw]
	return s, ok
}
