package billing

import (
	"time"

	"github.com/google/uuid"
)

// Payment is one invoice charge attempt reported by a gateway.
// ExternalInvoiceID is the idempotency key: replays update the same row.
type Payment struct {
	ID                uuid.UUID
	SubscriptionID    uuid.UUID
	Amount            Money
	Status            PaymentStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	ExternalInvoiceID string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Merge applies a replayed or later report for the same invoice onto p.
// A succeeded payment never goes back to failed or rejected.
func (p *Payment) Merge(update *Payment) {
	if p.Status == PaymentSucceeded && update.Status != PaymentSucceeded {
		return
	}
	p.Status = update.Status
	p.Amount = update.Amount
	p.FailureReason = update.FailureReason
	if !update.PeriodStart.IsZero() {
		p.PeriodStart = update.PeriodStart
	}
	if !update.PeriodEnd.IsZero() {
		p.PeriodEnd = update.PeriodEnd
	}
	p.UpdatedAt = update.UpdatedAt
}
