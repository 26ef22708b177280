package billing

import (
	"time"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due" // reserved, only reported by gateways
	StatusCanceled Status = "canceled"
)

// Tier ranks plans. Only TierFree has special meaning to the engine.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// BillingCycle is how often a paid plan renews. Free plans have none.
type BillingCycle string

const (
	CycleNone      BillingCycle = ""
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// Months returns the cycle length in months, 0 for CycleNone or unknown values.
func (c BillingCycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	default:
		return 0
	}
}

// Valid reports whether c is a known cycle (CycleNone included).
func (c BillingCycle) Valid() bool {
	return c == CycleNone || c.Months() > 0
}

// Next returns the end of a period that starts at t.
// Cycle-less plans roll over monthly so the period bounds stay ordered.
func (c BillingCycle) Next(t time.Time) time.Time {
	months := c.Months()
	if months == 0 {
		months = 1
	}
	return t.AddDate(0, months, 0)
}

// Capability is a named feature a plan grants.
type Capability string

// CapabilityFeed is the baseline capability default and free plans must keep.
const CapabilityFeed Capability = "feed"

// Unlimited marks a plan limit without a ceiling.
const Unlimited int64 = -1

// Money represents a monetary amount in the smallest currency unit.
// For example, 29.90 USD is Amount: 2990, Currency: "USD".
type Money struct {
	Amount   int64  // Amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// PaymentStatus is the outcome of a single invoice charge.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRejected  PaymentStatus = "rejected"
)

// DiscountType selects how Coupon.DiscountValue is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// ChangeType classifies a plan history record.
type ChangeType string

const (
	ChangeCreated             ChangeType = "created"
	ChangeUpdated             ChangeType = "updated"
	ChangeCapabilitiesChanged ChangeType = "capabilities_changed"
	ChangeDeactivated         ChangeType = "deactivated"
)

// Window bounds a time range. Start is inclusive, End is exclusive.
// A nil bound leaves that side open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Between returns a window covering [start, end).
func Between(start, end time.Time) Window {
	return Window{Start: &start, End: &end}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && !t.Before(*w.End) {
		return false
	}
	return true
}

// Overlaps reports whether [start, end) intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if w.End != nil && !start.Before(*w.End) {
		return false
	}
	if w.Start != nil && !end.After(*w.Start) {
		return false
	}
	return true
}
