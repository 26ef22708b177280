package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionFilter narrows subscription queries. Zero-valued fields do not filter.
type SubscriptionFilter struct {
	Statuses []Status
	PlanID   *uuid.UUID
	Created  Window
	Canceled Window

	TrialEndsAfter *time.Time // exclusive lower bound on TrialEnd
	TrialEndsBy    *time.Time // inclusive upper bound on TrialEnd
	PeriodEndsBy   *time.Time // inclusive upper bound on CurrentPeriodEnd

	CancelAtPeriodEnd  bool // only subscriptions flagged for deferred cancellation
	WithoutGatewayLink bool // only subscriptions no gateway bills for

	Limit int // 0 means no limit
}

// PaymentFilter narrows payment queries. Zero-valued fields do not filter.
type PaymentFilter struct {
	Status         PaymentStatus
	SubscriptionID *uuid.UUID
	Created        Window
}

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	// CreateSubscription inserts s. It returns ErrAlreadySubscribed when s holds its
	// scope and another active or trialing subscription already holds it.
	CreateSubscription(ctx context.Context, s *Subscription) error

	// UpdateSubscription writes s if its Version still matches the stored row,
	// incrementing Version on success. It returns ErrConcurrentUpdate on mismatch.
	UpdateSubscription(ctx context.Context, s *Subscription) error

	// GetSubscription returns ErrSubscriptionNotFound if no subscription exists.
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetSubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*Subscription, error)

	// ListSubscriptionsByScope returns the scope's subscriptions, newest first.
	ListSubscriptionsByScope(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) ([]*Subscription, error)
	FindSubscriptions(ctx context.Context, f SubscriptionFilter) ([]*Subscription, error)
	CountSubscriptions(ctx context.Context, f SubscriptionFilter) (int64, error)
}

// PaymentStore persists invoice payments keyed by ExternalInvoiceID.
type PaymentStore interface {
	// UpsertPayment inserts p or merges it into the row with the same
	// ExternalInvoiceID, returning the stored state.
	UpsertPayment(ctx context.Context, p *Payment) (*Payment, error)
	GetPaymentByInvoiceID(ctx context.Context, externalInvoiceID string) (*Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]*Payment, error)
}

// PlanStore persists subscription plans.
type PlanStore interface {
	CreatePlan(ctx context.Context, p *Plan) error
	UpdatePlan(ctx context.Context, p *Plan) error
	// GetPlan returns ErrPlanNotFound if no plan exists.
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	GetPlanByGatewayPriceID(ctx context.Context, priceID string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
}

// PlanHistoryStore is the append-only plan audit ledger.
type PlanHistoryStore interface {
	AppendPlanHistory(ctx context.Context, h *PlanHistory) error
	ListPlanHistory(ctx context.Context, planID uuid.UUID) ([]*PlanHistory, error)
}

// CouponStore persists coupons and their redemptions.
type CouponStore interface {
	CreateCoupon(ctx context.Context, c *Coupon) error
	// GetCouponByCode matches codes case-insensitively and returns ErrCouponNotFound on a miss.
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)

	// IncrementCouponRedemptions atomically checks the redemption limit and
	// increments the counter, returning ErrCouponExhausted when none remain.
	IncrementCouponRedemptions(ctx context.Context, couponID uuid.UUID) (*Coupon, error)

	// CreateSubscriptionCoupon returns ErrCouponAlreadyApplied if the subscription has one.
	CreateSubscriptionCoupon(ctx context.Context, sc *SubscriptionCoupon) error
	GetSubscriptionCoupon(ctx context.Context, subscriptionID uuid.UUID) (*SubscriptionCoupon, error)
}

// OutboxStore is the enqueue side of the notification outbox.
type OutboxStore interface {
	AppendOutbox(ctx context.Context, msg *OutboxMessage) error
}

// Store is the persistence boundary the engine runs on.
type Store interface {
	SubscriptionStore
	PaymentStore
	PlanStore
	PlanHistoryStore
	CouponStore
	OutboxStore

	// InTx runs fn in a unit of work: every write made through tx commits
	// together when fn returns nil and none persist otherwise.
	// Calling InTx on a transactional store joins the running unit of work.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
