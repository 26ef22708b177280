package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Analytics computes read-only revenue and churn figures.
// All amounts are reported in the configured currency without conversion.
type Analytics struct {
	store Store
	settings
}

// NewAnalytics creates an aggregator. Panics if store is nil.
func NewAnalytics(store Store, opts ...Option) *Analytics {
	if store == nil {
		panic("billing: Store is required")
	}
	return &Analytics{store: store, settings: newSettings("analytics", opts)}
}

// GetMRR returns the monthly recurring revenue of active subscriptions whose
// current period overlaps w. Each plan price is normalized to a monthly figure
// (quarterly / 3, yearly / 12) and the sum is rounded half up once.
func (a *Analytics) GetMRR(ctx context.Context, w Window) (Money, error) {
	subs, err := a.store.FindSubscriptions(ctx, SubscriptionFilter{Statuses: []Status{StatusActive}})
	if err != nil {
		return Money{}, err
	}

	plans := make(map[uuid.UUID]*Plan)
	var twelfths int64
	for _, sub := range subs {
		if !w.Overlaps(sub.CurrentPeriodStart, sub.CurrentPeriodEnd) {
			continue
		}
		plan, ok := plans[sub.PlanID]
		if !ok {
			plan, err = a.store.GetPlan(ctx, sub.PlanID)
			if err != nil {
				return Money{}, err
			}
			plans[sub.PlanID] = plan
		}
		twelfths += plan.MonthlyTwelfths()
	}
	return Money{Amount: (twelfths + 6) / 12, Currency: a.currency}, nil
}

// GetChurnRate returns subscriptions canceled within w as a percentage of the
// subscriptions active now. It is 0 when nothing is active.
func (a *Analytics) GetChurnRate(ctx context.Context, w Window) (float64, error) {
	canceled, err := a.GetCanceledSubscriptionsCount(ctx, w)
	if err != nil {
		return 0, err
	}
	active, err := a.GetActiveSubscriptionsCount(ctx)
	if err != nil {
		return 0, err
	}
	if active == 0 {
		return 0, nil
	}
	return float64(canceled) / float64(active) * 100, nil
}

// GetActiveSubscriptionsCount counts subscriptions active right now.
func (a *Analytics) GetActiveSubscriptionsCount(ctx context.Context) (int64, error) {
	return a.store.CountSubscriptions(ctx, SubscriptionFilter{Statuses: []Status{StatusActive}})
}

// GetNewSubscriptionsCount counts subscriptions created within w.
func (a *Analytics) GetNewSubscriptionsCount(ctx context.Context, w Window) (int64, error) {
	return a.store.CountSubscriptions(ctx, SubscriptionFilter{Created: w})
}

// GetCanceledSubscriptionsCount counts canceled subscriptions whose cancellation falls within w.
func (a *Analytics) GetCanceledSubscriptionsCount(ctx context.Context, w Window) (int64, error) {
	return a.store.CountSubscriptions(ctx, SubscriptionFilter{Statuses: []Status{StatusCanceled}, Canceled: w})
}

// GetRevenueByPlan sums succeeded payments created within w by the paying
// subscription's current plan.
func (a *Analytics) GetRevenueByPlan(ctx context.Context, w Window) (map[uuid.UUID]Money, error) {
	payments, err := a.store.ListPayments(ctx, PaymentFilter{Status: PaymentSucceeded, Created: w})
	if err != nil {
		return nil, err
	}

	planOf := make(map[uuid.UUID]uuid.UUID)
	out := make(map[uuid.UUID]Money)
	for _, p := range payments {
		planID, ok := planOf[p.SubscriptionID]
		if !ok {
			sub, err := a.store.GetSubscription(ctx, p.SubscriptionID)
			if errors.Is(err, ErrSubscriptionNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			planID = sub.PlanID
			planOf[p.SubscriptionID] = planID
		}
		total := out[planID]
		total.Amount += p.Amount.Amount
		if total.Currency == "" {
			total.Currency = p.Amount.Currency
		}
		out[planID] = total
	}
	return out, nil
}
