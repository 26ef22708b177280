package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/gateway"
)

func seedStripeSubscription(t *testing.T, store *billing.MemoryStore) (*billing.Subscription, *billing.Plan, *billing.Plan) {
	t.Helper()
	ctx := context.Background()
	basic := &billing.Plan{
		ID:             uuid.New(),
		Name:           "Basic",
		Tier:           billing.TierBasic,
		Price:          billing.Money{Amount: 2990, Currency: "USD"},
		Cycle:          billing.CycleMonthly,
		Capabilities:   []billing.Capability{billing.CapabilityFeed},
		IsActive:       true,
		GatewayPriceID: "price_basic",
		CreatedAt:      epoch.Add(-time.Hour),
	}
	premium := &billing.Plan{
		ID:             uuid.New(),
		Name:           "Premium",
		Tier:           billing.TierPremium,
		Price:          billing.Money{Amount: 36000, Currency: "USD"},
		Cycle:          billing.CycleYearly,
		Capabilities:   []billing.Capability{billing.CapabilityFeed},
		IsActive:       true,
		GatewayPriceID: "price_premium",
		CreatedAt:      epoch.Add(-time.Hour),
	}
	require.NoError(t, store.CreatePlan(ctx, basic))
	require.NoError(t, store.CreatePlan(ctx, premium))

	sub := billing.NewSubscription(uuid.New(), nil, basic, epoch.Add(-24*time.Hour))
	sub.LinkGateway("sub_1", "")
	require.NoError(t, store.CreateSubscription(ctx, sub))
	return sub, basic, premium
}

func TestStripeWebhooksReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := func() time.Time { return epoch.Add(2 * time.Hour) }

	t.Run("renewal payment extends the period", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		sub, _, _ := seedStripeSubscription(t, store)
		r := billing.NewReconciler(store, gateway.NewStripeNormalizer(), billing.WithClock(now))

		res, err := r.ProcessEvent(ctx, "invoice.paid", fixture(t, "stripe_invoice_paid.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, res.Outcome)

		payment, err := store.GetPaymentByInvoiceID(ctx, "in_1")
		require.NoError(t, err)
		assert.Equal(t, billing.PaymentSucceeded, payment.Status)
		assert.Equal(t, sub.ID, payment.SubscriptionID)

		got, err := store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, periodEnd, got.CurrentPeriodEnd)
		assert.Equal(t, "cus_1", got.GatewayCustomerID)
	})

	t.Run("update mirrors status and plan", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		sub, _, premium := seedStripeSubscription(t, store)
		r := billing.NewReconciler(store, gateway.NewStripeNormalizer(), billing.WithClock(now))

		_, err := r.ProcessEvent(ctx, "customer.subscription.updated", fixture(t, "stripe_subscription_updated.json"))
		require.NoError(t, err)

		got, err := store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.Equal(t, sub.PlanID, got.PlanID, "past due subscriptions keep their plan")
		assert.NotEqual(t, premium.ID, got.PlanID)
	})

	t.Run("deletion cancels and later stale events are skipped", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		sub, _, _ := seedStripeSubscription(t, store)
		r := billing.NewReconciler(store, gateway.NewStripeNormalizer(), billing.WithClock(now))

		_, err := r.ProcessEvent(ctx, "customer.subscription.deleted", fixture(t, "stripe_subscription_deleted_event.json"))
		require.NoError(t, err)

		got, err := store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, got.Status)
		require.NotNil(t, got.CanceledAt)
		assert.Equal(t, epoch.Add(time.Hour), *got.CanceledAt)

		older := gateway.NewStripeNormalizer()
		event, err := older.Normalize("customer.subscription.updated", fixture(t, "stripe_subscription_updated.json"))
		require.NoError(t, err)
		event.OccurredAt = epoch
		res, err := r.Apply(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeStale, res.Outcome)
	})

	t.Run("late active update does not revive a deleted subscription", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		sub, _, _ := seedStripeSubscription(t, store)
		r := billing.NewReconciler(store, gateway.NewStripeNormalizer(), billing.WithClock(now))

		_, err := r.ProcessEvent(ctx, "customer.subscription.deleted", fixture(t, "stripe_subscription_deleted.json"))
		require.NoError(t, err)

		_, err = r.ProcessEvent(ctx, "customer.subscription.updated", fixture(t, "stripe_subscription_active.json"))
		require.ErrorIs(t, err, billing.ErrInvalidTransition)
		assert.False(t, billing.IsRetryable(err))

		got, err := store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, got.Status)
		require.NotNil(t, got.CanceledAt)
		assert.Equal(t, epoch.Add(time.Hour), *got.CanceledAt)
	})

	t.Run("one-off invoice is ignored", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		seedStripeSubscription(t, store)
		r := billing.NewReconciler(store, gateway.NewStripeNormalizer(), billing.WithClock(now))

		res, err := r.ProcessEvent(ctx, "invoice.paid", fixture(t, "stripe_invoice_oneoff.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeIgnored, res.Outcome)

		_, err = store.GetPaymentByInvoiceID(ctx, "in_oneoff")
		assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
	})

	t.Run("untracked subscription is ignored", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		r := billing.NewReconciler(store, gateway.NewStripeNormalizer(), billing.WithClock(now))

		res, err := r.ProcessEvent(ctx, "customer.subscription.updated", fixture(t, "stripe_subscription_updated.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeIgnored, res.Outcome)
	})
}
