package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/billing"
)

func TestApplyCoupon(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T, c *billing.Coupon) (*billing.MemoryStore, *billing.CouponEngine, *billing.Plan) {
		store := billing.NewMemoryStore()
		plan := basicPlan()
		seedPlans(t, store, plan)
		engine := billing.NewCouponEngine(store, billing.WithClock(newTestClock().Now))
		require.NoError(t, engine.CreateCoupon(ctx, c))
		return store, engine, plan
	}

	t.Run("exhausted after max redemptions", func(t *testing.T) {
		t.Parallel()
		store, engine, plan := setup(t, &billing.Coupon{Code: "launch", DiscountType: billing.DiscountFixed, DiscountValue: 500, MaxRedemptions: 2})

		for range 2 {
			sub := seedSubscription(t, store, plan, epoch, "")
			_, err := engine.ApplyCoupon(ctx, sub.ID, "LAUNCH")
			require.NoError(t, err)
		}

		sub := seedSubscription(t, store, plan, epoch, "")
		_, err := engine.ApplyCoupon(ctx, sub.ID, "LAUNCH")
		require.ErrorIs(t, err, billing.ErrCouponExhausted)

		c, err := store.GetCouponByCode(ctx, "launch")
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.RedemptionsCount)
	})

	t.Run("concurrent redemptions never exceed the limit", func(t *testing.T) {
		t.Parallel()
		store, engine, plan := setup(t, &billing.Coupon{Code: "RACE", DiscountType: billing.DiscountPercentage, DiscountValue: 10, MaxRedemptions: 3})

		subs := make([]*billing.Subscription, 10)
		for i := range subs {
			subs[i] = seedSubscription(t, store, plan, epoch, "")
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for _, sub := range subs {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				if _, err := engine.ApplyCoupon(ctx, id, "race"); err == nil {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}(sub.ID)
		}
		wg.Wait()
		assert.Equal(t, 3, applied)
	})

	t.Run("one coupon per subscription", func(t *testing.T) {
		t.Parallel()
		store, engine, plan := setup(t, &billing.Coupon{Code: "ONCE", DiscountType: billing.DiscountFixed, DiscountValue: 100})
		sub := seedSubscription(t, store, plan, epoch, "")

		_, err := engine.ApplyCoupon(ctx, sub.ID, "once")
		require.NoError(t, err)
		_, err = engine.ApplyCoupon(ctx, sub.ID, "once")
		require.ErrorIs(t, err, billing.ErrCouponAlreadyApplied)
	})

	t.Run("outside validity window", func(t *testing.T) {
		t.Parallel()
		store, engine, plan := setup(t, &billing.Coupon{Code: "LATER", DiscountType: billing.DiscountFixed, DiscountValue: 100,
			ValidFrom: epoch.Add(time.Hour)})
		sub := seedSubscription(t, store, plan, epoch, "")

		_, err := engine.ApplyCoupon(ctx, sub.ID, "later")
		require.ErrorIs(t, err, billing.ErrCouponNotValid)
	})

	t.Run("unknown code and subscription", func(t *testing.T) {
		t.Parallel()
		store, engine, plan := setup(t, &billing.Coupon{Code: "REAL", DiscountType: billing.DiscountFixed, DiscountValue: 100})
		sub := seedSubscription(t, store, plan, epoch, "")

		_, err := engine.ApplyCoupon(ctx, sub.ID, "FAKE")
		require.ErrorIs(t, err, billing.ErrCouponNotFound)
		_, err = engine.ApplyCoupon(ctx, uuid.New(), "REAL")
		require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})
}

func TestPreviewCoupon(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()
	engine := billing.NewCouponEngine(store, billing.WithClock(newTestClock().Now))
	require.NoError(t, engine.CreateCoupon(ctx, &billing.Coupon{Code: "TEN", DiscountType: billing.DiscountPercentage, DiscountValue: 10}))
	require.NoError(t, engine.CreateCoupon(ctx, &billing.Coupon{Code: "BIG", DiscountType: billing.DiscountFixed, DiscountValue: 5000}))

	price := billing.Money{Amount: 2990, Currency: "USD"}
	off, err := engine.PreviewCoupon(ctx, "ten", price)
	require.NoError(t, err)
	assert.Equal(t, billing.Money{Amount: 299, Currency: "USD"}, off)

	off, err = engine.PreviewCoupon(ctx, "big", price)
	require.NoError(t, err)
	assert.Equal(t, price, off, "discount is capped at the price")
}

func TestCreateCouponValidation(t *testing.T) {
	t.Parallel()
	engine := billing.NewCouponEngine(billing.NewMemoryStore())

	for name, c := range map[string]*billing.Coupon{
		"empty code":        {DiscountType: billing.DiscountFixed, DiscountValue: 1},
		"percentage over":   {Code: "X", DiscountType: billing.DiscountPercentage, DiscountValue: 101},
		"unknown type":      {Code: "X", DiscountType: "bogo", DiscountValue: 1},
		"inverted validity": {Code: "X", DiscountType: billing.DiscountFixed, DiscountValue: 1, ValidFrom: epoch, ValidTo: epoch.Add(-time.Hour)},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, engine.CreateCoupon(context.Background(), c), billing.ErrInvalidCoupon)
		})
	}
}
