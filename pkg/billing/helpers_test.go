package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/billing"
)

var epoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: epoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func freePlan() *billing.Plan {
	return &billing.Plan{
		ID:           uuid.New(),
		Name:         "Free",
		Tier:         billing.TierFree,
		Capabilities: []billing.Capability{billing.CapabilityFeed},
		IsDefault:    true,
		IsActive:     true,
		CreatedAt:    epoch.Add(-time.Hour),
	}
}

func basicPlan() *billing.Plan {
	return &billing.Plan{
		ID:             uuid.New(),
		Name:           "Basic",
		Tier:           billing.TierBasic,
		Price:          billing.Money{Amount: 2990, Currency: "USD"},
		Cycle:          billing.CycleMonthly,
		Capabilities:   []billing.Capability{billing.CapabilityFeed},
		IsActive:       true,
		TrialDays:      7,
		GatewayPriceID: "price_basic",
		CreatedAt:      epoch.Add(-time.Hour),
	}
}

func premiumPlan() *billing.Plan {
	return &billing.Plan{
		ID:             uuid.New(),
		Name:           "Premium",
		Tier:           billing.TierPremium,
		Price:          billing.Money{Amount: 36000, Currency: "USD"},
		Cycle:          billing.CycleYearly,
		Capabilities:   []billing.Capability{billing.CapabilityFeed, "analytics"},
		IsActive:       true,
		GatewayPriceID: "price_premium",
		CreatedAt:      epoch.Add(-time.Hour),
	}
}

func seedPlans(t *testing.T, store billing.Store, plans ...*billing.Plan) {
	t.Helper()
	for _, p := range plans {
		require.NoError(t, store.CreatePlan(context.Background(), p))
	}
}

// seedSubscription stores a subscription to plan created at now, optionally linked to a gateway id.
func seedSubscription(t *testing.T, store billing.Store, plan *billing.Plan, now time.Time, gatewayID string) *billing.Subscription {
	t.Helper()
	sub := billing.NewSubscription(uuid.New(), nil, plan, now)
	sub.LinkGateway(gatewayID, "")
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return sub
}
