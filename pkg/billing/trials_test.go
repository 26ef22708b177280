package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/billing"
)

// seedTrial stores a trialing subscription whose trial ends after the given offset from epoch.
func seedTrial(t *testing.T, store billing.Store, plan *billing.Plan, endsIn time.Duration) *billing.Subscription {
	t.Helper()
	sub := billing.NewSubscription(uuid.New(), nil, plan, epoch.Add(-time.Hour))
	trialEnd := epoch.Add(endsIn)
	sub.TrialEnd = &trialEnd
	sub.CurrentPeriodEnd = trialEnd
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return sub
}

func TestGetTrialsExpiringSoon(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()
	plan := basicPlan()
	seedPlans(t, store, plan)

	want := make(map[uuid.UUID]bool)
	for _, days := range []int{1, 2, 3, 5, 10} {
		sub := seedTrial(t, store, plan, time.Duration(days)*24*time.Hour)
		if days <= 3 {
			want[sub.ID] = true
		}
	}
	seedTrial(t, store, plan, -time.Hour)

	sweeper := billing.NewTrialSweeper(store, billing.WithClock(newTestClock().Now))
	subs, err := sweeper.GetTrialsExpiringSoon(ctx, 3)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	for _, sub := range subs {
		assert.True(t, want[sub.ID], "unexpected subscription %s", sub.ID)
	}

	_, err = sweeper.GetTrialsExpiringSoon(ctx, -1)
	require.Error(t, err)
}

func TestSendTrialReminders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()
	plan := basicPlan()
	seedPlans(t, store, plan)
	seedTrial(t, store, plan, 2*24*time.Hour)
	seedTrial(t, store, plan, 20*24*time.Hour)
	sweeper := billing.NewTrialSweeper(store, billing.WithClock(newTestClock().Now))

	for range 2 {
		report, err := sweeper.SendTrialReminders(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Scanned)
		require.NoError(t, report.Err())
	}

	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, billing.KindTrialWillEnd, outbox[0].Kind)
}

func TestProcessExpiredTrials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("activates and notifies once", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		plan := basicPlan()
		seedPlans(t, store, plan)
		expired := seedTrial(t, store, plan, -time.Minute)
		running := seedTrial(t, store, plan, 24*time.Hour)
		sweeper := billing.NewTrialSweeper(store, billing.WithClock(newTestClock().Now))

		report, err := sweeper.ProcessExpiredTrials(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Scanned)
		assert.Equal(t, 1, report.Processed)

		got, err := store.GetSubscription(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
		assert.Equal(t, *expired.TrialEnd, got.CurrentPeriodStart)
		assert.Equal(t, expired.TrialEnd.AddDate(0, 1, 0), got.CurrentPeriodEnd)

		still, err := store.GetSubscription(ctx, running.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialing, still.Status)

		report, err = sweeper.ProcessExpiredTrials(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Scanned)

		outbox := store.Outbox()
		require.Len(t, outbox, 1)
		assert.Equal(t, billing.KindTrialEnded, outbox[0].Kind)
		assert.Equal(t, []uuid.UUID{expired.UserID}, outbox[0].Recipients)
	})

	t.Run("one failing item does not block the rest", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		plan := basicPlan()
		seedPlans(t, store, plan)
		orphan := basicPlan() // never stored, so loading it fails
		broken := seedTrial(t, store, orphan, -2*time.Minute)
		ok := seedTrial(t, store, plan, -time.Minute)
		sweeper := billing.NewTrialSweeper(store, billing.WithClock(newTestClock().Now))

		report, err := sweeper.ProcessExpiredTrials(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Scanned)
		assert.Equal(t, 1, report.Processed)
		assert.Equal(t, 1, report.Failed)
		require.ErrorIs(t, report.Err(), billing.ErrPlanNotFound)

		got, err := store.GetSubscription(ctx, ok.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)

		left, err := store.GetSubscription(ctx, broken.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialing, left.Status)
	})
}
