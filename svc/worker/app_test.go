package worker_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/svc/worker"
)

var epoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg *billing.OutboxMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func testConfig() worker.Config {
	return worker.Config{
		BaselineCapability:    "feed",
		ReportingCurrency:     "USD",
		MaxRetries:            3,
		TrialReminderDays:     3,
		TrialReminderInterval: time.Hour,
		TrialSweepInterval:    time.Minute,
		PeriodEndInterval:     time.Minute,
		OutboxInterval:        time.Second,
		OutboxBatch:           2,
		LockTTL:               time.Minute,
		Stripe:                worker.StripeConfig{WebhookSecret: "whsec_test"},
	}
}

func trialPlan() *billing.Plan {
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
		CreatedAt:      epoch.Add(-30 * 24 * time.Hour),
	}
}

// seedTrials creates one trial ending in two days and one that ended yesterday.
func seedTrials(t *testing.T, store *billing.MemoryStore) (endingSoon, expired *billing.Subscription) {
	t.Helper()
	ctx := context.Background()
	plan := trialPlan()
	require.NoError(t, store.CreatePlan(ctx, plan))

	endingSoon = billing.NewSubscription(uuid.New(), nil, plan, epoch.AddDate(0, 0, -5))
	expired = billing.NewSubscription(uuid.New(), nil, plan, epoch.AddDate(0, 0, -8))
	require.NoError(t, store.CreateSubscription(ctx, endingSoon))
	require.NoError(t, store.CreateSubscription(ctx, expired))
	return endingSoon, expired
}

func newApp(t *testing.T, store *billing.MemoryStore, publisher billing.Publisher) *worker.App {
	t.Helper()
	app, err := worker.NewApp(testConfig(), worker.Deps{
		Store:     store,
		Publisher: publisher,
		Clock:     func() time.Time { return epoch },
	})
	require.NoError(t, err)
	return app
}

func stripeSignature(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestAppJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sweeps enqueue notices that the relay publishes", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		endingSoon, expired := seedTrials(t, store)

		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
		app := newApp(t, store, pub)

		scheduler, err := app.NewScheduler()
		require.NoError(t, err)
		require.NoError(t, scheduler.RunOnce(ctx))

		got, err := store.GetSubscription(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)

		got, err = store.GetSubscription(ctx, endingSoon.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialing, got.Status)

		kinds := map[billing.NotificationKind]int{}
		for _, call := range pub.Calls {
			kinds[call.Arguments.Get(1).(*billing.OutboxMessage).Kind]++
		}
		assert.Equal(t, map[billing.NotificationKind]int{
			billing.KindTrialWillEnd: 1,
			billing.KindTrialEnded:   1,
		}, kinds)

		pending, err := store.PendingOutbox(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)

		require.NoError(t, scheduler.RunOnce(ctx))
		assert.Len(t, pub.Calls, 2, "reruns do not notify twice")
	})

	t.Run("relay job exists only with a publisher", func(t *testing.T) {
		t.Parallel()
		names := func(jobs []worker.Job) []string {
			out := make([]string, len(jobs))
			for i, j := range jobs {
				out[i] = j.Name
			}
			return out
		}
		assert.Equal(t, []string{"trial-reminders", "expired-trials", "period-end-cancellations"},
			names(newApp(t, billing.NewMemoryStore(), nil).Jobs()))
		assert.Contains(t, names(newApp(t, billing.NewMemoryStore(), &mockPublisher{}).Jobs()), "outbox-relay")
	})

	t.Run("relay failure surfaces as a job error", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		seedTrials(t, store)

		down := fmt.Errorf("stream unavailable")
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything).Return(down)

		scheduler, err := newApp(t, store, pub).NewScheduler()
		require.NoError(t, err)
		require.NoError(t, scheduler.RunJob(ctx, "trial-reminders"))
		assert.ErrorIs(t, scheduler.RunJob(ctx, "outbox-relay"), down)

		pending, err := store.PendingOutbox(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}

func TestAppDrainOutboxWithoutBatchSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()
	seedTrials(t, store)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	cfg := testConfig()
	cfg.OutboxBatch = 0
	app, err := worker.NewApp(cfg, worker.Deps{
		Store:     store,
		Publisher: pub,
		Clock:     func() time.Time { return epoch },
	})
	require.NoError(t, err)
	assert.Equal(t, 100, app.Relay.Batch())

	scheduler, err := app.NewScheduler()
	require.NoError(t, err)
	require.NoError(t, scheduler.RunJob(ctx, "trial-reminders"))

	for range 2 {
		done := make(chan error, 1)
		go func() { done <- scheduler.RunJob(ctx, "outbox-relay") }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("outbox relay job did not return")
		}
	}
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestAppHandleWebhook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := billing.NewMemoryStore()
	_, expired := seedTrials(t, store)
	expired.LinkGateway("sub_1", "cus_1")
	require.NoError(t, store.UpdateSubscription(ctx, expired))
	app := newApp(t, store, nil)

	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.updated",
		"created": 1741611600,
		"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "active"}}
	}`)

	t.Run("verified delivery is reconciled", func(t *testing.T) {
		res, err := app.HandleWebhook(ctx, gateway.Stripe, "customer.subscription.updated", payload, stripeSignature("whsec_test", payload))
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, res.Outcome)
		assert.Equal(t, expired.ID, res.SubscriptionID)

		got, err := store.GetSubscription(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		_, err := app.HandleWebhook(ctx, gateway.Stripe, "customer.subscription.updated", payload, stripeSignature("whsec_other", payload))
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("gateway without secret is unknown", func(t *testing.T) {
		_, err := app.HandleWebhook(ctx, gateway.Paddle, "subscription.updated", payload, "")
		assert.ErrorIs(t, err, worker.ErrUnknownGateway)
	})
}

func TestAppGatewayUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()
	_, expired := seedTrials(t, store)
	expired.LinkGateway("sub_1", "cus_1")
	require.NoError(t, store.UpdateSubscription(ctx, expired))

	_, err := newApp(t, store, nil).Lifecycle.CancelSubscription(ctx, expired.ID, false)
	assert.ErrorIs(t, err, worker.ErrGatewayUnavailable)
}

func TestAppHealthcheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no probes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, newApp(t, billing.NewMemoryStore(), nil).Healthcheck(ctx))
	})

	t.Run("joins failing probes", func(t *testing.T) {
		t.Parallel()
		down := errors.New("connection refused")
		app, err := worker.NewApp(testConfig(), worker.Deps{
			Store: billing.NewMemoryStore(),
			Checks: map[string]func(context.Context) error{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return down },
			},
		})
		require.NoError(t, err)

		err = app.Healthcheck(ctx)
		require.ErrorIs(t, err, down)
		assert.Contains(t, err.Error(), "redis")
		assert.NotContains(t, err.Error(), "postgres")
	})
}
