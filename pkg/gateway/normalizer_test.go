package gateway_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/gateway"
)

var (
	epoch     = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	periodEnd = time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

func TestStripeNormalizer(t *testing.T) {
	t.Parallel()
	n := gateway.NewStripeNormalizer()
	assert.Equal(t, gateway.Stripe, n.Gateway())

	t.Run("subscription updated", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("customer.subscription.updated", fixture(t, "stripe_subscription_updated.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventSubscriptionUpdated, event.Kind)
		assert.Equal(t, gateway.Stripe, event.Gateway)
		assert.Equal(t, "sub_1", event.SubscriptionRef)
		assert.Equal(t, "cus_1", event.CustomerRef)
		assert.Equal(t, "price_premium", event.PriceRef)
		assert.Equal(t, billing.StatusPastDue, event.Status)
		assert.Equal(t, "past_due", event.GatewayStatus)
		assert.Equal(t, epoch, event.PeriodStart)
		assert.Equal(t, periodEnd, event.PeriodEnd)
		assert.True(t, event.OccurredAt.IsZero())
	})

	t.Run("full event carries its creation time", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("customer.subscription.deleted", fixture(t, "stripe_subscription_deleted_event.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventSubscriptionDeleted, event.Kind)
		assert.Equal(t, billing.StatusCanceled, event.Status)
		assert.Equal(t, "cus_1", event.CustomerRef)
		assert.Equal(t, epoch.Add(time.Hour), event.OccurredAt)
		assert.Equal(t, epoch.Add(time.Hour), event.CanceledAt, "ended_at wins over canceled_at")
	})

	t.Run("trial will end", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("customer.subscription.trial_will_end", fixture(t, "stripe_trial_will_end.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventTrialWillEnd, event.Kind)
		assert.Equal(t, billing.StatusTrialing, event.Status)
		assert.Equal(t, epoch.AddDate(0, 0, 7), event.TrialEnd)
	})

	t.Run("invoice paid uses the line period", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("invoice.paid", fixture(t, "stripe_invoice_paid.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventPaymentSucceeded, event.Kind)
		assert.Equal(t, "in_1", event.InvoiceRef)
		assert.Equal(t, "sub_1", event.SubscriptionRef)
		assert.Equal(t, billing.Money{Amount: 2990, Currency: "USD"}, event.Amount)
		assert.Equal(t, "price_basic", event.PriceRef)
		assert.Equal(t, epoch, event.PeriodStart)
		assert.Equal(t, periodEnd, event.PeriodEnd)
		assert.Empty(t, event.FailureReason)
	})

	t.Run("invoice payment failed", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("invoice.payment_failed", fixture(t, "stripe_invoice_payment_failed.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventPaymentFailed, event.Kind)
		assert.Equal(t, billing.PaymentFailed, event.PaymentStatus())
		assert.Equal(t, int64(2990), event.Amount.Amount, "failed invoices report the amount due")
		assert.Equal(t, "payment_failed after 2 attempts", event.FailureReason)
		assert.Equal(t, epoch, event.PeriodStart)
	})

	t.Run("marked uncollectible", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("invoice.marked_uncollectible", fixture(t, "stripe_invoice_payment_failed.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.PaymentRejected, event.PaymentStatus())
		assert.Equal(t, "marked_uncollectible", event.FailureReason)
	})

	t.Run("unknown type is not decoded", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("charge.refunded", []byte("not json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnknown, event.Kind)
		assert.Equal(t, "charge.refunded", event.GatewayEventType)
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		for _, payload := range []string{`{"object":`, `{}`, `{"object": null}`} {
			_, err := n.Normalize("customer.subscription.updated", []byte(payload))
			assert.ErrorIs(t, err, billing.ErrMalformedPayload, payload)
		}
	})
}

func TestPaddleNormalizer(t *testing.T) {
	t.Parallel()
	n := gateway.NewPaddleNormalizer()
	assert.Equal(t, gateway.Paddle, n.Gateway())

	t.Run("notification envelope", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("subscription.updated", fixture(t, "paddle_subscription_updated.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventSubscriptionUpdated, event.Kind)
		assert.Equal(t, "sub_01", event.SubscriptionRef)
		assert.Equal(t, "ctm_01", event.CustomerRef)
		assert.Equal(t, "pri_basic", event.PriceRef)
		assert.Equal(t, billing.StatusActive, event.Status)
		assert.Equal(t, epoch, event.PeriodStart)
		assert.Equal(t, periodEnd, event.PeriodEnd)
		assert.Equal(t, epoch.Add(time.Hour), event.OccurredAt)
	})

	t.Run("data only payload with trial dates", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("subscription.trialing", fixture(t, "paddle_subscription_trialing.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialing, event.Status)
		assert.Equal(t, "pri_basic", event.PriceRef)
		assert.Equal(t, epoch.AddDate(0, 0, 7), event.TrialEnd)
		assert.True(t, event.OccurredAt.IsZero())
	})

	t.Run("transaction with numeric ids and string totals", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("transaction.completed", fixture(t, "paddle_transaction_completed.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventPaymentSucceeded, event.Kind)
		assert.Equal(t, "9012", event.InvoiceRef)
		assert.Equal(t, "sub_01", event.SubscriptionRef)
		assert.Equal(t, "345", event.CustomerRef)
		assert.Equal(t, billing.Money{Amount: 2990, Currency: "USD"}, event.Amount)
		assert.Equal(t, epoch, event.PeriodStart)
		assert.Equal(t, periodEnd, event.PeriodEnd)
		assert.Empty(t, event.Status, "transactions carry no subscription status")
	})

	t.Run("failed transaction reports the last error code", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("transaction.payment_failed", fixture(t, "paddle_transaction_payment_failed.json"))
		require.NoError(t, err)
		assert.Equal(t, billing.EventPaymentFailed, event.Kind)
		assert.Equal(t, billing.Money{Amount: 1500, Currency: "EUR"}, event.Amount)
		assert.Equal(t, "insufficient_funds", event.FailureReason)
		assert.Equal(t, epoch.Add(2*time.Hour), event.OccurredAt)
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()
		event, err := n.Normalize("address.created", nil)
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnknown, event.Kind)
	})

	t.Run("fractional amount is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := n.Normalize("transaction.completed", []byte(`{"id":"txn_1","subscription_id":"sub_01","amount":"29.90"}`))
		assert.ErrorIs(t, err, billing.ErrMalformedPayload)
	})
}
