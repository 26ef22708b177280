package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/gateway"
)

type mockSubscriptionClient struct {
	mock.Mock
}

func (m *mockSubscriptionClient) result(args mock.Arguments) (*stripe.Subscription, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}

func (m *mockSubscriptionClient) Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return m.result(m.Called(id, params))
}

func (m *mockSubscriptionClient) Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return m.result(m.Called(id, params))
}

func (m *mockSubscriptionClient) Cancel(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	return m.result(m.Called(id, params))
}

func linkedSubscription() *billing.Subscription {
	sub := &billing.Subscription{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		PlanID:  uuid.New(),
		Status:  billing.StatusActive,
		Version: 4,
	}
	sub.LinkGateway("sub_1", "cus_1")
	return sub
}

func remoteSubscription(status stripe.SubscriptionStatus) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                 "sub_1",
		Customer:           &stripe.Customer{ID: "cus_1"},
		Status:             status,
		CurrentPeriodStart: epoch.Unix(),
		CurrentPeriodEnd:   periodEnd.Unix(),
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{ID: "si_1", Price: &stripe.Price{ID: "price_basic"}}},
		},
	}
}

func TestStripeGatewayUpdateSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	plan := &billing.Plan{ID: uuid.New(), GatewayPriceID: "price_premium"}

	t.Run("swaps the item price", func(t *testing.T) {
		t.Parallel()
		client := &mockSubscriptionClient{}
		sub := linkedSubscription()
		client.On("Get", "sub_1", mock.Anything).Return(remoteSubscription(stripe.SubscriptionStatusActive), nil)
		client.On("Update", "sub_1", mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
			return len(p.Items) == 1 &&
				*p.Items[0].ID == "si_1" &&
				*p.Items[0].Price == "price_premium" &&
				*p.ProrationBehavior == "always_invoice" &&
				*p.IdempotencyKey == "plan-change:"+sub.ID.String()+":"+plan.ID.String()+":4"
		})).Return(remoteSubscription(stripe.SubscriptionStatusActive), nil)

		g := gateway.NewStripeGatewayWithClient(client, gateway.WithProrationBehavior("always_invoice"))
		resp, err := g.UpdateSubscription(ctx, sub, plan)
		require.NoError(t, err)
		assert.Equal(t, "sub_1", resp.SubscriptionID)
		assert.Equal(t, "cus_1", resp.CustomerID)
		assert.Equal(t, billing.StatusActive, resp.Status)
		assert.Equal(t, epoch, resp.CurrentPeriodStart)
		assert.Equal(t, periodEnd, resp.CurrentPeriodEnd)
		client.AssertExpectations(t)
	})

	t.Run("requires a gateway link", func(t *testing.T) {
		t.Parallel()
		g := gateway.NewStripeGatewayWithClient(&mockSubscriptionClient{})
		_, err := g.UpdateSubscription(ctx, &billing.Subscription{ID: uuid.New()}, plan)
		assert.ErrorIs(t, err, billing.ErrMissingGatewayLink)
	})

	t.Run("requires a price", func(t *testing.T) {
		t.Parallel()
		g := gateway.NewStripeGatewayWithClient(&mockSubscriptionClient{})
		_, err := g.UpdateSubscription(ctx, linkedSubscription(), &billing.Plan{ID: uuid.New()})
		assert.ErrorIs(t, err, gateway.ErrMissingPriceID)
	})

	t.Run("remote subscription without items", func(t *testing.T) {
		t.Parallel()
		client := &mockSubscriptionClient{}
		remote := remoteSubscription(stripe.SubscriptionStatusActive)
		remote.Items = nil
		client.On("Get", "sub_1", mock.Anything).Return(remote, nil)

		_, err := gateway.NewStripeGatewayWithClient(client).UpdateSubscription(ctx, linkedSubscription(), plan)
		assert.ErrorIs(t, err, gateway.ErrNoSubscriptionItem)
		client.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("api error is wrapped", func(t *testing.T) {
		t.Parallel()
		client := &mockSubscriptionClient{}
		apiErr := &stripe.Error{HTTPStatusCode: 429, Msg: "Too many requests"}
		client.On("Get", "sub_1", mock.Anything).Return(remoteSubscription(stripe.SubscriptionStatusActive), nil)
		client.On("Update", "sub_1", mock.Anything).Return(nil, apiErr)

		_, err := gateway.NewStripeGatewayWithClient(client).UpdateSubscription(ctx, linkedSubscription(), plan)
		var got *stripe.Error
		require.ErrorAs(t, err, &got)
		assert.Equal(t, 429, got.HTTPStatusCode)
	})
}

func TestStripeGatewayCancelSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("at period end flags the subscription", func(t *testing.T) {
		t.Parallel()
		client := &mockSubscriptionClient{}
		remote := remoteSubscription(stripe.SubscriptionStatusActive)
		remote.CancelAtPeriodEnd = true
		client.On("Update", "sub_1", mock.MatchedBy(func(p *stripe.SubscriptionParams) bool {
			return p.CancelAtPeriodEnd != nil && *p.CancelAtPeriodEnd
		})).Return(remote, nil)

		resp, err := gateway.NewStripeGatewayWithClient(client).CancelSubscription(ctx, linkedSubscription(), true)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, resp.Status)
		client.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	})

	t.Run("immediately", func(t *testing.T) {
		t.Parallel()
		client := &mockSubscriptionClient{}
		client.On("Cancel", "sub_1", mock.Anything).Return(remoteSubscription(stripe.SubscriptionStatusCanceled), nil)

		resp, err := gateway.NewStripeGatewayWithClient(client).CancelSubscription(ctx, linkedSubscription(), false)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, resp.Status)
		client.AssertExpectations(t)
	})

	t.Run("already gone counts as canceled", func(t *testing.T) {
		t.Parallel()
		client := &mockSubscriptionClient{}
		client.On("Cancel", "sub_1", mock.Anything).Return(nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404})

		resp, err := gateway.NewStripeGatewayWithClient(client).CancelSubscription(ctx, linkedSubscription(), false)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, resp.Status)
		assert.Equal(t, "cus_1", resp.CustomerID)
	})

	t.Run("other errors fail", func(t *testing.T) {
		t.Parallel()
		client := &mockSubscriptionClient{}
		down := errors.New("connection reset")
		client.On("Cancel", "sub_1", mock.Anything).Return(nil, down)

		_, err := gateway.NewStripeGatewayWithClient(client).CancelSubscription(ctx, linkedSubscription(), false)
		assert.ErrorIs(t, err, down)
	})
}

func TestNewStripeGatewayWithClientPanicsOnNil(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { gateway.NewStripeGatewayWithClient(nil) })
}
