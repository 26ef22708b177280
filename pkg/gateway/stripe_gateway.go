package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/logger"
)

// SubscriptionClient is the part of the Stripe subscriptions API the adapter calls.
// *subscription.Client from stripe-go satisfies it.
type SubscriptionClient interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Cancel(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
}

// StripeGateway implements billing.GatewayAdapter over the Stripe API.
// Stripe computes proration; the adapter only reports the resulting state.
type StripeGateway struct {
	subscriptions SubscriptionClient
	proration     string
	logger        *slog.Logger
}

// StripeGatewayOption configures a StripeGateway.
type StripeGatewayOption func(*StripeGateway)

// WithProrationBehavior overrides the proration_behavior sent on plan changes
// (create_prorations, always_invoice or none).
func WithProrationBehavior(behavior string) StripeGatewayOption {
	return func(g *StripeGateway) {
		if behavior != "" {
			g.proration = behavior
		}
	}
}

// WithStripeLogger sets the adapter's logger.
func WithStripeLogger(l *slog.Logger) StripeGatewayOption {
	return func(g *StripeGateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewStripeGateway creates an adapter using the given API secret key.
func NewStripeGateway(apiKey string, opts ...StripeGatewayOption) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return NewStripeGatewayWithClient(sc.Subscriptions, opts...)
}

// NewStripeGatewayWithClient creates an adapter over an existing subscriptions client.
func NewStripeGatewayWithClient(subscriptions SubscriptionClient, opts ...StripeGatewayOption) *StripeGateway {
	if subscriptions == nil {
		panic("gateway: stripe subscriptions client is required")
	}
	g := &StripeGateway{
		subscriptions: subscriptions,
		proration:     "create_prorations",
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(logger.Gateway(Stripe))
	return g
}

// UpdateSubscription swaps the subscription's item to the plan's price.
func (g *StripeGateway) UpdateSubscription(ctx context.Context, sub *billing.Subscription, plan *billing.Plan) (*billing.GatewaySubscription, error) {
	if !sub.HasGatewayLink() {
		return nil, billing.ErrMissingGatewayLink
	}
	if plan.GatewayPriceID == "" {
		return nil, fmt.Errorf("%w: plan %s", ErrMissingPriceID, plan.ID)
	}

	current, err := g.subscriptions.Get(sub.GatewaySubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		g.logError(ctx, "get subscription", sub, err)
		return nil, fmt.Errorf("stripe: failed to get subscription: %w", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, ErrNoSubscriptionItem
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(current.Items.Data[0].ID),
			Price: stripe.String(plan.GatewayPriceID),
		}},
		ProrationBehavior: stripe.String(g.proration),
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(fmt.Sprintf("plan-change:%s:%s:%d", sub.ID, plan.ID, sub.Version)),
		},
	}
	updated, err := g.subscriptions.Update(sub.GatewaySubscriptionID, params)
	if err != nil {
		g.logError(ctx, "update subscription", sub, err)
		return nil, fmt.Errorf("stripe: failed to update subscription: %w", err)
	}
	return stripeResponse(updated), nil
}

// CancelSubscription cancels now, or flags cancel_at_period_end when atPeriodEnd is set.
// A subscription Stripe no longer knows is reported as canceled.
func (g *StripeGateway) CancelSubscription(ctx context.Context, sub *billing.Subscription, atPeriodEnd bool) (*billing.GatewaySubscription, error) {
	if !sub.HasGatewayLink() {
		return nil, billing.ErrMissingGatewayLink
	}

	var (
		resp *stripe.Subscription
		err  error
	)
	if atPeriodEnd {
		resp, err = g.subscriptions.Update(sub.GatewaySubscriptionID, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
			Params:            stripe.Params{Context: ctx},
		})
	} else {
		resp, err = g.subscriptions.Cancel(sub.GatewaySubscriptionID, &stripe.SubscriptionCancelParams{
			Params: stripe.Params{Context: ctx},
		})
	}
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			g.logger.LogAttrs(ctx, slog.LevelWarn, "stripe subscription already gone",
				logger.GatewaySubscriptionID(sub.GatewaySubscriptionID),
			)
			return &billing.GatewaySubscription{
				SubscriptionID: sub.GatewaySubscriptionID,
				CustomerID:     sub.GatewayCustomerID,
				Status:         billing.StatusCanceled,
			}, nil
		}
		g.logError(ctx, "cancel subscription", sub, err)
		return nil, fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}
	return stripeResponse(resp), nil
}

func (g *StripeGateway) logError(ctx context.Context, op string, sub *billing.Subscription, err error) {
	attrs := []slog.Attr{
		slog.String("operation", op),
		logger.SubscriptionID(sub.ID),
		logger.GatewaySubscriptionID(sub.GatewaySubscriptionID),
		logger.Error(err),
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		attrs = append(attrs,
			slog.String("stripe_type", string(stripeErr.Type)),
			slog.String("stripe_code", string(stripeErr.Code)),
			slog.String("request_id", stripeErr.RequestID),
			slog.Int("status_code", stripeErr.HTTPStatusCode),
		)
	}
	g.logger.LogAttrs(ctx, slog.LevelError, "stripe api error", attrs...)
}

func stripeResponse(sub *stripe.Subscription) *billing.GatewaySubscription {
	resp := &billing.GatewaySubscription{
		SubscriptionID:     sub.ID,
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		resp.CustomerID = sub.Customer.ID
	}
	resp.Status, _ = StripeStatuses.Lookup(string(sub.Status))
	return resp
}
