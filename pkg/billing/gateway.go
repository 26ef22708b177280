package billing

import (
	"context"
	"time"
)

// GatewayAdapter performs money-moving operations at the payment gateway.
// Its responses are authoritative: the engine mirrors them and never
// computes proration itself.
type GatewayAdapter interface {
	// UpdateSubscription moves the gateway subscription to plan, prorating server-side.
	UpdateSubscription(ctx context.Context, subscription *Subscription, plan *Plan) (*GatewaySubscription, error)

	// CancelSubscription cancels the gateway subscription now or at its period end.
	CancelSubscription(ctx context.Context, subscription *Subscription, atPeriodEnd bool) (*GatewaySubscription, error)
}

// GatewaySubscription is the gateway's view of a subscription after an operation.
type GatewaySubscription struct {
	SubscriptionID     string
	CustomerID         string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Status             Status
}
