// Package gateway adapts payment gateways to the billing engine.
//
// Each gateway contributes a billing.Normalizer that turns its webhook
// payloads into canonical billing events, a Verifier that authenticates
// deliveries, and optionally a billing.GatewayAdapter for money-moving calls.
//
// Stripe payloads nest the resource under an "object" key and carry unix
// timestamps. Paddle payloads are flat, may send identifiers as JSON numbers
// and send amounts as strings of minor units:
//
//	stripe := gateway.NewStripeNormalizer()
//	reconciler := billing.NewReconciler(store, stripe, billing.WithLogger(log))
//
//	if err := gateway.NewStripeVerifier(secret).Verify(ctx, body, r.Header.Get("Stripe-Signature")); err != nil {
//		return err
//	}
//	result, err := reconciler.ProcessEvent(ctx, eventType, body)
//
// Status strings are translated through a per-gateway billing.StatusTable.
// Values missing from the table leave Event.Status empty and the raw value
// in Event.GatewayStatus.
package gateway
