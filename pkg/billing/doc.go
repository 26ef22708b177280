// Package billing implements subscription lifecycle management and
// reconciliation of payment gateway webhooks against local subscription state.
//
// The payment gateway is the system of record for money: it charges, prorates
// and retries. This package mirrors what the gateway reports, enforces the
// subscription state machine, and keeps plans, coupons and notifications
// consistent with it.
//
// # Architecture
//
//   - Subscription: aggregate whose status only moves along the edges of the
//     transition table (trialing, active, past_due, canceled)
//   - WebhookReconciler: applies canonical gateway events idempotently, one
//     reconciler per gateway, each fed by that gateway's Normalizer
//   - LifecycleService: create, plan change, cancel and reactivate commands;
//     plan changes go through a GatewayAdapter whose answer is authoritative
//   - TrialSweeper: scheduled batch jobs for trial reminders, trial expiry and
//     deferred cancellations, committing each subscription independently
//   - Analytics: MRR, churn and revenue figures
//   - CouponEngine: coupon validation and redemption
//   - PlanAdmin: plan catalog mutations with an audit trail
//   - Store: persistence boundary with a unit of work (InTx) and the
//     notification outbox
//
// MemoryStore implements Store in process. The pgstore subpackage implements
// it on PostgreSQL.
//
// # Idempotency
//
// Subscription events are keyed by the gateway subscription id and payment
// events by the gateway invoice id, so a redelivered webhook updates rather
// than duplicates. Events older than the last one applied to a subscription
// are skipped. Unknown event types and subscriptions this system does not
// track succeed without side effects.
//
// # Usage
//
//	store := billing.NewMemoryStore()
//	reconciler := billing.NewReconciler(store, gateway.NewStripeNormalizer(),
//		billing.WithLogger(log),
//	)
//
//	res, err := reconciler.ProcessEvent(ctx, event.Type, event.Data.Raw)
//	if err != nil && billing.IsRetryable(err) {
//		// respond 5xx so the gateway redelivers
//	}
//
// # Money
//
// Amounts are integer minor units. MRR is accumulated in twelfths of a
// monthly amount and rounded half up once, so a yearly price of 36000 and a
// monthly price of 3000 contribute the same 3000.
package billing
