package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// Outcome describes what reconciling one webhook event did.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeIgnored  Outcome = "ignored"  // unknown event type or untracked subscription
	OutcomeStale    Outcome = "stale"    // older than the last applied gateway event
	OutcomeNotified Outcome = "notified" // notification enqueued, no state change
)

// Result is a successfully reconciled event.
type Result struct {
	Event          *Event
	Outcome        Outcome
	SubscriptionID uuid.UUID
	PaymentID      uuid.UUID
}

// WebhookReconciler applies one gateway's webhook events to local state.
// Redelivering the same event is safe: it converges to the same state.
type WebhookReconciler struct {
	store      Store
	normalizer Normalizer
	settings
}

// NewReconciler creates a reconciler for the gateway served by normalizer.
// Panics if store or normalizer is nil.
func NewReconciler(store Store, normalizer Normalizer, opts ...Option) *WebhookReconciler {
	if store == nil {
		panic("billing: Store is required")
	}
	if normalizer == nil {
		panic("billing: Normalizer is required")
	}
	r := &WebhookReconciler{
		store:      store,
		normalizer: normalizer,
		settings:   newSettings("webhook_reconciler", opts),
	}
	r.logger = r.logger.With(logger.Gateway(normalizer.Gateway()))
	return r
}

// ProcessEvent normalizes and applies a webhook payload.
// Unknown event types and untracked subscriptions succeed without side effects.
// Returned errors that satisfy IsRetryable should make the gateway redeliver.
func (r *WebhookReconciler) ProcessEvent(ctx context.Context, eventType string, payload []byte) (*Result, error) {
	event, err := r.normalizer.Normalize(eventType, payload)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "failed to normalize webhook payload",
			logger.EventType(eventType),
			logger.Error(err),
		)
		if !errors.Is(err, ErrMalformedPayload) {
			err = errors.Join(ErrMalformedPayload, err)
		}
		return nil, err
	}
	return r.Apply(ctx, event)
}

// Apply reconciles an already normalized event inside one unit of work.
func (r *WebhookReconciler) Apply(ctx context.Context, event *Event) (*Result, error) {
	var apply func(ctx context.Context, tx Store, event *Event) (*Result, error)
	switch {
	case event.IsSubscriptionEvent():
		apply = r.applySubscription
	case event.IsPaymentEvent():
		apply = r.applyPayment
	case event.Kind == EventTrialWillEnd:
		apply = r.applyTrialWillEnd
	default:
		r.logger.LogAttrs(ctx, slog.LevelDebug, "ignoring unhandled webhook event",
			logger.EventType(event.GatewayEventType),
		)
		return &Result{Event: event, Outcome: OutcomeIgnored}, nil
	}

	var res *Result
	err := r.retry(ctx, func() error {
		return r.store.InTx(ctx, func(tx Store) error {
			var err error
			res, err = apply(ctx, tx, event)
			return err
		})
	})
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "failed to reconcile webhook event",
			logger.EventType(event.GatewayEventType),
			logger.GatewaySubscriptionID(event.SubscriptionRef),
			logger.InvoiceID(event.InvoiceRef),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to reconcile %s event: %w", event.GatewayEventType, err)
	}

	r.logger.LogAttrs(ctx, slog.LevelInfo, "webhook event reconciled",
		logger.EventType(event.GatewayEventType),
		logger.GatewaySubscriptionID(event.SubscriptionRef),
		logger.Outcome(res.Outcome),
	)
	return res, nil
}

// resolve finds the local subscription an event refers to; nil means untracked.
// Payment and trial events without a subscription reference (one-off invoices)
// are untracked; a subscription event without one is malformed.
func (r *WebhookReconciler) resolve(ctx context.Context, tx Store, event *Event) (*Subscription, error) {
	if event.SubscriptionRef == "" {
		if event.IsSubscriptionEvent() {
			return nil, errors.Join(ErrMalformedPayload, errors.New("event carries no subscription reference"))
		}
		return nil, nil
	}
	sub, err := tx.GetSubscriptionByGatewayID(ctx, event.SubscriptionRef)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

func (r *WebhookReconciler) applySubscription(ctx context.Context, tx Store, event *Event) (*Result, error) {
	sub, err := r.resolve(ctx, tx, event)
	if err != nil || sub == nil {
		return &Result{Event: event, Outcome: OutcomeIgnored}, err
	}
	res := &Result{Event: event, SubscriptionID: sub.ID, Outcome: OutcomeApplied}
	if sub.IsStale(event.OccurredAt) {
		res.Outcome = OutcomeStale
		return res, nil
	}

	now := r.clock()
	at := eventTime(event.OccurredAt, now)

	if event.Kind == EventSubscriptionDeleted {
		if !sub.IsCanceled() {
			if err := sub.MarkCanceled(eventTime(event.CanceledAt, at)); err != nil {
				return nil, err
			}
		}
	} else if err := r.syncSubscription(ctx, tx, sub, event, at); err != nil {
		return nil, err
	}

	sub.LinkGateway(event.SubscriptionRef, event.CustomerRef)
	sub.ObserveGatewayEvent(event.OccurredAt)
	sub.touch(now)
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return res, nil
}

// syncSubscription mirrors a created/updated event: status through the state
// machine, plan by gateway price, then the period bounds.
func (r *WebhookReconciler) syncSubscription(ctx context.Context, tx Store, sub *Subscription, event *Event, at time.Time) error {
	if event.Status != "" {
		if event.Status == StatusCanceled && !event.CanceledAt.IsZero() {
			at = event.CanceledAt
		}
		if err := sub.MoveTo(event.Status, at); err != nil {
			return err
		}
	} else if event.GatewayStatus != "" {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "unmapped gateway status, keeping local status",
			logger.SubscriptionID(sub.ID),
			slog.String("gateway_status", event.GatewayStatus),
		)
	}

	if event.PriceRef != "" {
		plan, err := tx.GetPlanByGatewayPriceID(ctx, event.PriceRef)
		switch {
		case errors.Is(err, ErrPlanNotFound):
			r.logger.LogAttrs(ctx, slog.LevelWarn, "gateway price does not match any plan",
				logger.SubscriptionID(sub.ID),
				slog.String("price_id", event.PriceRef),
			)
		case err != nil:
			return err
		case plan.ID == sub.PlanID:
		case !sub.IsActive():
			r.logger.LogAttrs(ctx, slog.LevelWarn, "skipping gateway plan change for inactive subscription",
				logger.SubscriptionID(sub.ID),
				logger.Status(sub.Status),
				logger.PlanID(plan.ID),
			)
		default:
			if err := sub.ChangePlan(plan.ID, at); err != nil {
				return err
			}
		}
	}

	if sub.IsTrialing() && !event.TrialEnd.IsZero() && sub.TrialStart != nil {
		trialEnd := event.TrialEnd.UTC()
		sub.TrialEnd = &trialEnd
	}

	if !event.PeriodStart.IsZero() && !event.PeriodEnd.IsZero() {
		if err := sub.SetPeriod(event.PeriodStart, event.PeriodEnd); err != nil {
			return errors.Join(ErrMalformedPayload, err)
		}
	}
	return nil
}

func (r *WebhookReconciler) applyPayment(ctx context.Context, tx Store, event *Event) (*Result, error) {
	if event.InvoiceRef == "" {
		return nil, errors.Join(ErrMalformedPayload, errors.New("payment event carries no invoice reference"))
	}
	sub, err := r.resolve(ctx, tx, event)
	if err != nil || sub == nil {
		return &Result{Event: event, Outcome: OutcomeIgnored}, err
	}

	now := r.clock()
	payment, err := tx.UpsertPayment(ctx, &Payment{
		ID:                uuid.New(),
		SubscriptionID:    sub.ID,
		Amount:            event.Amount,
		Status:            event.PaymentStatus(),
		PeriodStart:       event.PeriodStart.UTC(),
		PeriodEnd:         event.PeriodEnd.UTC(),
		ExternalInvoiceID: event.InvoiceRef,
		FailureReason:     event.FailureReason,
		CreatedAt:         eventTime(event.OccurredAt, now),
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Event: event, Outcome: OutcomeApplied, SubscriptionID: sub.ID, PaymentID: payment.ID}
	if payment.Status != PaymentSucceeded || event.PeriodEnd.IsZero() {
		return res, nil
	}

	start := sub.CurrentPeriodStart
	if sub.ExtendPeriod(event.PeriodEnd) {
		if event.PeriodStart.After(start) {
			start = event.PeriodStart
		}
		if err := sub.SetPeriod(start, sub.CurrentPeriodEnd); err != nil {
			return nil, err
		}
		sub.LinkGateway("", event.CustomerRef)
		sub.touch(now)
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *WebhookReconciler) applyTrialWillEnd(ctx context.Context, tx Store, event *Event) (*Result, error) {
	sub, err := r.resolve(ctx, tx, event)
	if err != nil || sub == nil {
		return &Result{Event: event, Outcome: OutcomeIgnored}, err
	}
	if !event.TrialEnd.IsZero() && sub.TrialEnd == nil {
		trialEnd := event.TrialEnd.UTC()
		sub.TrialEnd = &trialEnd
	}
	msg, err := trialNotice(KindTrialWillEnd, sub, r.clock())
	if err != nil {
		return nil, err
	}
	if err := tx.AppendOutbox(ctx, msg); err != nil {
		return nil, err
	}
	return &Result{Event: event, Outcome: OutcomeNotified, SubscriptionID: sub.ID}, nil
}

func eventTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.UTC()
}
