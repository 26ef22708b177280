package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/logger"
)

// Deps are the already connected collaborators of an App.
// Store is required; everything else is optional.
type Deps struct {
	Store     billing.Store
	Gateway   billing.GatewayAdapter // nil: commands on gateway-linked subscriptions fail
	Publisher billing.Publisher      // nil: the outbox is left for another relay
	Locker    gocron.Locker          // nil: jobs run on every instance
	Checks    map[string]func(context.Context) error
	Logger    *slog.Logger
	Clock     func() time.Time
}

// App holds the billing services wired against one store.
type App struct {
	Store     billing.Store
	Lifecycle *billing.LifecycleService
	Coupons   *billing.CouponEngine
	Plans     *billing.PlanAdmin
	Analytics *billing.Analytics
	Sweeper   *billing.TrialSweeper
	Relay     *billing.OutboxRelay

	cfg      Config
	locker   gocron.Locker
	logger   *slog.Logger
	webhooks map[string]webhook
	checks   map[string]func(context.Context) error
}

type webhook struct {
	verifier   gateway.Verifier
	reconciler *billing.WebhookReconciler
}

// NewApp wires the billing services. A gateway's webhooks are accepted only
// when its webhook secret is configured.
func NewApp(cfg Config, deps Deps) (*App, error) {
	if deps.Store == nil {
		panic("worker: store is required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := []billing.Option{
		billing.WithLogger(log),
		billing.WithBaselineCapability(billing.Capability(cfg.BaselineCapability)),
		billing.WithReportingCurrency(cfg.ReportingCurrency),
		billing.WithMaxRetries(cfg.MaxRetries),
	}
	if deps.Clock != nil {
		opts = append(opts, billing.WithClock(deps.Clock))
	}

	adapter := deps.Gateway
	if adapter == nil {
		adapter = unavailableGateway{}
	}

	app := &App{
		Store:     deps.Store,
		Lifecycle: billing.NewLifecycleService(deps.Store, adapter, opts...),
		Coupons:   billing.NewCouponEngine(deps.Store, opts...),
		Plans:     billing.NewPlanAdmin(deps.Store, opts...),
		Analytics: billing.NewAnalytics(deps.Store, opts...),
		Sweeper:   billing.NewTrialSweeper(deps.Store, opts...),
		cfg:       cfg,
		locker:    deps.Locker,
		logger:    log,
		webhooks:  make(map[string]webhook),
		checks:    deps.Checks,
	}

	if deps.Publisher != nil {
		source, ok := deps.Store.(billing.OutboxSource)
		if !ok {
			return nil, fmt.Errorf("worker: store %T cannot drain the outbox", deps.Store)
		}
		app.Relay = billing.NewOutboxRelay(source, deps.Publisher, cfg.OutboxBatch, opts...)
	}

	if cfg.Stripe.WebhookSecret != "" {
		app.webhooks[gateway.Stripe] = webhook{
			verifier:   gateway.NewStripeVerifier(cfg.Stripe.WebhookSecret),
			reconciler: billing.NewReconciler(deps.Store, gateway.NewStripeNormalizer(), opts...),
		}
	}
	if cfg.Paddle.WebhookSecret != "" {
		app.webhooks[gateway.Paddle] = webhook{
			verifier:   gateway.NewPaddleVerifier(cfg.Paddle.WebhookSecret),
			reconciler: billing.NewReconciler(deps.Store, gateway.NewPaddleNormalizer(), opts...),
		}
	}
	return app, nil
}

// HandleWebhook authenticates a delivery and reconciles it. Errors satisfying
// billing.IsRetryable should be answered so that the gateway redelivers.
func (a *App) HandleWebhook(ctx context.Context, gatewayName, eventType string, payload []byte, signature string) (*billing.Result, error) {
	wh, ok := a.webhooks[gatewayName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, gatewayName)
	}
	if err := wh.verifier.Verify(ctx, payload, signature); err != nil {
		a.logger.LogAttrs(ctx, slog.LevelWarn, "rejected webhook delivery",
			logger.Gateway(gatewayName),
			logger.EventType(eventType),
			logger.Error(err),
		)
		return nil, err
	}
	return wh.reconciler.ProcessEvent(ctx, eventType, payload)
}

// Healthcheck runs every dependency probe and joins their failures.
func (a *App) Healthcheck(ctx context.Context) error {
	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := a.checks[name](ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Jobs returns the scheduled jobs of the worker. The outbox relay job is
// present only when a publisher is configured.
func (a *App) Jobs() []Job {
	jobs := []Job{
		{
			Name:     "trial-reminders",
			Interval: a.cfg.TrialReminderInterval,
			Run: func(ctx context.Context) error {
				return sweep(a.Sweeper.SendTrialReminders(ctx, a.cfg.TrialReminderDays))
			},
		},
		{
			Name:     "expired-trials",
			Interval: a.cfg.TrialSweepInterval,
			Run: func(ctx context.Context) error {
				return sweep(a.Sweeper.ProcessExpiredTrials(ctx))
			},
		},
		{
			Name:     "period-end-cancellations",
			Interval: a.cfg.PeriodEndInterval,
			Run: func(ctx context.Context) error {
				return sweep(a.Sweeper.ProcessPeriodEndCancellations(ctx))
			},
		},
	}
	if a.Relay != nil {
		jobs = append(jobs, Job{
			Name:     "outbox-relay",
			Interval: a.cfg.OutboxInterval,
			Run:      a.drainOutbox,
		})
	}
	return jobs
}

// NewScheduler creates a scheduler for the app's jobs using its locker.
func (a *App) NewScheduler() (*Scheduler, error) {
	opts := []SchedulerOption{WithSchedulerLogger(a.logger)}
	if a.locker != nil {
		opts = append(opts, WithLocker(a.locker))
	}
	return NewScheduler(a.Jobs(), opts...)
}

// drainOutbox relays batches until one comes back short.
func (a *App) drainOutbox(ctx context.Context) error {
	for {
		n, err := a.Relay.Relay(ctx)
		if err != nil {
			return err
		}
		if n == 0 || n < a.Relay.Batch() {
			return nil
		}
	}
}

func sweep(report *billing.SweepReport, err error) error {
	if err != nil {
		return err
	}
	return report.Err()
}

// unavailableGateway stands in when no gateway credentials are configured.
// Unlinked subscriptions never reach it.
type unavailableGateway struct{}

func (unavailableGateway) UpdateSubscription(context.Context, *billing.Subscription, *billing.Plan) (*billing.GatewaySubscription, error) {
	return nil, ErrGatewayUnavailable
}

func (unavailableGateway) CancelSubscription(context.Context, *billing.Subscription, bool) (*billing.GatewaySubscription, error) {
	return nil, ErrGatewayUnavailable
}
