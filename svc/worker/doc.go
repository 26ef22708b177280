// Package worker wires the billing engine into a runnable process.
//
// Bootstrap connects PostgreSQL and, when REDIS_URL is set, Redis; applies the
// embedded schema; seeds the plan catalog from BILLING_PLANS_FILE; and builds an
// App holding every billing service. The App exposes webhook intake for the
// configured gateways and the periodic jobs the worker runs:
//
//   - trial-reminders: subscription.trial_will_end notices for trials ending soon
//   - expired-trials: activation of trials past their end
//   - period-end-cancellations: deferred cancellations of unlinked subscriptions
//   - outbox-relay: hands committed notifications to the Redis stream
//
// Jobs run on a gocron scheduler in singleton mode. With Redis each job also runs
// under a distributed lock, so a fleet of workers runs each sweep once.
//
//	var cfg worker.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	app, closeFn, err := worker.Bootstrap(ctx, cfg, log)
//	if err != nil {
//		return err
//	}
//	defer closeFn()
//
//	scheduler, err := app.NewScheduler()
//	if err != nil {
//		return err
//	}
//	return scheduler.Run(ctx)
package worker
