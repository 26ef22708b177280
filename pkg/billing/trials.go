package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// TrialSweeper runs the scheduled trial and period-end sweeps.
// Runs must not overlap; the scheduler enforces single flight.
type TrialSweeper struct {
	store Store
	settings
}

// NewTrialSweeper creates a sweeper. Panics if store is nil.
func NewTrialSweeper(store Store, opts ...Option) *TrialSweeper {
	if store == nil {
		panic("billing: Store is required")
	}
	return &TrialSweeper{store: store, settings: newSettings("trial_sweeper", opts)}
}

// SweepReport summarizes one sweep run. Failed items are revisited on the next run.
type SweepReport struct {
	Scanned   int
	Processed int
	Failed    int
	Errors    []error
}

// Err joins the per-item failures, or returns nil if every item succeeded.
func (r *SweepReport) Err() error {
	return errors.Join(r.Errors...)
}

func (r *SweepReport) fail(id uuid.UUID, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Errorf("subscription %s: %w", id, err))
}

// GetTrialsExpiringSoon returns trialing subscriptions whose trial ends within
// (now, now + thresholdDays days].
func (t *TrialSweeper) GetTrialsExpiringSoon(ctx context.Context, thresholdDays int) ([]*Subscription, error) {
	if thresholdDays < 0 {
		return nil, fmt.Errorf("threshold days must not be negative, got %d", thresholdDays)
	}
	now := t.clock()
	return t.store.FindSubscriptions(ctx, SubscriptionFilter{
		Statuses:       []Status{StatusTrialing},
		TrialEndsAfter: timeRef(now),
		TrialEndsBy:    timeRef(now.AddDate(0, 0, thresholdDays)),
	})
}

// SendTrialReminders enqueues one trial_will_end notification per trial expiring
// within thresholdDays. Repeated runs do not enqueue duplicates for the same trial.
func (t *TrialSweeper) SendTrialReminders(ctx context.Context, thresholdDays int) (*SweepReport, error) {
	subs, err := t.GetTrialsExpiringSoon(ctx, thresholdDays)
	if err != nil {
		return nil, err
	}
	report := &SweepReport{Scanned: len(subs)}
	for _, sub := range subs {
		err := t.store.InTx(ctx, func(tx Store) error {
			msg, err := trialNotice(KindTrialWillEnd, sub, t.clock())
			if err != nil {
				return err
			}
			return tx.AppendOutbox(ctx, msg)
		})
		if err != nil {
			report.fail(sub.ID, err)
			continue
		}
		report.Processed++
	}
	t.logReport(ctx, "trial_reminders", report)
	return report, nil
}

// ProcessExpiredTrials activates every trialing subscription whose trial has
// ended and enqueues one trial_ended notification for each. Activation never
// charges; the gateway owns billing. Each subscription commits on its own.
func (t *TrialSweeper) ProcessExpiredTrials(ctx context.Context) (*SweepReport, error) {
	now := t.clock()
	subs, err := t.store.FindSubscriptions(ctx, SubscriptionFilter{
		Statuses:    []Status{StatusTrialing},
		TrialEndsBy: timeRef(now),
	})
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Scanned: len(subs)}
	for _, candidate := range subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		activated, err := t.activateTrial(ctx, candidate.ID)
		if err != nil {
			t.logger.LogAttrs(ctx, slog.LevelWarn, "failed to activate expired trial",
				logger.SubscriptionID(candidate.ID),
				logger.Error(err),
			)
			report.fail(candidate.ID, err)
			continue
		}
		if activated {
			report.Processed++
		}
	}
	t.logReport(ctx, "expired_trials", report)
	return report, nil
}

func (t *TrialSweeper) activateTrial(ctx context.Context, id uuid.UUID) (activated bool, err error) {
	err = t.retry(ctx, func() error {
		activated = false
		return t.store.InTx(ctx, func(tx Store) error {
			sub, err := tx.GetSubscription(ctx, id)
			if err != nil {
				return err
			}
			now := t.clock()
			if !sub.TrialExpiredAt(now) {
				return nil
			}
			plan, err := tx.GetPlan(ctx, sub.PlanID)
			if err != nil {
				return err
			}
			if err := sub.Activate(now); err != nil {
				return err
			}
			if !sub.HasGatewayLink() && !sub.CurrentPeriodEnd.After(*sub.TrialEnd) {
				if err := sub.SetPeriod(*sub.TrialEnd, plan.Cycle.Next(*sub.TrialEnd)); err != nil {
					return err
				}
			}
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
			msg, err := trialNotice(KindTrialEnded, sub, now)
			if err != nil {
				return err
			}
			if err := tx.AppendOutbox(ctx, msg); err != nil {
				return err
			}
			activated = true
			return nil
		})
	})
	return activated, err
}

// ProcessPeriodEndCancellations finalizes deferred cancellations of subscriptions
// no gateway bills for once their period has ended. Gateway-billed ones are
// finalized by the gateway's deletion webhook instead.
func (t *TrialSweeper) ProcessPeriodEndCancellations(ctx context.Context) (*SweepReport, error) {
	subs, err := t.store.FindSubscriptions(ctx, SubscriptionFilter{
		Statuses:           []Status{StatusTrialing, StatusActive, StatusPastDue},
		CancelAtPeriodEnd:  true,
		WithoutGatewayLink: true,
		PeriodEndsBy:       timeRef(t.clock()),
	})
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Scanned: len(subs)}
	for _, candidate := range subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := t.retry(ctx, func() error {
			return t.store.InTx(ctx, func(tx Store) error {
				sub, err := tx.GetSubscription(ctx, candidate.ID)
				if err != nil {
					return err
				}
				if !sub.CancelAtPeriodEnd || sub.IsCanceled() {
					return nil
				}
				if err := sub.MarkCanceled(sub.CurrentPeriodEnd); err != nil {
					return err
				}
				return tx.UpdateSubscription(ctx, sub)
			})
		})
		if err != nil {
			report.fail(candidate.ID, err)
			continue
		}
		report.Processed++
	}
	t.logReport(ctx, "period_end_cancellations", report)
	return report, nil
}

func (t *TrialSweeper) logReport(ctx context.Context, job string, r *SweepReport) {
	level := slog.LevelInfo
	if r.Failed > 0 {
		level = slog.LevelWarn
	}
	if r.Scanned == 0 {
		level = slog.LevelDebug
	}
	t.logger.LogAttrs(ctx, level, "sweep finished",
		logger.Job(job),
		logger.Count(r.Scanned),
		slog.Int("processed", r.Processed),
		slog.Int("failed", r.Failed),
		logger.Errors(r.Errors...),
	)
}
