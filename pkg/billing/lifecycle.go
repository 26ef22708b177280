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

// LifecycleService executes user-initiated subscription commands.
type LifecycleService struct {
	store   Store
	gateway GatewayAdapter
	coupons *CouponEngine
	settings
}

// NewLifecycleService creates a lifecycle service.
// Panics if store or gateway is nil.
func NewLifecycleService(store Store, gateway GatewayAdapter, opts ...Option) *LifecycleService {
	if store == nil {
		panic("billing: Store is required")
	}
	if gateway == nil {
		panic("billing: GatewayAdapter is required")
	}
	return &LifecycleService{
		store:    store,
		gateway:  gateway,
		coupons:  NewCouponEngine(store, opts...),
		settings: newSettings("subscription_lifecycle", opts),
	}
}

// CreateSubscriptionParams are the inputs of CreateSubscription.
type CreateSubscriptionParams struct {
	UserID      uuid.UUID
	TerritoryID *uuid.UUID
	PlanID      uuid.UUID
	CouponCode  string // optional
}

// GetSubscription returns ErrSubscriptionNotFound for unknown ids.
func (s *LifecycleService) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// GetOrCreateUserSubscription returns the scope's current subscription, creating
// one on the scope's default plan when the user has none. Canceled subscriptions
// are returned as long as their period has not ended.
func (s *LifecycleService) GetOrCreateUserSubscription(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*Subscription, error) {
	if sub, err := s.currentSubscription(ctx, userID, territoryID); sub != nil || err != nil {
		return sub, err
	}

	plan, err := DefaultPlan(ctx, s.store, territoryID)
	if err != nil {
		return nil, err
	}

	sub := NewSubscription(userID, territoryID, plan, s.clock())
	err = s.store.InTx(ctx, func(tx Store) error {
		return tx.CreateSubscription(ctx, sub)
	})
	if errors.Is(err, ErrAlreadySubscribed) {
		// Lost the race to a concurrent create for the same scope.
		if existing, lookupErr := s.currentSubscription(ctx, userID, territoryID); existing != nil || lookupErr != nil {
			return existing, lookupErr
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "default subscription created",
		logger.UserID(userID),
		logger.SubscriptionID(sub.ID),
		logger.PlanID(plan.ID),
		logger.Status(sub.Status),
	)
	return sub, nil
}

func (s *LifecycleService) currentSubscription(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*Subscription, error) {
	subs, err := s.store.ListSubscriptionsByScope(ctx, userID, territoryID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	for _, sub := range subs {
		if sub.HoldsScope() || sub.Status == StatusPastDue {
			return sub, nil
		}
	}
	for _, sub := range subs {
		if sub.IsCanceled() && sub.CurrentPeriodEnd.After(now) {
			return sub, nil
		}
	}
	return nil, nil
}

// CreateSubscription subscribes a user to a plan. When a coupon code is given
// it is redeemed in the same unit of work, and a coupon failure aborts the create.
func (s *LifecycleService) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	if params.UserID == uuid.Nil {
		return nil, errors.Join(ErrInvalidSubscription, errors.New("user id is required"))
	}

	plan, err := s.store.GetPlan(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}
	if plan.TerritoryID != nil && !sameTerritory(plan.TerritoryID, params.TerritoryID) {
		return nil, errors.Join(ErrInvalidSubscription, errors.New("plan belongs to another territory"))
	}

	now := s.clock()
	sub := NewSubscription(params.UserID, params.TerritoryID, plan, now)
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		if params.CouponCode == "" {
			return nil
		}
		_, err := s.coupons.redeem(ctx, tx, sub.ID, params.CouponCode, now)
		return err
	})
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "subscription not created",
			logger.UserID(params.UserID),
			logger.PlanID(params.PlanID),
			logger.Error(err),
		)
		return nil, err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "subscription created",
		logger.UserID(sub.UserID),
		logger.SubscriptionID(sub.ID),
		logger.PlanID(plan.ID),
		logger.Status(sub.Status),
	)
	return sub, nil
}

// UpdateSubscription moves an active subscription to another plan. The gateway
// prorates and its response is mirrored locally; when the gateway call fails
// nothing is changed locally.
// Unlinked subscriptions moving to a free plan change locally without a gateway call.
func (s *LifecycleService) UpdateSubscription(ctx context.Context, subscriptionID, newPlanID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}
	if !CanTransition(sub.Status, TransitionChangePlan) {
		return nil, &TransitionError{From: sub.Status, Event: TransitionChangePlan}
	}
	if sub.PlanID == plan.ID {
		return sub, nil
	}

	var resp *GatewaySubscription
	if sub.HasGatewayLink() || !plan.IsFree() {
		resp, err = s.gateway.UpdateSubscription(ctx, sub, plan)
		if err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "gateway rejected plan change",
				logger.SubscriptionID(sub.ID),
				logger.PlanID(plan.ID),
				logger.Error(err),
			)
			return nil, errors.Join(ErrGatewayFailure, err)
		}
	}

	var updated *Subscription
	err = s.retry(ctx, func() error {
		return s.store.InTx(ctx, func(tx Store) error {
			current, err := tx.GetSubscription(ctx, subscriptionID)
			if err != nil {
				return err
			}
			now := s.clock()
			if err := current.ChangePlan(plan.ID, now); err != nil {
				return err
			}
			if resp != nil {
				if err := mirrorGateway(current, resp, now); err != nil {
					return err
				}
			} else if err := current.SetPeriod(now, plan.Cycle.Next(now)); err != nil {
				return err
			}
			if err := tx.UpdateSubscription(ctx, current); err != nil {
				return err
			}
			updated = current
			return nil
		})
	})
	if err != nil {
		// The gateway already moved; the next subscription.updated webhook converges local state.
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to persist plan change",
			logger.SubscriptionID(subscriptionID),
			logger.PlanID(plan.ID),
			logger.Error(err),
		)
		return nil, err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "subscription plan changed",
		logger.SubscriptionID(updated.ID),
		logger.PlanID(plan.ID),
		logger.Status(updated.Status),
	)
	return updated, nil
}

// mirrorGateway copies an authoritative gateway response onto the aggregate.
func mirrorGateway(sub *Subscription, resp *GatewaySubscription, now time.Time) error {
	sub.LinkGateway(resp.SubscriptionID, resp.CustomerID)
	if !resp.CurrentPeriodStart.IsZero() && !resp.CurrentPeriodEnd.IsZero() {
		if err := sub.SetPeriod(resp.CurrentPeriodStart, resp.CurrentPeriodEnd); err != nil {
			return errors.Join(ErrGatewayFailure, err)
		}
	}
	if resp.Status != "" && resp.Status != sub.Status {
		return sub.MoveTo(resp.Status, now)
	}
	return nil
}

// CancelSubscription cancels immediately, or at the end of the current period
// when cancelAtPeriodEnd is set. Deferred cancellations of gateway-billed
// subscriptions complete on the gateway's deletion webhook; the rest are
// finalized by the period-end sweep.
func (s *LifecycleService) CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, cancelAtPeriodEnd bool) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(sub.Status, TransitionCancel) {
		return nil, &TransitionError{From: sub.Status, Event: TransitionCancel}
	}

	var resp *GatewaySubscription
	if sub.HasGatewayLink() {
		resp, err = s.gateway.CancelSubscription(ctx, sub, cancelAtPeriodEnd)
		if err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "gateway rejected cancellation",
				logger.SubscriptionID(sub.ID),
				logger.Error(err),
			)
			return nil, errors.Join(ErrGatewayFailure, err)
		}
	}

	var updated *Subscription
	err = s.retry(ctx, func() error {
		return s.store.InTx(ctx, func(tx Store) error {
			current, err := tx.GetSubscription(ctx, subscriptionID)
			if err != nil {
				return err
			}
			now := s.clock()
			if resp != nil && !resp.CurrentPeriodStart.IsZero() && !resp.CurrentPeriodEnd.IsZero() {
				if err := current.SetPeriod(resp.CurrentPeriodStart, resp.CurrentPeriodEnd); err != nil {
					return errors.Join(ErrGatewayFailure, err)
				}
			}
			if cancelAtPeriodEnd {
				err = current.ScheduleCancel(now)
			} else {
				err = current.MarkCanceled(now)
			}
			if err != nil {
				return err
			}
			if err := tx.UpdateSubscription(ctx, current); err != nil {
				return err
			}
			updated = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "subscription canceled",
		logger.SubscriptionID(updated.ID),
		logger.Status(updated.Status),
		slog.Bool("at_period_end", cancelAtPeriodEnd),
	)
	return updated, nil
}

// ReactivateSubscription restores a canceled subscription whose period has not
// ended yet. It fails with ErrAlreadySubscribed if the scope was taken meanwhile.
func (s *LifecycleService) ReactivateSubscription(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	var updated *Subscription
	err := s.retry(ctx, func() error {
		return s.store.InTx(ctx, func(tx Store) error {
			current, err := tx.GetSubscription(ctx, subscriptionID)
			if err != nil {
				return err
			}
			if err := current.Reactivate(s.clock()); err != nil {
				return err
			}
			if err := tx.UpdateSubscription(ctx, current); err != nil {
				return err
			}
			updated = current
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate subscription %s: %w", subscriptionID, err)
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "subscription reactivated",
		logger.SubscriptionID(updated.ID),
	)
	return updated, nil
}
