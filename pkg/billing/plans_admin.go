package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// PlanAdmin manages the plan catalog. Every mutation appends one audit row
// with the acting user in the same unit of work.
type PlanAdmin struct {
	store Store
	settings
}

// NewPlanAdmin creates a plan admin service. Panics if store is nil.
func NewPlanAdmin(store Store, opts ...Option) *PlanAdmin {
	if store == nil {
		panic("billing: Store is required")
	}
	return &PlanAdmin{store: store, settings: newSettings("plan_admin", opts)}
}

// CreateGlobalPlan adds a plan offered in every territory.
func (a *PlanAdmin) CreateGlobalPlan(ctx context.Context, actorID uuid.UUID, plan *Plan) (*Plan, error) {
	plan.TerritoryID = nil
	return a.create(ctx, actorID, plan)
}

// CreateTerritoryPlan adds a plan that overrides the global plan of the same tier in one territory.
func (a *PlanAdmin) CreateTerritoryPlan(ctx context.Context, actorID, territoryID uuid.UUID, plan *Plan) (*Plan, error) {
	if territoryID == uuid.Nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("territory id is required"))
	}
	plan.TerritoryID = &territoryID
	return a.create(ctx, actorID, plan)
}

func (a *PlanAdmin) create(ctx context.Context, actorID uuid.UUID, plan *Plan) (*Plan, error) {
	if err := plan.Validate(a.baseline); err != nil {
		return nil, err
	}
	now := a.clock()
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	plan.IsActive = true
	plan.CreatedByUserID = actorID
	plan.CreatedAt, plan.UpdatedAt = now, now

	err := a.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreatePlan(ctx, plan); err != nil {
			return err
		}
		return tx.AppendPlanHistory(ctx, newPlanHistory(plan.ID, actorID, ChangeCreated, now))
	})
	if err != nil {
		return nil, err
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "plan created",
		logger.PlanID(plan.ID),
		logger.UserID(actorID),
		slog.String("tier", string(plan.Tier)),
	)
	return plan, nil
}

// PlanUpdate lists the fields UpdatePlan may change. Nil fields are kept.
type PlanUpdate struct {
	Name           *string
	Price          *Money
	Cycle          *BillingCycle
	Limits         map[string]int64
	IsDefault      *bool
	TrialDays      *int
	GatewayPriceID *string
}

// UpdatePlan changes a plan's commercial terms. Existing subscriptions keep
// their plan id and pick up the new terms on their next gateway renewal.
func (a *PlanAdmin) UpdatePlan(ctx context.Context, actorID, planID uuid.UUID, u PlanUpdate) (*Plan, error) {
	return a.mutate(ctx, actorID, planID, ChangeUpdated, func(_ Store, p *Plan) error {
		if u.Name != nil {
			p.Name = *u.Name
		}
		if u.Price != nil {
			p.Price = *u.Price
		}
		if u.Cycle != nil {
			p.Cycle = *u.Cycle
		}
		if u.Limits != nil {
			p.Limits = u.Limits
		}
		if u.IsDefault != nil {
			p.IsDefault = *u.IsDefault
		}
		if u.TrialDays != nil {
			p.TrialDays = *u.TrialDays
		}
		if u.GatewayPriceID != nil {
			p.GatewayPriceID = *u.GatewayPriceID
		}
		return nil
	})
}

// UpdatePlanCapabilities replaces the plan's capability set.
func (a *PlanAdmin) UpdatePlanCapabilities(ctx context.Context, actorID, planID uuid.UUID, capabilities []Capability) (*Plan, error) {
	return a.mutate(ctx, actorID, planID, ChangeCapabilitiesChanged, func(_ Store, p *Plan) error {
		caps := slices.Clone(capabilities)
		slices.Sort(caps)
		p.Capabilities = slices.Compact(caps)
		return nil
	})
}

// DeactivatePlan withdraws a plan from sale. It fails with
// ErrActiveSubscriptionsExist while any active or trialing subscription uses it.
// The usage check runs in the same unit of work as the write; a subscription
// committed concurrently by another transaction is not detected.
func (a *PlanAdmin) DeactivatePlan(ctx context.Context, actorID, planID uuid.UUID) (*Plan, error) {
	return a.mutate(ctx, actorID, planID, ChangeDeactivated, func(tx Store, p *Plan) error {
		if !p.IsActive {
			return ErrPlanInactive
		}
		inUse, err := tx.CountSubscriptions(ctx, SubscriptionFilter{
			Statuses: []Status{StatusActive, StatusTrialing},
			PlanID:   &planID,
		})
		if err != nil {
			return err
		}
		if inUse > 0 {
			return fmt.Errorf("%w: %d subscriptions", ErrActiveSubscriptionsExist, inUse)
		}
		p.IsActive = false
		p.IsDefault = false
		return nil
	})
}

func (a *PlanAdmin) mutate(ctx context.Context, actorID, planID uuid.UUID, change ChangeType, apply func(tx Store, p *Plan) error) (*Plan, error) {
	var updated *Plan
	err := a.store.InTx(ctx, func(tx Store) error {
		p, err := tx.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if err := apply(tx, p); err != nil {
			return err
		}
		if p.IsActive {
			if err := p.Validate(a.baseline); err != nil {
				return err
			}
		}
		now := a.clock()
		p.UpdatedAt = now
		if err := tx.UpdatePlan(ctx, p); err != nil {
			return err
		}
		if err := tx.AppendPlanHistory(ctx, newPlanHistory(p.ID, actorID, change, now)); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		a.logger.LogAttrs(ctx, slog.LevelWarn, "plan change rejected",
			logger.PlanID(planID),
			logger.UserID(actorID),
			slog.String("change", string(change)),
			logger.Error(err),
		)
		return nil, err
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "plan changed",
		logger.PlanID(planID),
		logger.UserID(actorID),
		slog.String("change", string(change)),
	)
	return updated, nil
}
