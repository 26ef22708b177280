package billing

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
)

// Plan is a subscription plan offered globally or within one territory.
type Plan struct {
	ID          uuid.UUID
	Name        string
	Tier        Tier
	TerritoryID *uuid.UUID // nil for global plans
	Price       Money      // price per billing cycle
	Cycle       BillingCycle

	Capabilities []Capability
	Limits       map[string]int64 // Unlimited (-1) means no ceiling

	IsDefault       bool
	IsActive        bool
	TrialDays       int
	GatewayPriceID  string // price identifier at the payment gateway, empty for free plans
	CreatedByUserID uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsGlobal reports whether the plan applies to every territory.
func (p *Plan) IsGlobal() bool {
	return p.TerritoryID == nil
}

// IsFree reports whether subscribers are never charged for the plan.
func (p *Plan) IsFree() bool {
	return p.Tier == TierFree || p.Price.Amount == 0
}

// HasCapability reports whether the plan grants c.
func (p *Plan) HasCapability(c Capability) bool {
	return slices.Contains(p.Capabilities, c)
}

// RequiresBaseline reports whether the plan must keep the baseline capability.
func (p *Plan) RequiresBaseline() bool {
	return p.IsDefault || p.Tier == TierFree
}

// MonthlyTwelfths returns the plan's monthly-equivalent price scaled by 12,
// which keeps quarterly and yearly normalization exact in integer arithmetic.
func (p *Plan) MonthlyTwelfths() int64 {
	months := p.Cycle.Months()
	if p.IsFree() || months == 0 {
		return 0
	}
	return p.Price.Amount * int64(12/months)
}

// Validate checks plan invariants; baseline is the capability default and free plans must keep.
func (p *Plan) Validate(baseline Capability) error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.Tier == "" {
		errs = append(errs, errors.New("tier is required"))
	}
	if p.Price.Amount < 0 {
		errs = append(errs, errors.New("price must not be negative"))
	}
	if p.Price.Currency != "" {
		if _, err := currency.ParseISO(p.Price.Currency); err != nil {
			errs = append(errs, fmt.Errorf("currency %q: %w", p.Price.Currency, err))
		}
	} else if p.Price.Amount > 0 {
		errs = append(errs, errors.New("currency is required for paid plans"))
	}
	if !p.Cycle.Valid() {
		errs = append(errs, fmt.Errorf("unknown billing cycle %q", p.Cycle))
	}
	if p.Tier == TierFree && p.Cycle != CycleNone {
		errs = append(errs, errors.New("free plans have no billing cycle"))
	}
	if p.Tier != TierFree && p.Price.Amount > 0 && p.Cycle == CycleNone {
		errs = append(errs, errors.New("paid plans require a billing cycle"))
	}
	if p.TrialDays < 0 {
		errs = append(errs, errors.New("trial days must not be negative"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPlanConfiguration}, errs...)...)
	}
	if p.RequiresBaseline() && !p.HasCapability(baseline) {
		return fmt.Errorf("%w: %q", ErrMissingBaselineFeature, baseline)
	}
	return nil
}

func (p *Plan) clone() *Plan {
	c := *p
	c.TerritoryID = clonePtr(p.TerritoryID)
	c.Capabilities = slices.Clone(p.Capabilities)
	if p.Limits != nil {
		c.Limits = make(map[string]int64, len(p.Limits))
		for k, v := range p.Limits {
			c.Limits[k] = v
		}
	}
	return &c
}
