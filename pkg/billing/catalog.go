package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// AvailablePlans returns the active plans offered in a territory. A territory
// plan replaces the global plan of the same tier. A nil territory yields the
// global catalog only. Plans are ordered by monthly price, cheapest first.
func AvailablePlans(ctx context.Context, store PlanStore, territoryID *uuid.UUID) ([]*Plan, error) {
	plans, err := store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}

	byTier := make(map[Tier]*Plan)
	for _, p := range plans {
		if !p.IsActive {
			continue
		}
		switch {
		case p.IsGlobal():
			if current, ok := byTier[p.Tier]; !ok || current.IsGlobal() && p.IsDefault {
				byTier[p.Tier] = p
			}
		case territoryID != nil && *p.TerritoryID == *territoryID:
			if current, ok := byTier[p.Tier]; !ok || current.IsGlobal() || p.IsDefault {
				byTier[p.Tier] = p
			}
		}
	}

	out := make([]*Plan, 0, len(byTier))
	for _, p := range byTier {
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MonthlyTwelfths() != out[j].MonthlyTwelfths() {
			return out[i].MonthlyTwelfths() < out[j].MonthlyTwelfths()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// DefaultPlan resolves the plan new users are enrolled in: the territory's
// active default plan when one exists, the global default otherwise.
func DefaultPlan(ctx context.Context, store PlanStore, territoryID *uuid.UUID) (*Plan, error) {
	plans, err := store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	var global *Plan
	for _, p := range plans {
		if !p.IsActive || !p.IsDefault {
			continue
		}
		if p.IsGlobal() {
			if global == nil {
				global = p
			}
			continue
		}
		if territoryID != nil && *p.TerritoryID == *territoryID {
			return p, nil
		}
	}
	if global == nil {
		return nil, ErrNoDefaultPlan
	}
	return global, nil
}

// planFile is the YAML shape of a plan seed file.
type planFile struct {
	Plans []planSpec `yaml:"plans"`
}

type planSpec struct {
	ID             string           `yaml:"id"`
	Name           string           `yaml:"name"`
	Tier           Tier             `yaml:"tier"`
	Territory      string           `yaml:"territory"`
	Price          int64            `yaml:"price"`
	Currency       string           `yaml:"currency"`
	Cycle          BillingCycle     `yaml:"cycle"`
	Capabilities   []Capability     `yaml:"capabilities"`
	Limits         map[string]int64 `yaml:"limits"`
	Default        bool             `yaml:"default"`
	Inactive       bool             `yaml:"inactive"`
	TrialDays      int              `yaml:"trial_days"`
	GatewayPriceID string           `yaml:"gateway_price_id"`
}

// LoadPlans decodes a YAML plan catalog such as:
//
//	plans:
//	  - id: 6f1c...
//	    name: Free
//	    tier: free
//	    capabilities: [feed]
//	    default: true
//	  - name: Premium
//	    tier: premium
//	    price: 1999
//	    currency: USD
//	    cycle: monthly
//	    trial_days: 14
//	    gateway_price_id: price_123
//
// Plans without an id get a deterministic one derived from name and territory,
// so reseeding the same file updates rather than duplicates.
func LoadPlans(r io.Reader, baseline Capability) ([]*Plan, error) {
	var f planFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	plans := make([]*Plan, 0, len(f.Plans))
	for i, ps := range f.Plans {
		p, err := ps.plan()
		if err != nil {
			return nil, fmt.Errorf("plan #%d (%s): %w", i, ps.Name, err)
		}
		if err := p.Validate(baseline); err != nil {
			return nil, fmt.Errorf("plan #%d (%s): %w", i, ps.Name, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (ps planSpec) plan() (*Plan, error) {
	p := &Plan{
		Name:           ps.Name,
		Tier:           ps.Tier,
		Price:          Money{Amount: ps.Price, Currency: ps.Currency},
		Cycle:          ps.Cycle,
		Capabilities:   ps.Capabilities,
		Limits:         ps.Limits,
		IsDefault:      ps.Default,
		IsActive:       !ps.Inactive,
		TrialDays:      ps.TrialDays,
		GatewayPriceID: ps.GatewayPriceID,
	}
	if ps.Territory != "" {
		tid, err := uuid.Parse(ps.Territory)
		if err != nil {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("territory: %w", err))
		}
		p.TerritoryID = &tid
	}
	if ps.ID != "" {
		id, err := uuid.Parse(ps.ID)
		if err != nil {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("id: %w", err))
		}
		p.ID = id
	} else {
		p.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("plan:"+ps.Territory+":"+ps.Name))
	}
	return p, nil
}

// SeedPlans creates the given plans, updating those that already exist.
// Seeding bypasses the admin audit trail; it is meant for bootstrapping.
func SeedPlans(ctx context.Context, store Store, plans []*Plan, now time.Time) error {
	return store.InTx(ctx, func(tx Store) error {
		for _, p := range plans {
			existing, err := tx.GetPlan(ctx, p.ID)
			switch {
			case errors.Is(err, ErrPlanNotFound):
				p.CreatedAt, p.UpdatedAt = now.UTC(), now.UTC()
				if err := tx.CreatePlan(ctx, p); err != nil {
					return fmt.Errorf("failed to create plan %s: %w", p.Name, err)
				}
			case err != nil:
				return err
			default:
				p.CreatedAt, p.UpdatedAt = existing.CreatedAt, now.UTC()
				p.CreatedByUserID = existing.CreatedByUserID
				if err := tx.UpdatePlan(ctx, p); err != nil {
					return fmt.Errorf("failed to update plan %s: %w", p.Name, err)
				}
			}
		}
		return nil
	})
}
