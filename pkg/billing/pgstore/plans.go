package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/pg"
)

const planColumns = `id, name, tier, territory_id, price_amount, price_currency, billing_cycle,
	capabilities, limits, is_default, is_active, trial_days, gateway_price_id,
	created_by, created_at, updated_at`

func scanPlan(row scanner) (*billing.Plan, error) {
	var (
		p            billing.Plan
		tier, cycle  string
		capabilities []string
		limits       []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &tier, &p.TerritoryID, &p.Price.Amount, &p.Price.Currency, &cycle,
		&capabilities, &limits, &p.IsDefault, &p.IsActive, &p.TrialDays, &p.GatewayPriceID,
		&p.CreatedByUserID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Tier = billing.Tier(tier)
	p.Cycle = billing.BillingCycle(cycle)
	if len(capabilities) > 0 {
		p.Capabilities = make([]billing.Capability, len(capabilities))
		for i, c := range capabilities {
			p.Capabilities[i] = billing.Capability(c)
		}
	}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &p.Limits); err != nil {
			return nil, fmt.Errorf("failed to decode plan limits: %w", err)
		}
		if len(p.Limits) == 0 {
			p.Limits = nil
		}
	}
	return &p, nil
}

func planArgs(p *billing.Plan) ([]any, error) {
	capabilities := make([]string, len(p.Capabilities))
	for i, c := range p.Capabilities {
		capabilities[i] = string(c)
	}
	limits := []byte("{}")
	if len(p.Limits) > 0 {
		var err error
		if limits, err = json.Marshal(p.Limits); err != nil {
			return nil, fmt.Errorf("failed to encode plan limits: %w", err)
		}
	}
	return []any{
		p.ID, p.Name, string(p.Tier), p.TerritoryID, p.Price.Amount, p.Price.Currency, string(p.Cycle),
		capabilities, limits, p.IsDefault, p.IsActive, p.TrialDays, p.GatewayPriceID,
		p.CreatedByUserID, p.CreatedAt, p.UpdatedAt,
	}, nil
}

func (s *Store) CreatePlan(ctx context.Context, p *billing.Plan) error {
	args, err := planArgs(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, args...)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(billing.ErrInvalidPlanConfiguration, err)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// UpdatePlan overwrites every mutable column. CreatedAt and CreatedByUserID are immutable.
func (s *Store) UpdatePlan(ctx context.Context, p *billing.Plan) error {
	args, err := planArgs(p)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE plans SET
		name = $2, tier = $3, territory_id = $4, price_amount = $5, price_currency = $6,
		billing_cycle = $7, capabilities = $8, limits = $9, is_default = $10, is_active = $11,
		trial_days = $12, gateway_price_id = $13, updated_at = $16
		WHERE id = $1`, args...)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(billing.ErrInvalidPlanConfiguration, err)
		}
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrPlanNotFound
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*billing.Plan, error) {
	return s.getPlan(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
}

func (s *Store) GetPlanByGatewayPriceID(ctx context.Context, priceID string) (*billing.Plan, error) {
	if priceID == "" {
		return nil, billing.ErrPlanNotFound
	}
	return s.getPlan(ctx, `SELECT `+planColumns+` FROM plans WHERE gateway_price_id = $1`, priceID)
}

func (s *Store) getPlan(ctx context.Context, query string, arg any) (*billing.Plan, error) {
	p, err := scanPlan(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]*billing.Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var out []*billing.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return out, nil
}

func (s *Store) AppendPlanHistory(ctx context.Context, h *billing.PlanHistory) error {
	_, err := s.db.Exec(ctx, `INSERT INTO plan_history (id, plan_id, actor_user_id, change_type, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.PlanID, h.ActorUserID, string(h.ChangeType), h.Timestamp)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return errors.Join(billing.ErrPlanNotFound, err)
		}
		return fmt.Errorf("failed to append plan history: %w", err)
	}
	return nil
}

func (s *Store) ListPlanHistory(ctx context.Context, planID uuid.UUID) ([]*billing.PlanHistory, error) {
	rows, err := s.db.Query(ctx, `SELECT id, plan_id, actor_user_id, change_type, created_at
		FROM plan_history WHERE plan_id = $1 ORDER BY seq`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan history: %w", err)
	}
	defer rows.Close()

	var out []*billing.PlanHistory
	for rows.Next() {
		var (
			h      billing.PlanHistory
			change string
		)
		if err := rows.Scan(&h.ID, &h.PlanID, &h.ActorUserID, &change, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan plan history: %w", err)
		}
		h.ChangeType = billing.ChangeType(change)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan history: %w", err)
	}
	return out, nil
}
