package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/pg"
)

const subscriptionColumns = `id, user_id, territory_id, plan_id, status,
	current_period_start, current_period_end, trial_start, trial_end,
	canceled_at, cancel_at_period_end, gateway_subscription_id, gateway_customer_id,
	last_gateway_event_at, created_at, updated_at, version`

func scanSubscription(row scanner) (*billing.Subscription, error) {
	var (
		s      billing.Subscription
		status string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.TerritoryID, &s.PlanID, &status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.TrialStart, &s.TrialEnd,
		&s.CanceledAt, &s.CancelAtPeriodEnd, &s.GatewaySubscriptionID, &s.GatewayCustomerID,
		&s.LastGatewayEventAt, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	s.Status = billing.Status(status)
	return &s, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	_, err := s.db.Exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`,
		sub.ID, sub.UserID, sub.TerritoryID, sub.PlanID, string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CanceledAt, sub.CancelAtPeriodEnd, sub.GatewaySubscriptionID, sub.GatewayCustomerID,
		sub.LastGatewayEventAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(billing.ErrAlreadySubscribed, err)
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	sub.Version = 1
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	tag, err := s.db.Exec(ctx, `UPDATE subscriptions SET
		plan_id = $2, status = $3, current_period_start = $4, current_period_end = $5,
		trial_start = $6, trial_end = $7, canceled_at = $8, cancel_at_period_end = $9,
		gateway_subscription_id = $10, gateway_customer_id = $11, last_gateway_event_at = $12,
		updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $14`,
		sub.ID, sub.PlanID, string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialStart, sub.TrialEnd, sub.CanceledAt, sub.CancelAtPeriodEnd,
		sub.GatewaySubscriptionID, sub.GatewayCustomerID, sub.LastGatewayEventAt,
		sub.UpdatedAt, sub.Version,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(billing.ErrAlreadySubscribed, err)
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check subscription: %w", err)
		}
		if !exists {
			return billing.ErrSubscriptionNotFound
		}
		return billing.ErrConcurrentUpdate
	}
	sub.Version++
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*billing.Subscription, error) {
	if gatewayID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	sub, err := scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id = $1`, gatewayID))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription by gateway id: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubscriptionsByScope(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) ([]*billing.Subscription, error) {
	return s.querySubscriptions(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND territory_id IS NOT DISTINCT FROM $2
		ORDER BY created_at DESC`, userID, territoryID)
}

func (s *Store) FindSubscriptions(ctx context.Context, f billing.SubscriptionFilter) ([]*billing.Subscription, error) {
	w := subscriptionWhere(f)
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + w.String() + ` ORDER BY created_at`
	if f.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(f.Limit)
	}
	return s.querySubscriptions(ctx, query, w.args...)
}

func (s *Store) CountSubscriptions(ctx context.Context, f billing.SubscriptionFilter) (int64, error) {
	w := subscriptionWhere(f)
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]*billing.Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return out, nil
}

// subscriptionWhere mirrors billing.SubscriptionFilter.Match in SQL.
func subscriptionWhere(f billing.SubscriptionFilter) *where {
	w := &where{}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY(?)", statuses)
	}
	if f.PlanID != nil {
		w.add("plan_id = ?", *f.PlanID)
	}
	w.window("created_at", f.Created)
	if f.Canceled.Start != nil || f.Canceled.End != nil {
		w.add("canceled_at IS NOT NULL")
		w.window("canceled_at", f.Canceled)
	}
	if f.TrialEndsAfter != nil {
		w.add("trial_end > ?", *f.TrialEndsAfter)
	}
	if f.TrialEndsBy != nil {
		w.add("trial_end <= ?", *f.TrialEndsBy)
	}
	if f.PeriodEndsBy != nil {
		w.add("current_period_end <= ?", *f.PeriodEndsBy)
	}
	if f.CancelAtPeriodEnd {
		w.add("cancel_at_period_end")
	}
	if f.WithoutGatewayLink {
		w.add("gateway_subscription_id = ''")
	}
	return w
}
