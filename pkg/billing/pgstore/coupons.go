package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/pg"
)

const couponColumns = `id, code, discount_type, discount_value, valid_from, valid_to,
	max_redemptions, redemptions_count, created_at`

func scanCoupon(row scanner) (*billing.Coupon, error) {
	var (
		c            billing.Coupon
		discountType string
		validTo      *time.Time
	)
	err := row.Scan(&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.ValidFrom, &validTo,
		&c.MaxRedemptions, &c.RedemptionsCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.DiscountType = billing.DiscountType(discountType)
	c.ValidTo = deref(validTo)
	return &c, nil
}

// CreateCoupon stores the code in its normalized form so lookups are case-insensitive.
func (s *Store) CreateCoupon(ctx context.Context, c *billing.Coupon) error {
	_, err := s.db.Exec(ctx, `INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, billing.NormalizeCouponCode(c.Code), string(c.DiscountType), c.DiscountValue,
		c.ValidFrom, nullTime(c.ValidTo), c.MaxRedemptions, c.RedemptionsCount, c.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(billing.ErrInvalidCoupon, err)
		}
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*billing.Coupon, error) {
	c, err := scanCoupon(s.db.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, billing.NormalizeCouponCode(code)))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrCouponNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return c, nil
}

// IncrementCouponRedemptions checks the limit and increments in one statement,
// so concurrent redemptions can never push the count past MaxRedemptions.
func (s *Store) IncrementCouponRedemptions(ctx context.Context, couponID uuid.UUID) (*billing.Coupon, error) {
	c, err := scanCoupon(s.db.QueryRow(ctx, `UPDATE coupons
		SET redemptions_count = redemptions_count + 1
		WHERE id = $1 AND (max_redemptions = 0 OR redemptions_count < max_redemptions)
		RETURNING `+couponColumns, couponID))
	if err == nil {
		return c, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to increment coupon redemptions: %w", err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`, couponID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check coupon: %w", err)
	}
	if !exists {
		return nil, billing.ErrCouponNotFound
	}
	return nil, billing.ErrCouponExhausted
}

func (s *Store) CreateSubscriptionCoupon(ctx context.Context, sc *billing.SubscriptionCoupon) error {
	_, err := s.db.Exec(ctx, `INSERT INTO subscription_coupons (subscription_id, coupon_id, applied_at)
		VALUES ($1, $2, $3)`, sc.SubscriptionID, sc.CouponID, sc.AppliedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(billing.ErrCouponAlreadyApplied, err)
		}
		return fmt.Errorf("failed to insert subscription coupon: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriptionCoupon(ctx context.Context, subscriptionID uuid.UUID) (*billing.SubscriptionCoupon, error) {
	var sc billing.SubscriptionCoupon
	err := s.db.QueryRow(ctx, `SELECT subscription_id, coupon_id, applied_at
		FROM subscription_coupons WHERE subscription_id = $1`, subscriptionID).
		Scan(&sc.SubscriptionID, &sc.CouponID, &sc.AppliedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrCouponNotFound
		}
		return nil, fmt.Errorf("failed to get subscription coupon: %w", err)
	}
	return &sc, nil
}
