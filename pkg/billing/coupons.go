package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// CouponEngine validates and redeems coupons.
type CouponEngine struct {
	store Store
	settings
}

// NewCouponEngine creates a coupon engine. Panics if store is nil.
func NewCouponEngine(store Store, opts ...Option) *CouponEngine {
	if store == nil {
		panic("billing: Store is required")
	}
	return &CouponEngine{store: store, settings: newSettings("coupon_engine", opts)}
}

// CreateCoupon stores a new coupon with a normalized code.
func (e *CouponEngine) CreateCoupon(ctx context.Context, c *Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Code = NormalizeCouponCode(c.Code)
	c.RedemptionsCount = 0
	if c.CreatedAt.IsZero() {
		c.CreatedAt = e.clock()
	}
	if c.ValidFrom.IsZero() {
		c.ValidFrom = c.CreatedAt
	}
	return e.store.InTx(ctx, func(tx Store) error {
		return tx.CreateCoupon(ctx, c)
	})
}

// ApplyCoupon redeems code for a subscription. The redemption counter check,
// its increment and the association insert commit together.
func (e *CouponEngine) ApplyCoupon(ctx context.Context, subscriptionID uuid.UUID, code string) (*SubscriptionCoupon, error) {
	var applied *SubscriptionCoupon
	err := e.store.InTx(ctx, func(tx Store) error {
		if _, err := tx.GetSubscription(ctx, subscriptionID); err != nil {
			return err
		}
		var err error
		applied, err = e.redeem(ctx, tx, subscriptionID, code, e.clock())
		return err
	})
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelInfo, "coupon not applied",
			logger.SubscriptionID(subscriptionID),
			slog.String("coupon_code", NormalizeCouponCode(code)),
			logger.Error(err),
		)
		return nil, err
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "coupon applied",
		logger.SubscriptionID(subscriptionID),
		slog.String("coupon_id", applied.CouponID.String()),
	)
	return applied, nil
}

// PreviewCoupon returns the discount code would give on price right now
// without redeeming it.
func (e *CouponEngine) PreviewCoupon(ctx context.Context, code string, price Money) (Money, error) {
	c, err := e.store.GetCouponByCode(ctx, code)
	if err != nil {
		return Money{}, err
	}
	if err := checkRedeemable(c, e.clock()); err != nil {
		return Money{}, err
	}
	return c.Discount(price), nil
}

func (e *CouponEngine) redeem(ctx context.Context, tx Store, subscriptionID uuid.UUID, code string, now time.Time) (*SubscriptionCoupon, error) {
	c, err := tx.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := checkRedeemable(c, now); err != nil {
		return nil, err
	}
	if _, err := tx.GetSubscriptionCoupon(ctx, subscriptionID); err == nil {
		return nil, ErrCouponAlreadyApplied
	} else if !errors.Is(err, ErrCouponNotFound) {
		return nil, err
	}

	// The store re-checks the limit atomically; the check above only orders the errors.
	if _, err := tx.IncrementCouponRedemptions(ctx, c.ID); err != nil {
		return nil, err
	}
	sc := &SubscriptionCoupon{SubscriptionID: subscriptionID, CouponID: c.ID, AppliedAt: now.UTC()}
	if err := tx.CreateSubscriptionCoupon(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func checkRedeemable(c *Coupon, now time.Time) error {
	if !c.ValidAt(now) {
		return ErrCouponNotValid
	}
	if c.Exhausted() {
		return ErrCouponExhausted
	}
	return nil
}
