package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Coupon is a redeemable discount code.
type Coupon struct {
	ID               uuid.UUID
	Code             string
	DiscountType     DiscountType
	DiscountValue    int64 // percent for DiscountPercentage, minor units for DiscountFixed
	ValidFrom        time.Time
	ValidTo          time.Time
	MaxRedemptions   int64 // 0 means unlimited
	RedemptionsCount int64 // monotonic, never decremented
	CreatedAt        time.Time
}

// SubscriptionCoupon associates a redeemed coupon with a subscription.
type SubscriptionCoupon struct {
	SubscriptionID uuid.UUID
	CouponID       uuid.UUID
	AppliedAt      time.Time
}

// NormalizeCouponCode returns the canonical lookup form of a coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidAt reports whether now lies within [ValidFrom, ValidTo].
// A zero ValidTo leaves the window open-ended.
func (c *Coupon) ValidAt(now time.Time) bool {
	if now.Before(c.ValidFrom) {
		return false
	}
	return c.ValidTo.IsZero() || !now.After(c.ValidTo)
}

// Exhausted reports whether no redemptions remain.
func (c *Coupon) Exhausted() bool {
	return c.MaxRedemptions > 0 && c.RedemptionsCount >= c.MaxRedemptions
}

// Discount returns the amount the coupon takes off price, never more than price itself.
func (c *Coupon) Discount(price Money) Money {
	var off int64
	switch c.DiscountType {
	case DiscountPercentage:
		off = price.Amount * c.DiscountValue / 100
	case DiscountFixed:
		off = c.DiscountValue
	}
	off = max(0, min(off, price.Amount))
	return Money{Amount: off, Currency: price.Currency}
}

// Validate checks coupon invariants.
func (c *Coupon) Validate() error {
	switch {
	case NormalizeCouponCode(c.Code) == "":
		return wrapInvalidCoupon("code is required")
	case c.DiscountType == DiscountPercentage && (c.DiscountValue < 1 || c.DiscountValue > 100):
		return wrapInvalidCoupon("percentage discount must be between 1 and 100")
	case c.DiscountType == DiscountFixed && c.DiscountValue <= 0:
		return wrapInvalidCoupon("fixed discount must be positive")
	case c.DiscountType != DiscountPercentage && c.DiscountType != DiscountFixed:
		return wrapInvalidCoupon("unknown discount type " + string(c.DiscountType))
	case !c.ValidTo.IsZero() && c.ValidTo.Before(c.ValidFrom):
		return wrapInvalidCoupon("valid to must not precede valid from")
	case c.MaxRedemptions < 0:
		return wrapInvalidCoupon("max redemptions must not be negative")
	}
	return nil
}

func wrapInvalidCoupon(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCoupon, msg)
}
