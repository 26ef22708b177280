package gateway

import "errors"

var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrMissingSecret      = errors.New("webhook signing secret is required")
	ErrMissingPriceID     = errors.New("plan has no gateway price id")
	ErrNoSubscriptionItem = errors.New("gateway subscription has no items")
)
