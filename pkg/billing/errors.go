package billing

import (
	"errors"
	"fmt"
)

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrNoDefaultPlan            = errors.New("no default subscription plan configured for scope")
	ErrPlanInactive             = errors.New("subscription plan is deactivated")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrMissingBaselineFeature   = errors.New("default and free plans must keep the baseline capability")
	ErrActiveSubscriptionsExist = errors.New("active subscriptions exist for plan")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadySubscribed    = errors.New("user already has an active subscription")
	ErrInvalidTransition    = errors.New("invalid subscription state transition")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrConcurrentUpdate     = errors.New("subscription was modified concurrently")

	ErrCouponNotFound       = errors.New("coupon not found")
	ErrCouponNotValid       = errors.New("coupon is not valid at this time")
	ErrCouponExhausted      = errors.New("coupon redemption limit reached")
	ErrCouponAlreadyApplied = errors.New("subscription already has a coupon applied")
	ErrInvalidCoupon        = errors.New("invalid coupon")

	ErrPaymentNotFound = errors.New("subscription payment not found")
	ErrEmptyRecipients = errors.New("outbox message requires at least one recipient")

	ErrGatewayFailure      = errors.New("payment gateway request failed")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrMissingGatewayLink  = errors.New("subscription is not linked to a payment gateway")
	ErrUnknownGatewayState = errors.New("unknown gateway subscription status")
)

// TransitionError reports a status change the state machine does not allow.
// Rejected is set when the edge exists but its guard refused it.
type TransitionError struct {
	From     Status
	Event    Transition
	Rejected bool
}

func (e *TransitionError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("transition from status '%s' for '%s' was rejected by guards", e.From, e.Event)
	}
	return fmt.Sprintf("no transition available from status '%s' for '%s'", e.From, e.Event)
}

// Is makes every TransitionError match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsRetryable reports whether a failed operation may succeed on redelivery.
// Domain rejections are permanent; persistence and gateway errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{
		ErrInvalidTransition,
		ErrMalformedPayload,
		ErrInvalidSubscription,
		ErrPlanNotFound,
		ErrSubscriptionNotFound,
		ErrAlreadySubscribed,
		ErrInvalidPlanConfiguration,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
