package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78/webhook"
)

// Verifier authenticates a webhook delivery before it is normalized.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, signature string) error
}

// StripeVerifier checks the Stripe-Signature header, including its timestamp tolerance.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for the endpoint's signing secret (whsec_...).
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify implements Verifier.
func (v *StripeVerifier) Verify(_ context.Context, payload []byte, signature string) error {
	if v.secret == "" {
		return ErrMissingSecret
	}
	if err := webhook.ValidatePayload(payload, signature, v.secret); err != nil {
		return errors.Join(ErrInvalidSignature, fmt.Errorf("stripe: %w", err))
	}
	return nil
}
