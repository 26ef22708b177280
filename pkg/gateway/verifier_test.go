package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/gateway"
)

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestStripeVerifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	payload := []byte(`{"id":"evt_1","object":"event"}`)
	secret := "whsec_test"
	ts := time.Now().Unix()
	header := fmt.Sprintf("t=%d,v1=%s", ts, sign(secret, fmt.Sprintf("%d.%s", ts, payload)))

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, gateway.NewStripeVerifier(secret).Verify(ctx, payload, header))
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		err := gateway.NewStripeVerifier("whsec_other").Verify(ctx, payload, header)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		err := gateway.NewStripeVerifier(secret).Verify(ctx, []byte(`{"id":"evt_2"}`), header)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		t.Parallel()
		old := time.Now().Add(-time.Hour).Unix()
		stale := fmt.Sprintf("t=%d,v1=%s", old, sign(secret, fmt.Sprintf("%d.%s", old, payload)))
		err := gateway.NewStripeVerifier(secret).Verify(ctx, payload, stale)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()
		err := gateway.NewStripeVerifier("").Verify(ctx, payload, header)
		assert.ErrorIs(t, err, gateway.ErrMissingSecret)
	})
}

func TestPaddleVerifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	payload := []byte(`{"event_type":"subscription.updated","data":{}}`)
	secret := "pdl_ntfset_test"
	ts := time.Now().Unix()
	header := fmt.Sprintf("ts=%d;h1=%s", ts, sign(secret, fmt.Sprintf("%d:%s", ts, payload)))

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, gateway.NewPaddleVerifier(secret).Verify(ctx, payload, header))
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		err := gateway.NewPaddleVerifier("pdl_ntfset_other").Verify(ctx, payload, header)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		err := gateway.NewPaddleVerifier(secret).Verify(ctx, payload, "")
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()
		err := gateway.NewPaddleVerifier("").Verify(ctx, payload, header)
		assert.ErrorIs(t, err, gateway.ErrMissingSecret)
	})
}
