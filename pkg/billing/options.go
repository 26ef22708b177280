package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// Option configures any of the billing services.
// Options a service does not use are ignored by it.
type Option func(*settings)

type settings struct {
	logger     *slog.Logger
	now        func() time.Time
	baseline   Capability
	currency   string
	maxRetries int
}

func newSettings(component string, opts []Option) settings {
	s := settings{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		baseline:   CapabilityFeed,
		currency:   "USD",
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = s.logger.With(logger.Component(component))
	return s
}

func (s settings) clock() time.Time {
	return s.now().UTC()
}

// WithLogger sets the structured logger. Nil loggers are ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBaselineCapability overrides the capability default and free plans must keep.
func WithBaselineCapability(c Capability) Option {
	return func(s *settings) {
		if c != "" {
			s.baseline = c
		}
	}
}

// WithReportingCurrency sets the currency analytics totals are reported in.
func WithReportingCurrency(code string) Option {
	return func(s *settings) {
		if code != "" {
			s.currency = code
		}
	}
}

// WithMaxRetries bounds how often a unit of work is retried after ErrConcurrentUpdate.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// retry reruns fn while it fails with ErrConcurrentUpdate, up to maxRetries attempts.
func (s settings) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := range s.maxRetries {
		if err = fn(); !errors.Is(err, ErrConcurrentUpdate) {
			return err
		}
		s.logger.LogAttrs(ctx, slog.LevelDebug, "concurrent update, retrying",
			logger.RetryCount(attempt+1),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
	}
	return err
}
