package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/currency"

	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/redis"
)

// Config is the billing worker configuration, read from environment variables.
type Config struct {
	Environment string     `env:"APP_ENV" envDefault:"development"`
	ServiceName string     `env:"SERVICE_NAME" envDefault:"billing-worker"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	PG    pg.Config
	Redis redis.Config

	Stripe StripeConfig
	Paddle PaddleConfig

	// PlansFile is an optional YAML plan catalog seeded on startup.
	PlansFile          string `env:"BILLING_PLANS_FILE"`
	BaselineCapability string `env:"BILLING_BASELINE_CAPABILITY" envDefault:"feed"`
	ReportingCurrency  string `env:"BILLING_REPORTING_CURRENCY" envDefault:"USD"`
	MaxRetries         int    `env:"BILLING_MAX_RETRIES" envDefault:"3"`

	TrialReminderDays     int           `env:"BILLING_TRIAL_REMINDER_DAYS" envDefault:"3"`
	TrialReminderInterval time.Duration `env:"BILLING_TRIAL_REMINDER_INTERVAL" envDefault:"1h"`
	TrialSweepInterval    time.Duration `env:"BILLING_TRIAL_SWEEP_INTERVAL" envDefault:"15m"`
	PeriodEndInterval     time.Duration `env:"BILLING_PERIOD_END_INTERVAL" envDefault:"15m"`

	OutboxInterval  time.Duration `env:"BILLING_OUTBOX_INTERVAL" envDefault:"10s"`
	OutboxBatch     int           `env:"BILLING_OUTBOX_BATCH" envDefault:"100"`
	OutboxStream    string        `env:"BILLING_OUTBOX_STREAM" envDefault:"billing:notifications"`
	OutboxStreamCap int64         `env:"BILLING_OUTBOX_STREAM_MAXLEN" envDefault:"100000"`

	LockPrefix string        `env:"BILLING_LOCK_PREFIX" envDefault:"billing:lock:"`
	LockTTL    time.Duration `env:"BILLING_LOCK_TTL" envDefault:"5m"`
}

// StripeConfig holds the Stripe credentials. Both are optional.
type StripeConfig struct {
	SecretKey         string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret     string `env:"STRIPE_WEBHOOK_SECRET"`
	ProrationBehavior string `env:"STRIPE_PRORATION_BEHAVIOR" envDefault:"create_prorations"`
}

// PaddleConfig holds the Paddle notification secret.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	var errs []error
	if _, err := currency.ParseISO(c.ReportingCurrency); err != nil {
		errs = append(errs, fmt.Errorf("reporting currency %q: %w", c.ReportingCurrency, err))
	}
	if c.BaselineCapability == "" {
		errs = append(errs, errors.New("baseline capability is required"))
	}
	if c.TrialReminderDays <= 0 {
		errs = append(errs, errors.New("trial reminder days must be positive"))
	}
	if c.OutboxBatch <= 0 {
		errs = append(errs, errors.New("outbox batch must be positive"))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"trial reminder interval", c.TrialReminderInterval},
		{"trial sweep interval", c.TrialSweepInterval},
		{"period end interval", c.PeriodEndInterval},
		{"outbox interval", c.OutboxInterval},
		{"lock ttl", c.LockTTL},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	return errors.Join(errs...)
}
