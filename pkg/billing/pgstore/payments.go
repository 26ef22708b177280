package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/pg"
)

const paymentColumns = `id, subscription_id, amount, currency, status, period_start, period_end,
	external_invoice_id, failure_reason, created_at, updated_at`

func scanPayment(row scanner) (*billing.Payment, error) {
	var (
		p                      billing.Payment
		status                 string
		periodStart, periodEnd *time.Time
	)
	err := row.Scan(
		&p.ID, &p.SubscriptionID, &p.Amount.Amount, &p.Amount.Currency, &status,
		&periodStart, &periodEnd, &p.ExternalInvoiceID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = billing.PaymentStatus(status)
	p.PeriodStart = deref(periodStart)
	p.PeriodEnd = deref(periodEnd)
	return &p, nil
}

// UpsertPayment implements billing.PaymentStore. The conflict clause keeps a
// succeeded row untouched unless the replay also reports success, and the
// period bounds are only overwritten by known values.
func (s *Store) UpsertPayment(ctx context.Context, p *billing.Payment) (*billing.Payment, error) {
	stored, err := scanPayment(s.db.QueryRow(ctx, `INSERT INTO subscription_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_invoice_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			period_start = COALESCE(EXCLUDED.period_start, subscription_payments.period_start),
			period_end = COALESCE(EXCLUDED.period_end, subscription_payments.period_end),
			updated_at = EXCLUDED.updated_at
		WHERE subscription_payments.status <> 'succeeded' OR EXCLUDED.status = 'succeeded'
		RETURNING `+paymentColumns,
		p.ID, p.SubscriptionID, p.Amount.Amount, p.Amount.Currency, string(p.Status),
		nullTime(p.PeriodStart), nullTime(p.PeriodEnd), p.ExternalInvoiceID, p.FailureReason,
		p.CreatedAt, p.UpdatedAt,
	))
	if err == nil {
		return stored, nil
	}
	if pg.IsNotFoundError(err) {
		// The conflict clause skipped the update: the stored row already succeeded.
		return s.GetPaymentByInvoiceID(ctx, p.ExternalInvoiceID)
	}
	return nil, fmt.Errorf("failed to upsert payment: %w", err)
}

func (s *Store) GetPaymentByInvoiceID(ctx context.Context, invoiceID string) (*billing.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM subscription_payments WHERE external_invoice_id = $1`, invoiceID))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, f billing.PaymentFilter) ([]*billing.Payment, error) {
	w := &where{}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.SubscriptionID != nil {
		w.add("subscription_id = ?", *f.SubscriptionID)
	}
	w.window("created_at", f.Created)

	rows, err := s.db.Query(ctx, `SELECT `+paymentColumns+` FROM subscription_payments`+w.String()+` ORDER BY created_at`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []*billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return out, nil
}
