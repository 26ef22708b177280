package billing

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Units of work serialize on a single
// lock and operate on a copy of the data that replaces the original on commit.
// Intended for tests, local development and single-instance deployments.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

type memoryData struct {
	subscriptions map[uuid.UUID]*Subscription
	payments      map[string]*Payment // by ExternalInvoiceID
	plans         map[uuid.UUID]*Plan
	history       []*PlanHistory
	coupons       map[uuid.UUID]*Coupon
	subCoupons    map[uuid.UUID]*SubscriptionCoupon // by SubscriptionID
	outbox        []*OutboxMessage
	dispatched    map[uuid.UUID]time.Time // outbox message id -> dispatch time
}

func newMemoryData() *memoryData {
	return &memoryData{
		subscriptions: make(map[uuid.UUID]*Subscription),
		payments:      make(map[string]*Payment),
		plans:         make(map[uuid.UUID]*Plan),
		coupons:       make(map[uuid.UUID]*Coupon),
		subCoupons:    make(map[uuid.UUID]*SubscriptionCoupon),
		dispatched:    make(map[uuid.UUID]time.Time),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.subscriptions {
		c.subscriptions[k] = v.clone()
	}
	for k, v := range d.payments {
		p := *v
		c.payments[k] = &p
	}
	for k, v := range d.plans {
		c.plans[k] = v.clone()
	}
	for k, v := range d.coupons {
		cp := *v
		c.coupons[k] = &cp
	}
	for k, v := range d.subCoupons {
		sc := *v
		c.subCoupons[k] = &sc
	}
	// Append-only slices: committed entries are never mutated.
	c.history = slices.Clone(d.history)
	c.outbox = slices.Clone(d.outbox)
	for k, v := range d.dispatched {
		c.dispatched[k] = v
	}
	return c
}

// InTx implements Store.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&memoryTx{d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data = work
	return nil
}

// Outbox returns a copy of every committed outbox message in append order.
func (m *MemoryStore) Outbox() []*OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data.outbox)
}

// PendingOutbox implements OutboxSource.
func (m *MemoryStore) PendingOutbox(_ context.Context, limit int) ([]*OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*OutboxMessage
	for _, msg := range m.data.outbox {
		if _, done := m.data.dispatched[msg.ID]; done {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkOutboxDispatched implements OutboxSource.
func (m *MemoryStore) MarkOutboxDispatched(_ context.Context, ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, done := m.data.dispatched[id]; !done {
			m.data.dispatched[id] = at.UTC()
		}
	}
	return nil
}

func (m *MemoryStore) do(fn func(tx *memoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memoryTx{d: m.data})
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, s *Subscription) error {
	return m.do(func(tx *memoryTx) error { return tx.CreateSubscription(ctx, s) })
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, s *Subscription) error {
	return m.do(func(tx *memoryTx) error { return tx.UpdateSubscription(ctx, s) })
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id uuid.UUID) (s *Subscription, err error) {
	err = m.do(func(tx *memoryTx) error { s, err = tx.GetSubscription(ctx, id); return err })
	return s, err
}

func (m *MemoryStore) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (s *Subscription, err error) {
	err = m.do(func(tx *memoryTx) error { s, err = tx.GetSubscriptionByGatewayID(ctx, gatewayID); return err })
	return s, err
}

func (m *MemoryStore) ListSubscriptionsByScope(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (subs []*Subscription, err error) {
	err = m.do(func(tx *memoryTx) error {
		subs, err = tx.ListSubscriptionsByScope(ctx, userID, territoryID)
		return err
	})
	return subs, err
}

func (m *MemoryStore) FindSubscriptions(ctx context.Context, f SubscriptionFilter) (subs []*Subscription, err error) {
	err = m.do(func(tx *memoryTx) error { subs, err = tx.FindSubscriptions(ctx, f); return err })
	return subs, err
}

func (m *MemoryStore) CountSubscriptions(ctx context.Context, f SubscriptionFilter) (n int64, err error) {
	err = m.do(func(tx *memoryTx) error { n, err = tx.CountSubscriptions(ctx, f); return err })
	return n, err
}

func (m *MemoryStore) UpsertPayment(ctx context.Context, p *Payment) (stored *Payment, err error) {
	err = m.do(func(tx *memoryTx) error { stored, err = tx.UpsertPayment(ctx, p); return err })
	return stored, err
}

func (m *MemoryStore) GetPaymentByInvoiceID(ctx context.Context, invoiceID string) (p *Payment, err error) {
	err = m.do(func(tx *memoryTx) error { p, err = tx.GetPaymentByInvoiceID(ctx, invoiceID); return err })
	return p, err
}

func (m *MemoryStore) ListPayments(ctx context.Context, f PaymentFilter) (ps []*Payment, err error) {
	err = m.do(func(tx *memoryTx) error { ps, err = tx.ListPayments(ctx, f); return err })
	return ps, err
}

func (m *MemoryStore) CreatePlan(ctx context.Context, p *Plan) error {
	return m.do(func(tx *memoryTx) error { return tx.CreatePlan(ctx, p) })
}

func (m *MemoryStore) UpdatePlan(ctx context.Context, p *Plan) error {
	return m.do(func(tx *memoryTx) error { return tx.UpdatePlan(ctx, p) })
}

func (m *MemoryStore) GetPlan(ctx context.Context, id uuid.UUID) (p *Plan, err error) {
	err = m.do(func(tx *memoryTx) error { p, err = tx.GetPlan(ctx, id); return err })
	return p, err
}

func (m *MemoryStore) GetPlanByGatewayPriceID(ctx context.Context, priceID string) (p *Plan, err error) {
	err = m.do(func(tx *memoryTx) error { p, err = tx.GetPlanByGatewayPriceID(ctx, priceID); return err })
	return p, err
}

func (m *MemoryStore) ListPlans(ctx context.Context) (ps []*Plan, err error) {
	err = m.do(func(tx *memoryTx) error { ps, err = tx.ListPlans(ctx); return err })
	return ps, err
}

func (m *MemoryStore) AppendPlanHistory(ctx context.Context, h *PlanHistory) error {
	return m.do(func(tx *memoryTx) error { return tx.AppendPlanHistory(ctx, h) })
}

func (m *MemoryStore) ListPlanHistory(ctx context.Context, planID uuid.UUID) (hs []*PlanHistory, err error) {
	err = m.do(func(tx *memoryTx) error { hs, err = tx.ListPlanHistory(ctx, planID); return err })
	return hs, err
}

func (m *MemoryStore) CreateCoupon(ctx context.Context, c *Coupon) error {
	return m.do(func(tx *memoryTx) error { return tx.CreateCoupon(ctx, c) })
}

func (m *MemoryStore) GetCouponByCode(ctx context.Context, code string) (c *Coupon, err error) {
	err = m.do(func(tx *memoryTx) error { c, err = tx.GetCouponByCode(ctx, code); return err })
	return c, err
}

func (m *MemoryStore) IncrementCouponRedemptions(ctx context.Context, couponID uuid.UUID) (c *Coupon, err error) {
	err = m.do(func(tx *memoryTx) error { c, err = tx.IncrementCouponRedemptions(ctx, couponID); return err })
	return c, err
}

func (m *MemoryStore) CreateSubscriptionCoupon(ctx context.Context, sc *SubscriptionCoupon) error {
	return m.do(func(tx *memoryTx) error { return tx.CreateSubscriptionCoupon(ctx, sc) })
}

func (m *MemoryStore) GetSubscriptionCoupon(ctx context.Context, subscriptionID uuid.UUID) (sc *SubscriptionCoupon, err error) {
	err = m.do(func(tx *memoryTx) error { sc, err = tx.GetSubscriptionCoupon(ctx, subscriptionID); return err })
	return sc, err
}

func (m *MemoryStore) AppendOutbox(ctx context.Context, msg *OutboxMessage) error {
	return m.do(func(tx *memoryTx) error { return tx.AppendOutbox(ctx, msg) })
}

// memoryTx implements Store over one memoryData without locking;
// the owning MemoryStore holds the lock for its lifetime.
type memoryTx struct {
	d *memoryData
}

func (t *memoryTx) InTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memoryTx) scopeTaken(s *Subscription) bool {
	for _, other := range t.d.subscriptions {
		if other.ID != s.ID && other.HoldsScope() && other.InScope(s.UserID, s.TerritoryID) {
			return true
		}
	}
	return false
}

func (t *memoryTx) CreateSubscription(_ context.Context, s *Subscription) error {
	if _, exists := t.d.subscriptions[s.ID]; exists {
		return ErrAlreadySubscribed
	}
	if s.HoldsScope() && t.scopeTaken(s) {
		return ErrAlreadySubscribed
	}
	if s.GatewaySubscriptionID != "" {
		if _, err := t.GetSubscriptionByGatewayID(context.Background(), s.GatewaySubscriptionID); err == nil {
			return ErrAlreadySubscribed
		}
	}
	s.Version = 1
	t.d.subscriptions[s.ID] = s.clone()
	return nil
}

func (t *memoryTx) UpdateSubscription(_ context.Context, s *Subscription) error {
	current, ok := t.d.subscriptions[s.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if current.Version != s.Version {
		return ErrConcurrentUpdate
	}
	if s.HoldsScope() && t.scopeTaken(s) {
		return ErrAlreadySubscribed
	}
	s.Version++
	t.d.subscriptions[s.ID] = s.clone()
	return nil
}

func (t *memoryTx) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s, ok := t.d.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return s.clone(), nil
}

func (t *memoryTx) GetSubscriptionByGatewayID(_ context.Context, gatewayID string) (*Subscription, error) {
	if gatewayID == "" {
		return nil, ErrSubscriptionNotFound
	}
	for _, s := range t.d.subscriptions {
		if s.GatewaySubscriptionID == gatewayID {
			return s.clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (t *memoryTx) ListSubscriptionsByScope(_ context.Context, userID uuid.UUID, territoryID *uuid.UUID) ([]*Subscription, error) {
	var out []*Subscription
	for _, s := range t.d.subscriptions {
		if s.InScope(userID, territoryID) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) FindSubscriptions(_ context.Context, f SubscriptionFilter) ([]*Subscription, error) {
	var out []*Subscription
	for _, s := range t.d.subscriptions {
		if f.Match(s) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memoryTx) CountSubscriptions(ctx context.Context, f SubscriptionFilter) (int64, error) {
	f.Limit = 0
	subs, err := t.FindSubscriptions(ctx, f)
	return int64(len(subs)), err
}

func (t *memoryTx) UpsertPayment(_ context.Context, p *Payment) (*Payment, error) {
	if current, ok := t.d.payments[p.ExternalInvoiceID]; ok {
		current.Merge(p)
		out := *current
		return &out, nil
	}
	stored := *p
	t.d.payments[p.ExternalInvoiceID] = &stored
	out := stored
	return &out, nil
}

func (t *memoryTx) GetPaymentByInvoiceID(_ context.Context, invoiceID string) (*Payment, error) {
	p, ok := t.d.payments[invoiceID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	out := *p
	return &out, nil
}

func (t *memoryTx) ListPayments(_ context.Context, f PaymentFilter) ([]*Payment, error) {
	var out []*Payment
	for _, p := range t.d.payments {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.SubscriptionID != nil && p.SubscriptionID != *f.SubscriptionID {
			continue
		}
		if !f.Created.Contains(p.CreatedAt) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) CreatePlan(_ context.Context, p *Plan) error {
	if _, exists := t.d.plans[p.ID]; exists {
		return ErrInvalidPlanConfiguration
	}
	t.d.plans[p.ID] = p.clone()
	return nil
}

func (t *memoryTx) UpdatePlan(_ context.Context, p *Plan) error {
	if _, ok := t.d.plans[p.ID]; !ok {
		return ErrPlanNotFound
	}
	t.d.plans[p.ID] = p.clone()
	return nil
}

func (t *memoryTx) GetPlan(_ context.Context, id uuid.UUID) (*Plan, error) {
	p, ok := t.d.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return p.clone(), nil
}

func (t *memoryTx) GetPlanByGatewayPriceID(_ context.Context, priceID string) (*Plan, error) {
	if priceID == "" {
		return nil, ErrPlanNotFound
	}
	for _, p := range t.d.plans {
		if p.GatewayPriceID == priceID {
			return p.clone(), nil
		}
	}
	return nil, ErrPlanNotFound
}

func (t *memoryTx) ListPlans(_ context.Context) ([]*Plan, error) {
	out := make([]*Plan, 0, len(t.d.plans))
	for _, p := range t.d.plans {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) AppendPlanHistory(_ context.Context, h *PlanHistory) error {
	cp := *h
	t.d.history = append(t.d.history, &cp)
	return nil
}

func (t *memoryTx) ListPlanHistory(_ context.Context, planID uuid.UUID) ([]*PlanHistory, error) {
	var out []*PlanHistory
	for _, h := range t.d.history {
		if h.PlanID == planID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memoryTx) CreateCoupon(_ context.Context, c *Coupon) error {
	code := NormalizeCouponCode(c.Code)
	for _, existing := range t.d.coupons {
		if NormalizeCouponCode(existing.Code) == code {
			return ErrInvalidCoupon
		}
	}
	cp := *c
	t.d.coupons[c.ID] = &cp
	return nil
}

func (t *memoryTx) GetCouponByCode(_ context.Context, code string) (*Coupon, error) {
	code = NormalizeCouponCode(code)
	for _, c := range t.d.coupons {
		if NormalizeCouponCode(c.Code) == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCouponNotFound
}

func (t *memoryTx) IncrementCouponRedemptions(_ context.Context, couponID uuid.UUID) (*Coupon, error) {
	c, ok := t.d.coupons[couponID]
	if !ok {
		return nil, ErrCouponNotFound
	}
	if c.Exhausted() {
		return nil, ErrCouponExhausted
	}
	c.RedemptionsCount++
	cp := *c
	return &cp, nil
}

func (t *memoryTx) CreateSubscriptionCoupon(_ context.Context, sc *SubscriptionCoupon) error {
	if _, exists := t.d.subCoupons[sc.SubscriptionID]; exists {
		return ErrCouponAlreadyApplied
	}
	cp := *sc
	t.d.subCoupons[sc.SubscriptionID] = &cp
	return nil
}

func (t *memoryTx) GetSubscriptionCoupon(_ context.Context, subscriptionID uuid.UUID) (*SubscriptionCoupon, error) {
	sc, ok := t.d.subCoupons[subscriptionID]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *sc
	return &cp, nil
}

func (t *memoryTx) AppendOutbox(_ context.Context, msg *OutboxMessage) error {
	if len(msg.Recipients) == 0 {
		return ErrEmptyRecipients
	}
	if msg.DedupKey != "" {
		for _, existing := range t.d.outbox {
			if existing.DedupKey == msg.DedupKey {
				return nil
			}
		}
	}
	cp := *msg
	cp.Recipients = slices.Clone(msg.Recipients)
	t.d.outbox = append(t.d.outbox, &cp)
	return nil
}

// Match reports whether s satisfies every set field of the filter.
func (f SubscriptionFilter) Match(s *Subscription) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.PlanID != nil && s.PlanID != *f.PlanID {
		return false
	}
	if !f.Created.Contains(s.CreatedAt) {
		return false
	}
	if f.Canceled.Start != nil || f.Canceled.End != nil {
		if s.CanceledAt == nil || !f.Canceled.Contains(*s.CanceledAt) {
			return false
		}
	}
	if f.TrialEndsAfter != nil || f.TrialEndsBy != nil {
		if s.TrialEnd == nil {
			return false
		}
		if f.TrialEndsAfter != nil && !s.TrialEnd.After(*f.TrialEndsAfter) {
			return false
		}
		if f.TrialEndsBy != nil && s.TrialEnd.After(*f.TrialEndsBy) {
			return false
		}
	}
	if f.PeriodEndsBy != nil && s.CurrentPeriodEnd.After(*f.PeriodEndsBy) {
		return false
	}
	if f.CancelAtPeriodEnd && !s.CancelAtPeriodEnd {
		return false
	}
	if f.WithoutGatewayLink && s.HasGatewayLink() {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
var _ OutboxSource = (*MemoryStore)(nil)
var _ Store = (*memoryTx)(nil)

// timeRef returns a pointer to t, handy for filter bounds.
func timeRef(t time.Time) *time.Time {
	return &t
}
