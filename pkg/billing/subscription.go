package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Subscription is a user's subscription to a plan within an optional territory scope.
// Status only changes through the transition methods below.
type Subscription struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TerritoryID *uuid.UUID // nil for the global scope
	PlanID      uuid.UUID
	Status      Status

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CanceledAt         *time.Time
	CancelAtPeriodEnd  bool

	GatewaySubscriptionID string // empty until a paid gateway link exists
	GatewayCustomerID     string

	LastGatewayEventAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64 // optimistic concurrency token, bumped by the store on every update
}

// NewSubscription builds a subscription to plan following the create transition:
// trialing when the plan has trial days, active otherwise.
func NewSubscription(userID uuid.UUID, territoryID *uuid.UUID, plan *Plan, now time.Time) *Subscription {
	now = now.UTC()
	s := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		TerritoryID:        territoryID,
		PlanID:             plan.ID,
		Status:             InitialStatus(plan),
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.Cycle.Next(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if s.Status == StatusTrialing {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		s.TrialStart = &now
		s.TrialEnd = &trialEnd
		s.CurrentPeriodEnd = trialEnd
	}
	return s
}

// IsTrialing returns true if the subscription is in trial status.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsActive returns true if the subscription is active (paid or free).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// HoldsScope reports whether the subscription occupies its (user, territory) slot.
func (s *Subscription) HoldsScope() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// HasGatewayLink reports whether a payment gateway owns billing for this subscription.
func (s *Subscription) HasGatewayLink() bool {
	return s.GatewaySubscriptionID != ""
}

// InScope reports whether the subscription belongs to the (user, territory) scope.
func (s *Subscription) InScope(userID uuid.UUID, territoryID *uuid.UUID) bool {
	return s.UserID == userID && sameTerritory(s.TerritoryID, territoryID)
}

// TrialExpiredAt returns true if the trial has ended at the given time.
func (s *Subscription) TrialExpiredAt(now time.Time) bool {
	return s.IsTrialing() && s.TrialEnd != nil && !s.TrialEnd.After(now)
}

// Activate moves a trialing or past-due subscription to active.
func (s *Subscription) Activate(now time.Time) error {
	return s.fire(TransitionActivate, now)
}

// MarkCanceled cancels the subscription as of at.
func (s *Subscription) MarkCanceled(at time.Time) error {
	if err := s.fire(TransitionCancel, at); err != nil {
		return err
	}
	at = at.UTC()
	s.CanceledAt = &at
	s.CancelAtPeriodEnd = false
	return nil
}

// ScheduleCancel flags the subscription to end with its current period.
// Status is left untouched until the cancellation executes.
func (s *Subscription) ScheduleCancel(now time.Time) error {
	if !CanTransition(s.Status, TransitionCancel) {
		return &TransitionError{From: s.Status, Event: TransitionCancel}
	}
	s.CancelAtPeriodEnd = true
	s.touch(now)
	return nil
}

// Reactivate restores a canceled subscription while its period has not ended.
func (s *Subscription) Reactivate(now time.Time) error {
	if err := s.fire(TransitionReactivate, now); err != nil {
		return err
	}
	s.CanceledAt = nil
	s.CancelAtPeriodEnd = false
	return nil
}

// ChangePlan switches an active subscription to another plan; status stays active.
func (s *Subscription) ChangePlan(planID uuid.UUID, now time.Time) error {
	if err := s.fire(TransitionChangePlan, now); err != nil {
		return err
	}
	s.PlanID = planID
	return nil
}

// MarkPastDue records a gateway-reported payment delinquency.
func (s *Subscription) MarkPastDue(now time.Time) error {
	return s.fire(TransitionMarkPastDue, now)
}

// MoveTo drives the subscription to a status reported by a gateway,
// using whichever single edge reaches it.
func (s *Subscription) MoveTo(status Status, at time.Time) error {
	t, ok := transitionFor(s.Status, status)
	if !ok {
		return nil
	}
	if t == TransitionCancel {
		return s.MarkCanceled(at)
	}
	return s.fire(t, at)
}

// SetPeriod overwrites the current billing period bounds.
func (s *Subscription) SetPeriod(start, end time.Time) error {
	if !end.After(start) {
		return errors.Join(ErrInvalidSubscription, errors.New("period end must be after period start"))
	}
	s.CurrentPeriodStart = start.UTC()
	s.CurrentPeriodEnd = end.UTC()
	return nil
}

// ExtendPeriod moves CurrentPeriodEnd forward when end is later. It reports whether it changed.
func (s *Subscription) ExtendPeriod(end time.Time) bool {
	if !end.After(s.CurrentPeriodEnd) {
		return false
	}
	s.CurrentPeriodEnd = end.UTC()
	return true
}

// LinkGateway records the gateway identifiers. Empty values keep the existing ones.
func (s *Subscription) LinkGateway(subscriptionID, customerID string) {
	if subscriptionID != "" {
		s.GatewaySubscriptionID = subscriptionID
	}
	if customerID != "" {
		s.GatewayCustomerID = customerID
	}
}

// IsStale reports whether a gateway event that occurred at is older than the last one applied.
// Events without a timestamp are never stale.
func (s *Subscription) IsStale(at time.Time) bool {
	return !at.IsZero() && s.LastGatewayEventAt != nil && at.Before(*s.LastGatewayEventAt)
}

// ObserveGatewayEvent remembers the newest applied gateway event timestamp.
func (s *Subscription) ObserveGatewayEvent(at time.Time) {
	if at.IsZero() || s.IsStale(at) {
		return
	}
	at = at.UTC()
	s.LastGatewayEventAt = &at
}

// Validate checks the aggregate invariants.
func (s *Subscription) Validate() error {
	var errs []error
	if s.UserID == uuid.Nil {
		errs = append(errs, errors.New("user id is required"))
	}
	if s.PlanID == uuid.Nil {
		errs = append(errs, errors.New("plan id is required"))
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		errs = append(errs, errors.New("period end must be after period start"))
	}
	if s.TrialEnd != nil && s.TrialStart == nil {
		errs = append(errs, errors.New("trial end requires trial start"))
	}
	if _, known := transitions[s.Status]; !known {
		errs = append(errs, errors.New("unknown status "+string(s.Status)))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidSubscription}, errs...)...)
	}
	return nil
}

// clone returns a deep copy so stores never share pointers with callers.
func (s *Subscription) clone() *Subscription {
	c := *s
	c.TerritoryID = clonePtr(s.TerritoryID)
	c.TrialStart = clonePtr(s.TrialStart)
	c.TrialEnd = clonePtr(s.TrialEnd)
	c.CanceledAt = clonePtr(s.CanceledAt)
	c.LastGatewayEventAt = clonePtr(s.LastGatewayEventAt)
	return &c
}

func (s *Subscription) fire(t Transition, now time.Time) error {
	to, err := next(s, t, now)
	if err != nil {
		return err
	}
	s.Status = to
	s.touch(now)
	return nil
}

func (s *Subscription) touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func sameTerritory(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
