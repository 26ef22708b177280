package billing

import "time"

// Transition names an edge trigger of the subscription state machine.
type Transition string

const (
	TransitionActivate    Transition = "activate"
	TransitionCancel      Transition = "cancel"
	TransitionChangePlan  Transition = "change_plan"
	TransitionReactivate  Transition = "reactivate"
	TransitionMarkPastDue Transition = "mark_past_due"

	// transitionRestartTrial has no edges; gateways cannot put a subscription back into trial.
	transitionRestartTrial Transition = "restart_trial"
)

// guard evaluates whether an edge may be taken at the given instant.
type guard func(s *Subscription, now time.Time) bool

type edge struct {
	to     Status
	guards []guard // all must pass
}

// periodNotEnded allows reactivation only while the paid period is still running.
func periodNotEnded(s *Subscription, now time.Time) bool {
	return s.CurrentPeriodEnd.After(now)
}

// transitions is the complete edge table; anything missing here is illegal.
var transitions = map[Status]map[Transition]edge{
	StatusTrialing: {
		TransitionActivate: {to: StatusActive},
		TransitionCancel:   {to: StatusCanceled},
	},
	StatusActive: {
		TransitionChangePlan:  {to: StatusActive},
		TransitionCancel:      {to: StatusCanceled},
		TransitionMarkPastDue: {to: StatusPastDue},
	},
	StatusPastDue: {
		TransitionActivate: {to: StatusActive},
		TransitionCancel:   {to: StatusCanceled},
	},
	StatusCanceled: {
		TransitionReactivate: {to: StatusActive, guards: []guard{periodNotEnded}},
	},
}

// InitialStatus is the status a new subscription to plan starts in.
func InitialStatus(plan *Plan) Status {
	if plan != nil && plan.TrialDays > 0 {
		return StatusTrialing
	}
	return StatusActive
}

// CanTransition reports whether from has an edge for t, ignoring guards.
func CanTransition(from Status, t Transition) bool {
	_, ok := transitions[from][t]
	return ok
}

// next resolves the target status for t, evaluating guards against s.
func next(s *Subscription, t Transition, now time.Time) (Status, error) {
	e, ok := transitions[s.Status][t]
	if !ok {
		return "", &TransitionError{From: s.Status, Event: t}
	}
	for _, g := range e.guards {
		if !g(s, now) {
			return "", &TransitionError{From: s.Status, Event: t, Rejected: true}
		}
	}
	return e.to, nil
}

// transitionFor maps a status reported by a gateway onto the edge that reaches it.
// ok is false when the subscription is already in that status. A canceled
// subscription has no edge to active here; only ReactivateSubscription revives it.
func transitionFor(from, to Status) (Transition, bool) {
	if from == to {
		return "", false
	}
	switch to {
	case StatusActive:
		return TransitionActivate, true
	case StatusCanceled:
		return TransitionCancel, true
	case StatusPastDue:
		return TransitionMarkPastDue, true
	default:
		return transitionRestartTrial, true
	}
}
