package billing

import (
	"time"

	"github.com/google/uuid"
)

// PlanHistory is one append-only audit record of an admin change to a plan.
type PlanHistory struct {
	ID          uuid.UUID
	PlanID      uuid.UUID
	ActorUserID uuid.UUID
	ChangeType  ChangeType
	Timestamp   time.Time
}

func newPlanHistory(planID, actorID uuid.UUID, change ChangeType, now time.Time) *PlanHistory {
	return &PlanHistory{
		ID:          uuid.New(),
		PlanID:      planID,
		ActorUserID: actorID,
		ChangeType:  change,
		Timestamp:   now.UTC(),
	}
}
