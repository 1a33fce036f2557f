package lifecycle

import "github.com/piresc/nebengjek-dispatch/internal/pkg/models"

// DriverAction is the single forward step offered to the assigned driver
type DriverAction string

const (
	ActionDepart   DriverAction = "depart"
	ActionArrive   DriverAction = "arrive"
	ActionPickup   DriverAction = "pickup"
	ActionComplete DriverAction = "complete"
	ActionNone     DriverAction = "none"
)

var actionTargets = map[models.TripStatus]struct {
	action DriverAction
	to     models.TripStatus
}{
	models.TripStatusClaimed:         {ActionDepart, models.TripStatusEnRouteToPickup},
	models.TripStatusEnRouteToPickup: {ActionArrive, models.TripStatusAtPickup},
	models.TripStatusAtPickup:        {ActionPickup, models.TripStatusInProgress},
	models.TripStatusInProgress:      {ActionComplete, models.TripStatusCompleted},
}

// NextDriverAction mirrors a status into the driver's next action and its target status
func NextDriverAction(s models.TripStatus) (DriverAction, models.TripStatus) {
	if t, ok := actionTargets[s]; ok {
		return t.action, t.to
	}
	return ActionNone, ""
}

// TargetForAction returns the status an action moves to
func TargetForAction(a DriverAction) (models.TripStatus, bool) {
	for _, t := range actionTargets {
		if t.action == a {
			return t.to, true
		}
	}
	return "", false
}

// CancelOffered reports whether either party may still cancel an assigned trip in status s
func CancelOffered(s models.TripStatus) bool {
	return s != models.TripStatusWaiting && CanTransition(s, models.TripStatusCancelled)
}
