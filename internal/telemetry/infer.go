package telemetry

import "sirenlink/internal/models"

// ActionSource records where an ack's action came from.
type ActionSource string

const (
	SourceExplicit  ActionSource = "explicit"
	SourcePending   ActionSource = "pending"
	SourceLastRelay ActionSource = "last_known_relay"
)

// InferAckAction resolves the action an ack refers to. Order: the action the
// device echoed, then the action of the matching pending command, then the
// last reported relay position (ON if relay is ON, otherwise OFF).
//
// The last step is a loose heuristic. A device that acks an OFF before its
// next state report will be logged as ON.
func InferAckAction(explicit, pending *models.OnOff, lastKnown *models.DeviceState) (models.OnOff, ActionSource) {
	if explicit != nil {
		return *explicit, SourceExplicit
	}
	if pending != nil {
		return *pending, SourcePending
	}
	if lastKnown != nil && lastKnown.Relay == models.On {
		return models.On, SourceLastRelay
	}
	return models.Off, SourceLastRelay
}
