package models

import "time"

// CommandCause tells a human-triggered command from a scheduler-triggered one.
type CommandCause string

const (
	CauseManual CommandCause = "manual"
	CauseAuto   CommandCause = "auto"
)

// Valid reports whether c is one of the known causes.
func (c CommandCause) Valid() bool {
	return c == CauseManual || c == CauseAuto
}

// CommandPayload is the JSON body published to cmd/{deviceId}/set.
type CommandPayload struct {
	CommandID   string       `json:"commandId"`
	Action      OnOff        `json:"action"`
	TTLMs       int          `json:"ttlMs"`
	RequestedBy string       `json:"requestedBy"`
	Cause       CommandCause `json:"cause"`
}

// AutoOffDeadline is a persisted armed-until record, reconciled on startup.
type AutoOffDeadline struct {
	DeviceID  string    `json:"deviceId"`
	CommandID string    `json:"commandId"`
	Deadline  time.Time `json:"deadline"`
}
