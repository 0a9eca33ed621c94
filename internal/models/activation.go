package models

import "time"

// ActivationResult is the outcome recorded in the activation ledger.
type ActivationResult string

const (
	ResultAccepted ActivationResult = "ACCEPTED"
	ResultRejected ActivationResult = "REJECTED"
	ResultFailed   ActivationResult = "FAILED"
	ResultExecuted ActivationResult = "EXECUTED"
)

// Valid reports whether r is a known ledger result.
func (r ActivationResult) Valid() bool {
	switch r {
	case ResultAccepted, ResultRejected, ResultFailed, ResultExecuted:
		return true
	}
	return false
}

// ActivationLog is one append-only ledger entry.
type ActivationLog struct {
	ID        string           `json:"id"`
	DeviceID  string           `json:"deviceId"`
	SirenID   *int             `json:"sirenId,omitempty"`
	UserID    *int             `json:"userId"`
	Action    OnOff            `json:"action"`
	Result    ActivationResult `json:"result"`
	Reason    string           `json:"reason,omitempty"`
	IP        string           `json:"ip,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
