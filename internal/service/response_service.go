package service

import (
	"time"

	"sirenlink/internal/models"
)

// SendCommandRequest is an operator's command before validation.
type SendCommandRequest struct {
	Action string
	TTLMs  *int // nil or 0 means default
	Cause  string
}

// ActivationFilter narrows ledger reads.
type ActivationFilter struct {
	DeviceID string
	Result   models.ActivationResult
	From     time.Time // inclusive; zero means no lower bound
	To       time.Time // inclusive; zero means no upper bound
	Limit    int
}

// NewUserInput is what a SUPERADMIN supplies to create an account.
type NewUserInput struct {
	Username       string
	Password       string
	Role           models.Role
	UrbanizationID *int
}

// SirenInput registers a device in the directory.
type SirenInput struct {
	DeviceID       string
	UrbanizationID *int
}

// MQTTHealth is the broker connection summary.
type MQTTHealth struct {
	Connected bool   `json:"connected"`
	ClientID  string `json:"clientId"`
}
