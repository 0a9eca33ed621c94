package models

import "time"

// Siren is the durable directory record of a physical device.
type Siren struct {
	ID             int       `json:"id"`
	DeviceID       string    `json:"deviceId"`
	UrbanizationID *int      `json:"urbanizationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Assignment links a resident to a siren they may operate.
type Assignment struct {
	ID      int  `json:"id"`
	UserID  int  `json:"userId"`
	SirenID int  `json:"sirenId"`
	Active  bool `json:"active"`
}
