package models

import (
	"fmt"
	"strings"
	"time"
)

// OnOff is the reported or commanded position of an actuator.
type OnOff string

const (
	On  OnOff = "ON"
	Off OnOff = "OFF"
)

// ParseOnOff accepts "on"/"off" in any case.
func ParseOnOff(s string) (OnOff, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(On):
		return On, nil
	case string(Off):
		return Off, nil
	}
	return "", fmt.Errorf("invalid on/off value %q", s)
}

// DeviceState is the last-known truth about one device as reported by the device itself.
// Relay and Siren are reported values, not the last commanded ones.
type DeviceState struct {
	DeviceID        string     `json:"deviceId"`
	Online          bool       `json:"online"`
	Relay           OnOff      `json:"relay"`
	Siren           OnOff      `json:"siren"`
	IP              *string    `json:"ip,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`
	// AutoOffAt is filled on reads while an auto-off is armed. Never persisted.
	AutoOffAt *time.Time `json:"autoOffAt,omitempty"`
}

// StatePatch carries the fields observed in a single message. Nil means "not observed".
type StatePatch struct {
	Online          *bool
	Relay           *OnOff
	Siren           *OnOff
	IP              *string
	UpdatedAt       *time.Time
	LastHeartbeatAt *time.Time
}

// Apply merges p into s. Unset fields keep their previous value.
func (p StatePatch) Apply(s DeviceState) DeviceState {
	if p.Online != nil {
		s.Online = *p.Online
	}
	if p.Relay != nil {
		s.Relay = *p.Relay
	}
	if p.Siren != nil {
		s.Siren = *p.Siren
	}
	if p.IP != nil {
		ip := *p.IP
		s.IP = &ip
	}
	if p.UpdatedAt != nil {
		s.UpdatedAt = p.UpdatedAt.UTC()
	}
	if p.LastHeartbeatAt != nil {
		hb := p.LastHeartbeatAt.UTC()
		s.LastHeartbeatAt = &hb
	}
	return s
}
