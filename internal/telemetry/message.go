package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sirenlink/internal/models"
)

var ErrMalformed = errors.New("malformed telemetry payload")

// Message is one parsed inbound message. The concrete types are StateMessage,
// LastWillMessage, HeartbeatMessage and AckMessage.
type Message interface {
	Class() Class
	Device() string
	sealed()
}

type StateMessage struct {
	DeviceID  string
	Online    bool
	Relay     *models.OnOff
	Siren     *models.OnOff
	IP        *string
	UpdatedAt time.Time
}

type LastWillMessage struct {
	DeviceID   string
	ReceivedAt time.Time
}

type HeartbeatMessage struct {
	DeviceID string
	TS       time.Time
}

type AckMessage struct {
	DeviceID  string
	CommandID string
	Result    string
	Success   bool
	Action    *models.OnOff
	TS        time.Time
}

func (StateMessage) Class() Class     { return ClassState }
func (LastWillMessage) Class() Class  { return ClassLastWill }
func (HeartbeatMessage) Class() Class { return ClassHeartbeat }
func (AckMessage) Class() Class       { return ClassAck }

func (m StateMessage) Device() string     { return m.DeviceID }
func (m LastWillMessage) Device() string  { return m.DeviceID }
func (m HeartbeatMessage) Device() string { return m.DeviceID }
func (m AckMessage) Device() string       { return m.DeviceID }

func (StateMessage) sealed()     {}
func (LastWillMessage) sealed()  {}
func (HeartbeatMessage) sealed() {}
func (AckMessage) sealed()       {}

// Patch converts a state report into a merge patch. Relay and siren are only
// merged when the device reported them.
func (m StateMessage) Patch() models.StatePatch {
	online := m.Online
	updated := m.UpdatedAt
	return models.StatePatch{
		Online:    &online,
		Relay:     m.Relay,
		Siren:     m.Siren,
		IP:        m.IP,
		UpdatedAt: &updated,
	}
}

// Patch forces the device offline and bumps updatedAt, keeping everything else.
func (m LastWillMessage) Patch() models.StatePatch {
	offline := false
	at := m.ReceivedAt
	return models.StatePatch{Online: &offline, UpdatedAt: &at}
}

// ackSuccess lists the result values a device uses to report success.
var ackSuccess = map[string]struct{}{
	"ok":       {},
	"success":  {},
	"done":     {},
	"executed": {},
}

// IsSuccessResult reports whether an ack result string means the command was applied.
func IsSuccessResult(result string) bool {
	_, ok := ackSuccess[strings.ToLower(strings.TrimSpace(result))]
	return ok
}

type statePayload struct {
	DeviceID  string          `json:"deviceId"`
	Online    *bool           `json:"online"`
	Relay     *string         `json:"relay"`
	Siren     *string         `json:"siren"`
	IP        *string         `json:"ip"`
	UpdatedAt json.RawMessage `json:"updatedAt"`
}

type heartbeatPayload struct {
	DeviceID string          `json:"deviceId"`
	TS       json.RawMessage `json:"ts"`
}

type ackPayload struct {
	CommandID string          `json:"commandId"`
	Result    string          `json:"result"`
	Action    *string         `json:"action"`
	TS        json.RawMessage `json:"ts"`
}

// Parse classifies topic and decodes payload into exactly one Message variant.
// receivedAt is used wherever the device did not send its own timestamp.
func Parse(topic string, payload []byte, receivedAt time.Time) (Message, error) {
	class, deviceID, err := ParseTopic(topic)
	if err != nil {
		return nil, err
	}
	receivedAt = receivedAt.UTC()
	payload = bytes.TrimSpace(payload)

	switch class {
	case ClassState:
		return parseState(deviceID, payload, receivedAt)
	case ClassLastWill:
		return LastWillMessage{DeviceID: deviceID, ReceivedAt: receivedAt}, nil
	case ClassHeartbeat:
		return parseHeartbeat(deviceID, payload, receivedAt), nil
	case ClassAck:
		return parseAck(deviceID, payload, receivedAt)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
}

func parseState(deviceID string, payload []byte, receivedAt time.Time) (Message, error) {
	var p statePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: state: %v", ErrMalformed, err)
	}

	m := StateMessage{
		DeviceID:  deviceID,
		Online:    true,
		IP:        p.IP,
		UpdatedAt: parseTimestamp(p.UpdatedAt, receivedAt),
	}
	if id := strings.TrimSpace(p.DeviceID); id != "" {
		m.DeviceID = id
	}
	if p.Online != nil {
		m.Online = *p.Online
	}
	if p.Relay != nil {
		v, err := models.ParseOnOff(*p.Relay)
		if err != nil {
			return nil, fmt.Errorf("%w: relay: %v", ErrMalformed, err)
		}
		m.Relay = &v
	}
	if p.Siren != nil {
		v, err := models.ParseOnOff(*p.Siren)
		if err != nil {
			return nil, fmt.Errorf("%w: siren: %v", ErrMalformed, err)
		}
		m.Siren = &v
	}
	return m, nil
}

// parseHeartbeat never fails: a heartbeat with an unreadable body still proves liveness.
func parseHeartbeat(deviceID string, payload []byte, receivedAt time.Time) Message {
	m := HeartbeatMessage{DeviceID: deviceID, TS: receivedAt}
	if len(payload) == 0 {
		return m
	}
	var p heartbeatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return m
	}
	if id := strings.TrimSpace(p.DeviceID); id != "" {
		m.DeviceID = id
	}
	m.TS = parseTimestamp(p.TS, receivedAt)
	return m
}

func parseAck(deviceID string, payload []byte, receivedAt time.Time) (Message, error) {
	var p ackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: ack: %v", ErrMalformed, err)
	}
	p.CommandID = strings.TrimSpace(p.CommandID)
	p.Result = strings.TrimSpace(p.Result)
	if p.CommandID == "" {
		return nil, fmt.Errorf("%w: ack: missing commandId", ErrMalformed)
	}
	if p.Result == "" {
		return nil, fmt.Errorf("%w: ack: missing result", ErrMalformed)
	}

	m := AckMessage{
		DeviceID:  deviceID,
		CommandID: p.CommandID,
		Result:    p.Result,
		Success:   IsSuccessResult(p.Result),
		TS:        parseTimestamp(p.TS, receivedAt),
	}
	if p.Action != nil {
		v, err := models.ParseOnOff(*p.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: ack action: %v", ErrMalformed, err)
		}
		m.Action = &v
	}
	return m, nil
}

// parseTimestamp accepts an RFC 3339 string or unix epoch milliseconds and
// falls back to def for anything else.
func parseTimestamp(raw json.RawMessage, def time.Time) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
			return t.UTC()
		}
		return def
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return def
}
