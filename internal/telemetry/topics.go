package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

// Class identifies which inbound topic family a message belongs to.
type Class string

const (
	ClassState     Class = "state"
	ClassLastWill  Class = "lwt"
	ClassHeartbeat Class = "heartbeat"
	ClassAck       Class = "ack"
)

// Inbound topic patterns, subscribed at QoS 1.
const (
	StateTopicPattern     = "status/+/state"
	LastWillTopicPattern  = "status/+/lwt"
	HeartbeatTopicPattern = "tele/+/heartbeat"
	AckTopicPattern       = "cmd/+/ack"

	SubscribeQoS byte = 1
	CommandQoS   byte = 1
)

var ErrUnknownTopic = errors.New("unknown telemetry topic")

// Subscriptions returns every inbound topic filter the bridge listens on.
func Subscriptions() []string {
	return []string{
		StateTopicPattern,
		LastWillTopicPattern,
		HeartbeatTopicPattern,
		AckTopicPattern,
	}
}

// CommandTopic is the outbound topic for commands addressed to deviceID.
func CommandTopic(deviceID string) string {
	return "cmd/" + deviceID + "/set"
}

// ParseTopic splits root/{deviceId}/sub into a class and a device id.
func ParseTopic(topic string) (Class, string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	root, deviceID, sub := parts[0], strings.TrimSpace(parts[1]), parts[2]
	if deviceID == "" {
		return "", "", fmt.Errorf("%w: empty device id in %q", ErrUnknownTopic, topic)
	}

	switch {
	case root == "status" && sub == "state":
		return ClassState, deviceID, nil
	case root == "status" && sub == "lwt":
		return ClassLastWill, deviceID, nil
	case root == "tele" && sub == "heartbeat":
		return ClassHeartbeat, deviceID, nil
	case root == "cmd" && sub == "ack":
		return ClassAck, deviceID, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
}
