package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sirenlink/internal/logger"
	"sirenlink/internal/metrics"
	"sirenlink/internal/models"
	"sirenlink/internal/realtime"
	"sirenlink/internal/repository"
	"sirenlink/internal/telemetry"
	"sirenlink/internal/transport"
)

const ackIP = "device"

// HeartbeatEvent is the device.heartbeat payload.
type HeartbeatEvent struct {
	DeviceID string    `json:"deviceId"`
	TS       time.Time `json:"ts"`
}

// AckEvent is the device.ack payload.
type AckEvent struct {
	DeviceID     string                  `json:"deviceId"`
	CommandID    string                  `json:"commandId"`
	Result       string                  `json:"result"`
	Outcome      models.ActivationResult `json:"outcome"`
	Action       models.OnOff            `json:"action"`
	ActionSource telemetry.ActionSource  `json:"actionSource"`
	Matched      bool                    `json:"matched"`
	Auto         bool                    `json:"auto"`
	TS           time.Time               `json:"ts"`
}

// Ingestor turns inbound telemetry into state updates, snapshots, ledger
// entries and realtime events. It never panics or returns on bad input.
type Ingestor struct {
	store     *StateStore
	snapshots repository.DeviceStateRepo
	cache     repository.StateCache
	events    realtime.Broadcaster
	ledger    *Ledger
	sirens    repository.SirenRepo
	pending   *PendingCommands
	clock     Clock
	log       *logger.Logger
}

// IngestorDeps groups the collaborators of an Ingestor. Cache may be nil.
type IngestorDeps struct {
	Store     *StateStore
	Snapshots repository.DeviceStateRepo
	Cache     repository.StateCache
	Events    realtime.Broadcaster
	Ledger    *Ledger
	Sirens    repository.SirenRepo
	Pending   *PendingCommands
	Clock     Clock
	Log       *logger.Logger
}

func NewIngestor(d IngestorDeps) *Ingestor {
	return &Ingestor{
		store:     d.Store,
		snapshots: d.Snapshots,
		cache:     d.Cache,
		events:    d.Events,
		ledger:    d.Ledger,
		sirens:    d.Sirens,
		pending:   d.Pending,
		clock:     d.Clock,
		log:       logger.OrNop(d.Log),
	}
}

// Handle adapts HandleMessage to a transport subscription callback.
func (i *Ingestor) Handle(msg transport.Message) {
	i.HandleMessage(context.Background(), msg)
}

// HandleMessage classifies and applies one inbound message.
func (i *Ingestor) HandleMessage(ctx context.Context, msg transport.Message) {
	topic := msg.Topic()
	parsed, err := telemetry.Parse(topic, msg.Payload(), i.clock.Now())
	if err != nil {
		switch {
		case errors.Is(err, telemetry.ErrUnknownTopic):
			metrics.TelemetryDropped.WithLabelValues("unknown_topic").Inc()
			i.log.Debugw("telemetry_unknown_topic", "topic", topic)
		default:
			metrics.TelemetryDropped.WithLabelValues("malformed").Inc()
			i.log.Warnw("telemetry_malformed", "topic", topic, "err", err)
		}
		return
	}
	metrics.TelemetryMessages.WithLabelValues(string(parsed.Class())).Inc()

	switch m := parsed.(type) {
	case telemetry.StateMessage:
		st := i.store.Upsert(m.DeviceID, m.Patch())
		i.log.Debugw("device_state", "device_id", st.DeviceID, "online", st.Online, "relay", st.Relay, "siren", st.Siren)
		i.persist(ctx, st)
		i.events.Publish(realtime.EventState, st)

	case telemetry.LastWillMessage:
		st := i.store.Upsert(m.DeviceID, m.Patch())
		i.log.Warnw("device_offline", "device_id", st.DeviceID)
		i.persist(ctx, st)
		i.events.Publish(realtime.EventLastWill, st)

	case telemetry.HeartbeatMessage:
		ts := m.TS
		i.store.Upsert(m.DeviceID, models.StatePatch{LastHeartbeatAt: &ts})
		i.log.Debugw("device_heartbeat", "device_id", m.DeviceID, "ts", ts)
		i.events.Publish(realtime.EventHeartbeat, HeartbeatEvent{DeviceID: m.DeviceID, TS: ts})

	case telemetry.AckMessage:
		i.handleAck(ctx, m)
	}
}

// persist writes the durable snapshot and the cache mirror; failures are logged only.
func (i *Ingestor) persist(ctx context.Context, st models.DeviceState) {
	if err := i.snapshots.Upsert(ctx, st); err != nil {
		i.log.Errorw("device_state_persist_failed", "device_id", st.DeviceID, "err", err)
	}
	if i.cache == nil {
		return
	}
	if err := i.cache.Set(ctx, st); err != nil {
		i.log.Warnw("device_state_cache_failed", "device_id", st.DeviceID, "err", err)
	}
}

func (i *Ingestor) handleAck(ctx context.Context, m telemetry.AckMessage) {
	var pendingAction *models.OnOff
	cmd, matched := i.pending.Lookup(m.CommandID)
	if matched && cmd.DeviceID == m.DeviceID {
		a := cmd.Action
		pendingAction = &a
	} else {
		matched = false
	}

	var lastKnown *models.DeviceState
	if st, ok := i.store.Get(m.DeviceID); ok {
		lastKnown = &st
	}
	action, source := telemetry.InferAckAction(m.Action, pendingAction, lastKnown)

	outcome := models.ResultFailed
	reason := fmt.Sprintf("commandId=%s result=%s", m.CommandID, m.Result)
	if m.Success {
		outcome = models.ResultExecuted
		reason = "commandId=" + m.CommandID
	}

	siren, err := i.sirens.GetByDeviceID(ctx, m.DeviceID)
	if err != nil {
		i.log.Errorw("ack_device_unresolved", "device_id", m.DeviceID, "command_id", m.CommandID, "err", err)
	} else {
		i.ledger.Record(ctx, models.ActivationLog{
			DeviceID: m.DeviceID,
			SirenID:  &siren.ID,
			Action:   action,
			Result:   outcome,
			Reason:   reason,
			IP:       ackIP,
		})
	}

	i.events.Publish(realtime.EventAck, AckEvent{
		DeviceID:     m.DeviceID,
		CommandID:    m.CommandID,
		Result:       m.Result,
		Outcome:      outcome,
		Action:       action,
		ActionSource: source,
		Matched:      matched,
		Auto:         IsAutoOffCommand(m.CommandID),
		TS:           m.TS,
	})
}
