package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sirenlink/internal/logger"
	"sirenlink/internal/metrics"
	"sirenlink/internal/models"
	"sirenlink/internal/repository"
	"sirenlink/internal/telemetry"
	"sirenlink/internal/transport"

	"github.com/google/uuid"
)

const (
	autoOffRequester = "system:auto-off"
	autoOffReason    = "AUTO_OFF"
	autoOffIP        = "system"
	autoOffIDPrefix  = "autooff_"
)

// Dispatcher is the only writer to the outbound command topic. It owns TTL
// defaulting and drives the auto-off scheduler.
type Dispatcher struct {
	client     transport.Client
	scheduler  *AutoOffScheduler
	pending    *PendingCommands
	ledger     *Ledger
	sirens     repository.SirenRepo
	clock      Clock
	defaultTTL time.Duration
	log        *logger.Logger
}

func NewDispatcher(
	client transport.Client,
	scheduler *AutoOffScheduler,
	pending *PendingCommands,
	ledger *Ledger,
	sirens repository.SirenRepo,
	clock Clock,
	defaultTTL time.Duration,
	log *logger.Logger,
) *Dispatcher {
	d := &Dispatcher{
		client:     client,
		scheduler:  scheduler,
		pending:    pending,
		ledger:     ledger,
		sirens:     sirens,
		clock:      clock,
		defaultTTL: defaultTTL,
		log:        logger.OrNop(log),
	}
	scheduler.SetFireFunc(d.autoOff)
	return d
}

// Publish sends p to cmd/{deviceID}/set at QoS 1, not retained. An ON
// (re)arms the auto-off timer with p.TTLMs and an OFF cancels it. p.TTLMs is
// filled with the default when unset. Nothing happens when the transport is down.
//
// Once the client has taken the message it may be delivered even if the
// broker handshake is not confirmed, so the timer is updated on that path too:
// an unconfirmed ON is armed and an unconfirmed OFF leaves the timer running.
// The caller gets ErrDeliveryUnconfirmed, which is an ErrTransportUnavailable.
func (d *Dispatcher) Publish(ctx context.Context, deviceID string, p *models.CommandPayload) error {
	if !d.client.IsConnected() {
		return ErrTransportUnavailable
	}
	if p.TTLMs <= 0 {
		p.TTLMs = int(d.defaultTTL / time.Millisecond)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	// The request going away must not abandon a message already in flight.
	ctx = context.WithoutCancel(ctx)

	topic := telemetry.CommandTopic(deviceID)
	pubErr := d.client.Publish(ctx, topic, telemetry.CommandQoS, false, body)
	if errors.Is(pubErr, transport.ErrNotConnected) {
		return ErrTransportUnavailable
	}

	d.pending.Add(PendingCommand{
		CommandID: p.CommandID,
		DeviceID:  deviceID,
		Action:    p.Action,
		SentAt:    d.clock.Now(),
	})
	d.track(ctx, deviceID, p, pubErr == nil)

	if pubErr != nil {
		d.log.Warnw("command_delivery_unconfirmed",
			"device_id", deviceID,
			"command_id", p.CommandID,
			"action", p.Action,
			"err", pubErr,
		)
		return fmt.Errorf("%w: %v", ErrDeliveryUnconfirmed, pubErr)
	}

	metrics.CommandsPublished.WithLabelValues(string(p.Action), string(p.Cause)).Inc()
	d.log.Infow("command_published",
		"device_id", deviceID,
		"command_id", p.CommandID,
		"action", p.Action,
		"ttl_ms", p.TTLMs,
		"cause", p.Cause,
		"requested_by", p.RequestedBy,
	)
	return nil
}

// track updates the auto-off timer after a publish. The scheduler's own OFF
// never cancels: its timer is already gone and a newer ON may have re-armed.
func (d *Dispatcher) track(ctx context.Context, deviceID string, p *models.CommandPayload, delivered bool) {
	switch p.Action {
	case models.On:
		d.scheduler.Arm(ctx, deviceID, p.CommandID, time.Duration(p.TTLMs)*time.Millisecond)
	case models.Off:
		if delivered && !IsAutoOffCommand(p.CommandID) {
			d.scheduler.Cancel(ctx, deviceID)
		}
	}
}

// autoOff is the scheduler's fire action: a system OFF through the normal
// publish path, then an ACCEPTED AUTO_OFF ledger entry.
func (d *Dispatcher) autoOff(ctx context.Context, deviceID, armedCommandID string) error {
	p := &models.CommandPayload{
		CommandID:   autoOffIDPrefix + uuid.NewString(),
		Action:      models.Off,
		RequestedBy: autoOffRequester,
		Cause:       models.CauseAuto,
	}
	if err := d.Publish(ctx, deviceID, p); err != nil {
		return err
	}
	metrics.AutoOffFired.Inc()

	entry := models.ActivationLog{
		DeviceID: deviceID,
		Action:   models.Off,
		Result:   models.ResultAccepted,
		Reason:   autoOffReason,
		IP:       autoOffIP,
	}
	siren, err := d.sirens.GetByDeviceID(ctx, deviceID)
	switch {
	case err == nil:
		entry.SirenID = &siren.ID
	case errors.Is(err, repository.ErrNotFound):
		d.log.Warnw("auto_off_siren_unknown", "device_id", deviceID)
	default:
		d.log.Errorw("auto_off_siren_lookup_failed", "device_id", deviceID, "err", err)
	}
	d.ledger.Record(ctx, entry)

	d.log.Infow("auto_off_sent", "device_id", deviceID, "command_id", p.CommandID, "replaces", armedCommandID)
	return nil
}

// IsAutoOffCommand reports whether commandID was generated by the scheduler.
func IsAutoOffCommand(commandID string) bool {
	return strings.HasPrefix(commandID, autoOffIDPrefix)
}
