package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sirenlink/internal/logger"
	"sirenlink/internal/metrics"
	"sirenlink/internal/models"

	"github.com/google/uuid"
)

// CommandService is the HTTP entry point for device commands: validate,
// check access, dispatch, and record the outcome.
type CommandService struct {
	access     *AccessChecker
	dispatcher *Dispatcher
	ledger     *Ledger
	minTTL     time.Duration
	maxTTL     time.Duration
	log        *logger.Logger
}

// NewCommandService accepts explicit ttlMs values in [minTTL, maxTTL].
func NewCommandService(access *AccessChecker, dispatcher *Dispatcher, ledger *Ledger, minTTL, maxTTL time.Duration, log *logger.Logger) *CommandService {
	return &CommandService{
		access:     access,
		dispatcher: dispatcher,
		ledger:     ledger,
		minTTL:     minTTL,
		maxTTL:     maxTTL,
		log:        logger.OrNop(log),
	}
}

// Send returns the payload as published. Denials are recorded as REJECTED and
// returned as *DenialError; a transport failure returns ErrTransportUnavailable
// and records nothing, except when the message may already be on its way
// (ErrDeliveryUnconfirmed), which is recorded as ACCEPTED.
func (s *CommandService) Send(ctx context.Context, caller models.Caller, deviceID string, req SendCommandRequest, ip string) (models.CommandPayload, error) {
	deviceID = strings.TrimSpace(deviceID)
	payload, err := s.buildPayload(caller, deviceID, req)
	if err != nil {
		return models.CommandPayload{}, err
	}

	uid := caller.UserID
	siren, err := s.access.Check(ctx, caller, deviceID)
	if err != nil {
		if reason := DenialReason(err); reason != "" {
			metrics.CommandsRejected.Inc()
			entry := models.ActivationLog{
				DeviceID: deviceID,
				UserID:   &uid,
				Action:   payload.Action,
				Result:   models.ResultRejected,
				Reason:   reason,
				IP:       ip,
			}
			if siren != nil {
				entry.SirenID = &siren.ID
			}
			s.ledger.Record(ctx, entry)
			s.log.Infow("command_rejected", "device_id", deviceID, "user_id", uid, "reason", reason)
		}
		return models.CommandPayload{}, err
	}

	pubErr := s.dispatcher.Publish(ctx, deviceID, &payload)
	if pubErr != nil && !errors.Is(pubErr, ErrDeliveryUnconfirmed) {
		s.log.Errorw("command_publish_failed", "device_id", deviceID, "user_id", uid, "err", pubErr)
		return models.CommandPayload{}, pubErr
	}

	// The command is out; record it even if the caller has gone away.
	entry := models.ActivationLog{
		DeviceID: deviceID,
		UserID:   &uid,
		Action:   payload.Action,
		Result:   models.ResultAccepted,
		Reason:   "commandId=" + payload.CommandID,
		IP:       ip,
	}
	if siren != nil {
		entry.SirenID = &siren.ID
	}
	if pubErr != nil {
		entry.Reason += " delivery=unconfirmed"
	}
	s.ledger.Record(context.WithoutCancel(ctx), entry)

	if pubErr != nil {
		s.log.Warnw("command_delivery_unconfirmed", "device_id", deviceID, "user_id", uid, "err", pubErr)
		return models.CommandPayload{}, pubErr
	}
	return payload, nil
}

func (s *CommandService) buildPayload(caller models.Caller, deviceID string, req SendCommandRequest) (models.CommandPayload, error) {
	if deviceID == "" {
		return models.CommandPayload{}, fmt.Errorf("%w: deviceId is required", ErrInvalidCommand)
	}
	action, err := models.ParseOnOff(req.Action)
	if err != nil {
		return models.CommandPayload{}, fmt.Errorf("%w: action must be ON or OFF", ErrInvalidCommand)
	}

	cause := models.CauseManual
	if c := strings.ToLower(strings.TrimSpace(req.Cause)); c != "" {
		cause = models.CommandCause(c)
		if !cause.Valid() {
			return models.CommandPayload{}, fmt.Errorf("%w: cause must be manual or auto", ErrInvalidCommand)
		}
	}

	ttl := 0
	if req.TTLMs != nil {
		ttl = *req.TTLMs
	}
	minMs := int(s.minTTL / time.Millisecond)
	if ttl < 0 || (ttl > 0 && ttl < minMs) {
		return models.CommandPayload{}, fmt.Errorf("%w: ttlMs must be >= %d", ErrInvalidCommand, minMs)
	}
	if maxMs := int64(s.maxTTL / time.Millisecond); int64(ttl) > maxMs {
		return models.CommandPayload{}, fmt.Errorf("%w: ttlMs must be <= %d", ErrInvalidCommand, maxMs)
	}

	return models.CommandPayload{
		CommandID:   uuid.NewString(),
		Action:      action,
		TTLMs:       ttl,
		RequestedBy: caller.Username,
		Cause:       cause,
	}, nil
}

// IsValidationError reports whether err came from request validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidCommand) || errors.Is(err, ErrInvalidInput)
}
