package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sirenlink/internal/logger"
	"sirenlink/internal/models"
	"sirenlink/internal/repository"
	"sirenlink/internal/transport"
)

// MonitoringService exposes read-only broker health and device state.
type MonitoringService struct {
	client    transport.Client
	store     *StateStore
	scheduler *AutoOffScheduler
	snapshots repository.DeviceStateRepo
	cache     repository.StateCache
	log       *logger.Logger
}

// NewMonitoringService builds the read side. scheduler, snapshots and cache
// may be nil.
func NewMonitoringService(
	client transport.Client,
	store *StateStore,
	scheduler *AutoOffScheduler,
	snapshots repository.DeviceStateRepo,
	cache repository.StateCache,
	log *logger.Logger,
) *MonitoringService {
	return &MonitoringService{
		client:    client,
		store:     store,
		scheduler: scheduler,
		snapshots: snapshots,
		cache:     cache,
		log:       logger.OrNop(log),
	}
}

func (s *MonitoringService) MQTTHealth() MQTTHealth {
	return MQTTHealth{Connected: s.client.IsConnected(), ClientID: s.client.ClientID()}
}

// ListStates returns the last-known state of every device, ordered by id.
func (s *MonitoringService) ListStates(ctx context.Context) []models.DeviceState {
	list := s.store.List()
	for i := range list {
		list[i] = s.present(list[i])
	}
	return list
}

// GetState returns the last-known state of one device or ErrStateNotFound.
// Devices not yet heard from since start are looked up in the redis mirror
// and then the snapshot table.
func (s *MonitoringService) GetState(ctx context.Context, deviceID string) (models.DeviceState, error) {
	if st, ok := s.store.Get(deviceID); ok {
		return s.present(st), nil
	}

	if s.cache != nil {
		st, err := s.cache.Get(ctx, deviceID)
		switch {
		case err != nil:
			s.log.Warnw("state_cache_get_failed", "device_id", deviceID, "err", err)
		case st != nil:
			return s.present(*st), nil
		}
	}

	if s.snapshots == nil {
		return models.DeviceState{}, ErrStateNotFound
	}
	st, err := s.snapshots.Get(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.DeviceState{}, ErrStateNotFound
	}
	if err != nil {
		return models.DeviceState{}, fmt.Errorf("load snapshot %s: %w", deviceID, err)
	}
	return s.present(st), nil
}

// present normalises times to UTC and attaches the armed auto-off deadline.
func (s *MonitoringService) present(st models.DeviceState) models.DeviceState {
	st.UpdatedAt = toUTC(st.UpdatedAt)
	if st.LastHeartbeatAt != nil {
		hb := toUTC(*st.LastHeartbeatAt)
		st.LastHeartbeatAt = &hb
	}
	st.AutoOffAt = nil
	if s.scheduler != nil {
		if deadline, ok := s.scheduler.Armed(st.DeviceID); ok {
			at := toUTC(deadline)
			st.AutoOffAt = &at
		}
	}
	return st
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
