package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sirenlink/internal/logger"
	"sirenlink/internal/models"
	"sirenlink/internal/repository"
)

// SirenService manages the device directory and resident assignments.
type SirenService struct {
	sirens repository.SirenRepo
	log    *logger.Logger
}

func NewSirenService(sirens repository.SirenRepo, log *logger.Logger) *SirenService {
	return &SirenService{sirens: sirens, log: logger.OrNop(log)}
}

// CreateSiren registers a device. An ADMIN can only register into their own
// urbanization; whatever they send is overridden.
func (s *SirenService) CreateSiren(ctx context.Context, caller models.Caller, in SirenInput) (models.Siren, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return models.Siren{}, fmt.Errorf("%w: deviceId is required", ErrInvalidInput)
	}

	urb := in.UrbanizationID
	switch caller.Role {
	case models.RoleSuperAdmin:
	case models.RoleAdmin:
		if caller.UrbanizationID == nil {
			return models.Siren{}, errNoUrbanization
		}
		urb = caller.UrbanizationID
	default:
		return models.Siren{}, deny("role " + string(caller.Role) + " may not register sirens")
	}

	siren := models.Siren{DeviceID: deviceID, UrbanizationID: urb}
	id, err := s.sirens.Create(ctx, siren)
	if err != nil {
		return models.Siren{}, err
	}
	siren.ID = id
	s.log.Infow("siren_registered", "siren_id", id, "device_id", deviceID, "urbanization_id", urb, "by", caller.Username)
	return siren, nil
}

// ListSirens returns every siren for a SUPERADMIN and the caller's
// urbanization otherwise. A caller without one sees nothing.
func (s *SirenService) ListSirens(ctx context.Context, caller models.Caller) ([]models.Siren, error) {
	if caller.Role == models.RoleSuperAdmin {
		return s.sirens.List(ctx, nil)
	}
	if caller.UrbanizationID == nil {
		return []models.Siren{}, nil
	}
	return s.sirens.List(ctx, caller.UrbanizationID)
}

// AssignSiren grants userID the right to operate the siren on deviceID.
func (s *SirenService) AssignSiren(ctx context.Context, caller models.Caller, deviceID string, userID int) (models.Assignment, error) {
	if caller.Role != models.RoleSuperAdmin && caller.Role != models.RoleAdmin {
		return models.Assignment{}, deny("role " + string(caller.Role) + " may not assign sirens")
	}
	if userID <= 0 {
		return models.Assignment{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	siren, err := s.sirens.GetByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Assignment{}, fmt.Errorf("%w: siren %s does not exist", ErrInvalidInput, deviceID)
		}
		return models.Assignment{}, err
	}
	if caller.Role == models.RoleAdmin {
		if caller.UrbanizationID == nil || siren.UrbanizationID == nil || *caller.UrbanizationID != *siren.UrbanizationID {
			return models.Assignment{}, deny(fmt.Sprintf("siren %s does not belong to your urbanization", deviceID))
		}
	}

	id, err := s.sirens.Assign(ctx, userID, siren.ID)
	if err != nil {
		return models.Assignment{}, err
	}
	s.log.Infow("siren_assigned", "siren_id", siren.ID, "device_id", deviceID, "user_id", userID, "by", caller.Username)
	return models.Assignment{ID: id, UserID: userID, SirenID: siren.ID, Active: true}, nil
}
