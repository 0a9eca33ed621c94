package service

import (
	"context"
	"errors"
	"fmt"

	"sirenlink/internal/models"
	"sirenlink/internal/repository"
)

// AccessChecker decides whether a caller may command a device.
type AccessChecker struct {
	sirens repository.SirenRepo
}

func NewAccessChecker(sirens repository.SirenRepo) *AccessChecker {
	return &AccessChecker{sirens: sirens}
}

// Check returns the resolved siren (nil only for a SUPERADMIN commanding an
// unregistered device) or a *DenialError naming why access was refused.
// Other errors are lookup failures, not denials.
func (a *AccessChecker) Check(ctx context.Context, caller models.Caller, deviceID string) (*models.Siren, error) {
	siren, err := a.sirens.GetByDeviceID(ctx, deviceID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("resolve siren %q: %w", deviceID, err)
	}

	if caller.Role == models.RoleSuperAdmin {
		return siren, nil
	}
	if siren == nil {
		return nil, deny(fmt.Sprintf("siren %s does not exist", deviceID))
	}

	switch caller.Role {
	case models.RoleAdmin, models.RoleGuardia:
		if caller.UrbanizationID == nil || siren.UrbanizationID == nil || *caller.UrbanizationID != *siren.UrbanizationID {
			return siren, deny(fmt.Sprintf("siren %s does not belong to your urbanization", deviceID))
		}
		return siren, nil
	case models.RoleResidente:
		ok, err := a.sirens.HasActiveAssignment(ctx, caller.UserID, siren.ID)
		if err != nil {
			return siren, fmt.Errorf("check assignment: %w", err)
		}
		if !ok {
			return siren, deny(fmt.Sprintf("you are not assigned to siren %s", deviceID))
		}
		return siren, nil
	}
	return siren, deny(fmt.Sprintf("role %s may not operate sirens", caller.Role))
}
