package models

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleGuardia    Role = "GUARDIA"
	RoleResidente  Role = "RESIDENTE"
)

// ParseRole normalizes case and rejects unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleGuardia, RoleResidente:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type User struct {
	ID             int    `json:"id"`
	Username       string `json:"username"`
	PasswordHash   string `json:"-"` // don’t expose hash
	Role           Role   `json:"role"`
	UrbanizationID *int   `json:"urbanizationId,omitempty"`
}

// Caller is the authenticated identity attached to a request.
type Caller struct {
	UserID         int
	Username       string
	Role           Role
	UrbanizationID *int
}
