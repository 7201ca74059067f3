package iam

import (
	"time"

	"github.com/google/uuid"
)

// Role is one of a small fixed set of privilege levels
type Role string

const (
	RoleUser       Role = "user"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// CanImpersonate reports whether the role may start impersonation sessions
func (r Role) CanImpersonate() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CanEmergencyTerminate reports whether the role may run the break-glass
// system-wide termination
func (r Role) CanEmergencyTerminate() bool {
	return r == RoleSuperAdmin
}

// User represents an identity record. Owned by the identity subsystem;
// the session packages only read it.
type User struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	CompanyID *uuid.UUID `json:"company_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
