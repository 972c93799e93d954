package models

import "strings"

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDoctor    Role = "DOCTOR"
	RoleSecretary Role = "SECRETARY"
)

func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RoleAdmin, RoleDoctor, RoleSecretary:
		return role, true
	default:
		return "", false
	}
}

// Actor identifies who performs a queue operation and in what capacity.
type Actor struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
