package models

import "fmt"

// Role is the closed set of worker roles on a service ticket.
type Role string

const (
	RoleMechanic      Role = "mechanic"
	RolePainter       Role = "painter"
	RoleBodywork      Role = "bodywork"
	RolePrep          Role = "prep"
	RoleAssembly      Role = "assembly"
	RoleWash          Role = "wash"
	RolePolish        Role = "polish"
	RoleQuality       Role = "quality"
	RoleQualitySystem Role = "quality-system"
)

var allRoles = []Role{
	RoleMechanic,
	RolePainter,
	RoleBodywork,
	RolePrep,
	RoleAssembly,
	RoleWash,
	RolePolish,
	RoleQuality,
	RoleQualitySystem,
}

func ParseRole(value string) (Role, error) {
	role := Role(value)
	for _, known := range allRoles {
		if role == known {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", value)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// CommissionEligible reports whether completing work in this role
// accrues a commission record.
func (r Role) CommissionEligible() bool {
	return r == RoleMechanic || r == RoleBodywork
}

// QualityRole reports whether the role inspects work rather than
// performing it. Quality roles never get reopened by a rejection.
func (r Role) QualityRole() bool {
	return r == RoleQuality || r == RoleQualitySystem
}

func (r Role) String() string {
	return string(r)
}
