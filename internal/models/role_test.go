package models

import "testing"

func TestParseRole(t *testing.T) {
	for _, role := range allRoles {
		parsed, err := ParseRole(string(role))
		if err != nil {
			t.Fatalf("ParseRole(%q) error: %v", role, err)
		}
		if parsed != role {
			t.Fatalf("ParseRole(%q) = %q", role, parsed)
		}
	}

	if _, err := ParseRole("electrician"); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := ParseRole(""); err == nil {
		t.Fatal("expected error for empty role")
	}
}

func TestCommissionEligible(t *testing.T) {
	eligible := map[Role]bool{
		RoleMechanic: true,
		RoleBodywork: true,
	}
	for _, role := range allRoles {
		if got := role.CommissionEligible(); got != eligible[role] {
			t.Errorf("%s CommissionEligible = %v, want %v", role, got, eligible[role])
		}
	}
}

func TestQualityRole(t *testing.T) {
	quality := map[Role]bool{
		RoleQuality:       true,
		RoleQualitySystem: true,
	}
	for _, role := range allRoles {
		if got := role.QualityRole(); got != quality[role] {
			t.Errorf("%s QualityRole = %v, want %v", role, got, quality[role])
		}
	}
}
