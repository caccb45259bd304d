package auth

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"student", "faculty", "admin", "staff"} {
		if _, ok := ParseRole(valid); !ok {
			t.Errorf("ParseRole(%q) rejected a valid role", valid)
		}
	}
	if _, ok := ParseRole("superuser"); ok {
		t.Error("ParseRole accepted a role outside the closed set")
	}
}

func TestRoleCapabilities(t *testing.T) {
	if !RoleFaculty.CanManageSessions() || !RoleAdmin.CanManageSessions() {
		t.Error("faculty and admin must manage sessions")
	}
	if RoleStudent.CanManageSessions() || RoleStaff.CanManageSessions() {
		t.Error("students and staff must not manage sessions")
	}
	if RoleStudent.CanViewReports() {
		t.Error("students must not view reports")
	}
}

func TestIssueParse_Roundtrip(t *testing.T) {
	pair, err := Issue("fac-1", RoleFaculty, "duty-platform", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	claims, err := Parse(pair.AccessToken, "secret", "duty-platform")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.Subject != "fac-1" || claims.Role != string(RoleFaculty) {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestParse_RejectsWrongKeyAndIssuer(t *testing.T) {
	pair, err := Issue("fac-1", RoleFaculty, "duty-platform", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := Parse(pair.AccessToken, "other-secret", "duty-platform"); err == nil {
		t.Error("expected error for wrong signing key")
	}
	if _, err := Parse(pair.AccessToken, "secret", "someone-else"); err == nil {
		t.Error("expected error for issuer mismatch")
	}
}
