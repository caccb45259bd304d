package auth

// Role is the closed set of identities the platform knows about. Behavior is
// driven by capability methods, not by comparing strings at call sites.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
)

// ParseRole maps a claim string onto the closed role set.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleStudent, RoleFaculty, RoleAdmin, RoleStaff:
		return Role(s), true
	}
	return "", false
}

// CanManageSessions reports whether the role may start and end class sessions.
func (r Role) CanManageSessions() bool {
	return r == RoleFaculty || r == RoleAdmin
}

// CanViewReports reports whether the role may read attendance lists and reports.
func (r Role) CanViewReports() bool {
	return r == RoleFaculty || r == RoleAdmin
}
