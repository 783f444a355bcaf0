package review

import "pbc/internal/domain/org"

// Allowed decides whether a reviewer may act on a subject's goals: the
// subject's direct supervisor always may, and a department assistant may for
// anyone in the same department. Every approve, reject, archive and
// supervisor-evaluate call passes through this gate before touching state.
func Allowed(reviewer, subject org.User) bool {
	if subject.SupervisorID != nil && *subject.SupervisorID == reviewer.ID {
		return true
	}
	if reviewer.Role != org.RoleAssistant {
		return false
	}
	return reviewer.DepartmentID != nil && subject.DepartmentID != nil &&
		*reviewer.DepartmentID == *subject.DepartmentID
}
