package shared

import (
	"pbc/internal/domain/org"
	"pbc/internal/domain/review"
)

// CanViewUser reports whether the viewer may read another user's goals and
// evaluations: themselves, any general manager, or a reviewer passing the
// supervisor/assistant gate.
func CanViewUser(viewer, subject org.User) bool {
	if viewer.ID == subject.ID {
		return true
	}
	if viewer.Role == org.RoleGM {
		return true
	}
	return review.Allowed(viewer, subject)
}
