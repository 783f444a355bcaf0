package pbc

const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusArchived  = "archived"

	TypeBusiness = "business"
	TypeSkill    = "skill"
	TypeTeam     = "team"

	PeriodActive = "active"
	PeriodClosed = "closed"

	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// weightTolerance is the slack allowed on the 100% cohort weight sum,
// matching the two-decimal precision of the weight column.
const weightTolerance = 0.01

func ValidGoalType(goalType string) bool {
	switch goalType {
	case TypeBusiness, TypeSkill, TypeTeam:
		return true
	}
	return false
}

func ValidStatus(status string) bool {
	switch status {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusArchived:
		return true
	}
	return false
}
