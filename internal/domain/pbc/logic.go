package pbc

import (
	"fmt"
	"math"
)

// CohortWeight sums the weights of top-level goals counting toward the 100%
// invariant: draft, rejected and already-approved goals all belong to the
// weighted cohort, submitted and archived ones do not.
func CohortWeight(goals []Goal) float64 {
	total := 0.0
	for _, g := range goals {
		if !g.TopLevel() {
			continue
		}
		switch g.Status {
		case StatusDraft, StatusRejected, StatusApproved:
			total += g.Weight
		}
	}
	return total
}

func WeightBalanced(total float64) bool {
	return math.Abs(total-100) <= weightTolerance
}

// SubmittableGoals filters the top-level goals eligible for a cohort submit.
func SubmittableGoals(goals []Goal) []Goal {
	var eligible []Goal
	for _, g := range goals {
		if !g.TopLevel() {
			continue
		}
		if g.Status == StatusDraft || g.Status == StatusRejected {
			eligible = append(eligible, g)
		}
	}
	return eligible
}

func ValidScore(score float64) bool {
	return score >= 0 && score <= 100
}

// EditableStatus reports whether a goal's content may be changed. Submitted
// goals are under review and archived goals are terminal.
func EditableStatus(status string) bool {
	switch status {
	case StatusDraft, StatusRejected, StatusApproved:
		return true
	}
	return false
}

// SummarizeCohort derives one aggregate status for a (user, period) goal set.
// Cohort transitions are atomic, so the set is normally homogeneous; the
// priority order rejected/draft > submitted > approved > archived resolves
// any transient mix in favor of the state that needs action.
func SummarizeCohort(goals []Goal) CohortSummary {
	detail := map[string]int{
		StatusDraft:     0,
		StatusSubmitted: 0,
		StatusApproved:  0,
		StatusRejected:  0,
		StatusArchived:  0,
	}
	total := 0
	for _, g := range goals {
		if !g.TopLevel() {
			continue
		}
		total++
		detail[g.Status]++
	}

	status := StatusDraft
	switch {
	case detail[StatusRejected] > 0:
		status = StatusRejected
	case detail[StatusDraft] > 0:
		status = StatusDraft
	case detail[StatusSubmitted] > 0:
		status = StatusSubmitted
	case detail[StatusApproved] > 0:
		status = StatusApproved
	case detail[StatusArchived] > 0:
		status = StatusArchived
	}

	return CohortSummary{
		Total:        total,
		Status:       status,
		StatusDetail: detail,
		Message:      statusMessage(status),
	}
}

func statusMessage(status string) string {
	switch status {
	case StatusDraft:
		return "draft, not yet submitted"
	case StatusSubmitted:
		return "submitted, awaiting supervisor review"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected, revise and resubmit"
	case StatusArchived:
		return "archived"
	}
	return "unknown status"
}

// PeriodLabel renders the period name used in notifications.
func PeriodLabel(year, quarter int) string {
	return fmt.Sprintf("%d Q%d", year, quarter)
}

// MissingSelfScores counts approved top-level goals still lacking a self
// score; the overall self evaluation may only be submitted at zero.
func MissingSelfScores(goals []Goal) int {
	missing := 0
	for _, g := range goals {
		if !g.TopLevel() || g.Status != StatusApproved {
			continue
		}
		if g.SelfScore == nil {
			missing++
		}
	}
	return missing
}

func MissingSupervisorScores(goals []Goal) int {
	missing := 0
	for _, g := range goals {
		if !g.TopLevel() || g.Status != StatusApproved {
			continue
		}
		if g.SupervisorScore == nil {
			missing++
		}
	}
	return missing
}
