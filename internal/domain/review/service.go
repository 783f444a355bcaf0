package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"pbc/internal/domain/org"
	"pbc/internal/domain/pbc"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
)

// Notifier delivers review outcome alerts to the goal owner. Failures are
// logged and never surface into the operation result.
type Notifier interface {
	NotifyApprove(ctx context.Context, organization, employeeDingtalkID, periodLabel string, goalCount int) error
	NotifyReject(ctx context.Context, organization, employeeDingtalkID, periodLabel string, goalCount int, reason string) error
}

type Service struct {
	Goals  *pbc.Service
	Org    *org.Service
	Notify Notifier
}

func NewService(goals *pbc.Service, orgService *org.Service, notifier Notifier) *Service {
	return &Service{Goals: goals, Org: orgService, Notify: notifier}
}

func (s *Service) gate(ctx context.Context, reviewerID, subjectUserID int64) (org.User, org.User, error) {
	reviewer, err := s.Org.GetUser(ctx, reviewerID)
	if err != nil {
		return org.User{}, org.User{}, err
	}
	subject, err := s.Org.GetUser(ctx, subjectUserID)
	if err != nil {
		return org.User{}, org.User{}, err
	}
	if !Allowed(reviewer, subject) {
		return org.User{}, org.User{}, fmt.Errorf("%w: not authorized to review this user's goals", ErrForbidden)
	}
	return reviewer, subject, nil
}

type CohortResult struct {
	Count   int     `json:"count"`
	GoalIDs []int64 `json:"goalIds"`
}

// ApproveCohort approves every submitted top-level goal of the (user,
// period) cohort together with its sub-goals. Approval is always
// whole-cohort: partial approval would let the 100% weight invariant break
// mid-cycle. One approve row is written per top-level goal and the owner is
// notified once after commit.
func (s *Service) ApproveCohort(ctx context.Context, userID, periodID, reviewerID int64, comment string) (CohortResult, error) {
	return s.decideCohort(ctx, userID, periodID, reviewerID, pbc.ActionApprove, comment)
}

// RejectCohort is the symmetric whole-cohort rejection; the reason is
// mandatory and recorded on every approval row.
func (s *Service) RejectCohort(ctx context.Context, userID, periodID, reviewerID int64, reason string) (CohortResult, error) {
	if strings.TrimSpace(reason) == "" {
		return CohortResult{}, fmt.Errorf("%w: a rejection reason is required", ErrValidation)
	}
	return s.decideCohort(ctx, userID, periodID, reviewerID, pbc.ActionReject, reason)
}

func (s *Service) decideCohort(ctx context.Context, userID, periodID, reviewerID int64, action, comment string) (CohortResult, error) {
	_, subject, err := s.gate(ctx, reviewerID, userID)
	if err != nil {
		return CohortResult{}, err
	}
	period, err := s.Goals.GetPeriod(ctx, periodID)
	if err != nil {
		return CohortResult{}, err
	}

	nextStatus := pbc.StatusApproved
	if action == pbc.ActionReject {
		nextStatus = pbc.StatusRejected
	}

	tx, err := s.Goals.Store.DB.Begin(ctx)
	if err != nil {
		return CohortResult{}, err
	}
	defer tx.Rollback(ctx)

	cohort, err := pbc.LockCohort(ctx, tx, userID, periodID)
	if err != nil {
		return CohortResult{}, err
	}

	var submitted []pbc.Goal
	for _, g := range cohort {
		if g.Status == pbc.StatusSubmitted {
			submitted = append(submitted, g)
		}
	}
	if len(submitted) == 0 {
		return CohortResult{}, fmt.Errorf("%w: no submitted goals awaiting review", ErrInvalidState)
	}

	ids := pbc.GoalIDs(submitted)
	if err := pbc.UpdateGoalStatus(ctx, tx, ids, nextStatus); err != nil {
		return CohortResult{}, err
	}
	if err := pbc.UpdateSubGoalStatus(ctx, tx, ids, nextStatus); err != nil {
		return CohortResult{}, err
	}
	for _, id := range ids {
		if err := pbc.InsertApproval(ctx, tx, id, reviewerID, action, comment); err != nil {
			return CohortResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return CohortResult{}, err
	}

	s.notifyOwner(ctx, subject, period, action, comment, len(ids))

	return CohortResult{Count: len(ids), GoalIDs: ids}, nil
}

func (s *Service) notifyOwner(ctx context.Context, owner org.User, period pbc.Period, action, reason string, goalCount int) {
	if s.Notify == nil || owner.DingtalkUserID == "" {
		return
	}
	label := pbc.PeriodLabel(period.Year, period.Quarter)
	var err error
	if action == pbc.ActionApprove {
		err = s.Notify.NotifyApprove(ctx, owner.Organization, owner.DingtalkUserID, label, goalCount)
	} else {
		err = s.Notify.NotifyReject(ctx, owner.Organization, owner.DingtalkUserID, label, goalCount, reason)
	}
	if err != nil {
		slog.Warn("review notification failed", "action", action, "userId", owner.ID, "err", err)
	}
}

// ArchiveGoal moves a single approved top-level goal and its sub-goals to
// archived. Archived goals accept no further edits; only the supervisor
// score and comment may still be set.
func (s *Service) ArchiveGoal(ctx context.Context, goalID, reviewerID int64) (pbc.Goal, error) {
	goal, err := s.Goals.GetGoal(ctx, goalID)
	if err != nil {
		return pbc.Goal{}, err
	}
	if !goal.TopLevel() {
		return pbc.Goal{}, fmt.Errorf("%w: sub-goals are archived with their parent", ErrValidation)
	}
	if _, _, err := s.gate(ctx, reviewerID, goal.UserID); err != nil {
		return pbc.Goal{}, err
	}
	if goal.Status != pbc.StatusApproved {
		return pbc.Goal{}, fmt.Errorf("%w: only approved goals can be archived", ErrInvalidState)
	}

	tx, err := s.Goals.Store.DB.Begin(ctx)
	if err != nil {
		return pbc.Goal{}, err
	}
	defer tx.Rollback(ctx)

	if err := pbc.UpdateGoalStatus(ctx, tx, []int64{goalID}, pbc.StatusArchived); err != nil {
		return pbc.Goal{}, err
	}
	if err := pbc.UpdateSubGoalStatus(ctx, tx, []int64{goalID}, pbc.StatusArchived); err != nil {
		return pbc.Goal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return pbc.Goal{}, err
	}

	return s.Goals.GetGoal(ctx, goalID)
}

// SetSupervisorScore records the reviewer's per-goal score. The supervisor
// evaluates after the employee: a self score must already exist. Approved
// and archived goals accept the score, nothing else does.
func (s *Service) SetSupervisorScore(ctx context.Context, goalID, reviewerID int64, score float64, comment string) (pbc.Goal, error) {
	goal, err := s.Goals.GetGoal(ctx, goalID)
	if err != nil {
		return pbc.Goal{}, err
	}
	if _, _, err := s.gate(ctx, reviewerID, goal.UserID); err != nil {
		return pbc.Goal{}, err
	}
	if goal.Status != pbc.StatusApproved && goal.Status != pbc.StatusArchived {
		return pbc.Goal{}, fmt.Errorf("%w: only approved or archived goals can be evaluated", ErrInvalidState)
	}
	if goal.SelfScore == nil {
		return pbc.Goal{}, fmt.Errorf("%w: employee has not self-evaluated this goal yet", ErrInvalidState)
	}
	if !pbc.ValidScore(score) {
		return pbc.Goal{}, fmt.Errorf("%w: score must be between 0 and 100", ErrValidation)
	}

	row := s.Goals.Store.DB.QueryRow(ctx, `
    UPDATE pbc_goals
    SET supervisor_score = $1, supervisor_comment = $2, updated_at = now()
    WHERE goal_id = $3
    RETURNING `+pbc.GoalColumns+`
  `, score, comment, goalID)
	return pbc.ScanGoal(row)
}

// SubmitSupervisorOverall finalizes the supervisor's evaluation of the
// subject's period. Every approved top-level goal must carry a supervisor
// score and the subject must have submitted their overall self evaluation
// first.
func (s *Service) SubmitSupervisorOverall(ctx context.Context, userID, periodID, reviewerID int64, overallComment string) (pbc.Evaluation, error) {
	if _, _, err := s.gate(ctx, reviewerID, userID); err != nil {
		return pbc.Evaluation{}, err
	}
	if _, err := s.Goals.GetPeriod(ctx, periodID); err != nil {
		return pbc.Evaluation{}, err
	}

	rows, err := s.Goals.Store.DB.Query(ctx, `
    SELECT `+pbc.GoalColumns+`
    FROM pbc_goals
    WHERE user_id = $1 AND period_id = $2 AND parent_goal_id IS NULL AND status = $3
  `, userID, periodID, pbc.StatusApproved)
	if err != nil {
		return pbc.Evaluation{}, err
	}
	goals, err := pbc.CollectGoals(rows)
	if err != nil {
		return pbc.Evaluation{}, err
	}
	if missing := pbc.MissingSupervisorScores(goals); missing > 0 {
		return pbc.Evaluation{}, fmt.Errorf("%w: %d goals still lack a supervisor score", ErrValidation, missing)
	}

	var e pbc.Evaluation
	err = s.Goals.Store.DB.QueryRow(ctx, `
    UPDATE pbc_evaluations
    SET supervisor_overall_comment = $1, supervisor_submitted_at = now(), updated_at = now()
    WHERE user_id = $2 AND period_id = $3 AND self_submitted_at IS NOT NULL
    RETURNING evaluation_id, user_id, period_id, self_overall_comment, self_submitted_at, supervisor_overall_comment, supervisor_submitted_at
  `, overallComment, userID, periodID).
		Scan(&e.ID, &e.UserID, &e.PeriodID, &e.SelfOverallComment, &e.SelfSubmittedAt, &e.SupervisorOverallComment, &e.SupervisorSubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either no evaluation row exists or the self evaluation is pending.
		return pbc.Evaluation{}, fmt.Errorf("%w: employee has not submitted their overall self evaluation", ErrValidation)
	}
	if err != nil {
		return pbc.Evaluation{}, err
	}
	return e, nil
}

type PendingReview struct {
	pbc.Goal
	UserName      string `json:"userName"`
	PeriodYear    int    `json:"periodYear"`
	PeriodQuarter int    `json:"periodQuarter"`
}

// PendingReviews lists submitted top-level goals of the reviewer's direct
// subordinates.
func (s *Service) PendingReviews(ctx context.Context, reviewerID int64) ([]PendingReview, error) {
	subordinates, err := s.Org.Subordinates(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	if len(subordinates) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(subordinates))
	for _, u := range subordinates {
		ids = append(ids, u.ID)
	}

	rows, err := s.Goals.Store.DB.Query(ctx, `
    SELECT `+pbc.PrefixedGoalColumns("g")+`, u.real_name, p.year, p.quarter
    FROM pbc_goals g
    JOIN users u ON u.user_id = g.user_id
    JOIN pbc_periods p ON p.period_id = g.period_id
    WHERE g.user_id = ANY($1) AND g.status = $2 AND g.parent_goal_id IS NULL
    ORDER BY g.created_at
  `, ids, pbc.StatusSubmitted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingReview
	for rows.Next() {
		var r PendingReview
		if err := rows.Scan(&r.ID, &r.UserID, &r.PeriodID, &r.Type, &r.Name, &r.Description, &r.Weight,
			&r.ParentGoalID, &r.SupervisorGoalID,
			&r.Measures, &r.Unacceptable, &r.Acceptable, &r.Excellent,
			&r.CompletionTime, &r.Status, &r.SelfScore, &r.SelfComment, &r.SupervisorScore, &r.SupervisorComment,
			&r.CreatedAt, &r.UpdatedAt,
			&r.UserName, &r.PeriodYear, &r.PeriodQuarter); err != nil {
			return nil, err
		}
		pending = append(pending, r)
	}
	return pending, rows.Err()
}

// SubordinatesHistory lists the top-level goals of the reviewer's whole
// reporting subtree, optionally filtered by year and quarter.
func (s *Service) SubordinatesHistory(ctx context.Context, reviewerID int64, year, quarter *int) ([]PendingReview, error) {
	closure, err := s.Org.SubordinateClosure(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	// The closure includes the reviewer; history covers subordinates only.
	var ids []int64
	for _, id := range closure {
		if id != reviewerID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
    SELECT ` + pbc.PrefixedGoalColumns("g") + `, u.real_name, p.year, p.quarter
    FROM pbc_goals g
    JOIN users u ON u.user_id = g.user_id
    JOIN pbc_periods p ON p.period_id = g.period_id
    WHERE g.user_id = ANY($1) AND g.parent_goal_id IS NULL`
	args := []any{ids}
	if year != nil {
		args = append(args, *year)
		query += fmt.Sprintf(" AND p.year = $%d", len(args))
	}
	if quarter != nil {
		args = append(args, *quarter)
		query += fmt.Sprintf(" AND p.quarter = $%d", len(args))
	}
	query += " ORDER BY p.year DESC, p.quarter DESC, g.goal_id"

	rows, err := s.Goals.Store.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []PendingReview
	for rows.Next() {
		var r PendingReview
		if err := rows.Scan(&r.ID, &r.UserID, &r.PeriodID, &r.Type, &r.Name, &r.Description, &r.Weight,
			&r.ParentGoalID, &r.SupervisorGoalID,
			&r.Measures, &r.Unacceptable, &r.Acceptable, &r.Excellent,
			&r.CompletionTime, &r.Status, &r.SelfScore, &r.SelfComment, &r.SupervisorScore, &r.SupervisorComment,
			&r.CreatedAt, &r.UpdatedAt,
			&r.UserName, &r.PeriodYear, &r.PeriodQuarter); err != nil {
			return nil, err
		}
		history = append(history, r)
	}
	return history, rows.Err()
}
