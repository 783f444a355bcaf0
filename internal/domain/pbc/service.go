package pbc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"pbc/internal/domain/org"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
)

// Notifier delivers lifecycle alerts. Failures are logged by callers and
// never surface into the operation result.
type Notifier interface {
	NotifySubmit(ctx context.Context, organization, supervisorDingtalkID, employeeName, periodLabel string, goalCount int) error
}

type Service struct {
	Store  *Store
	Org    *org.Service
	Notify Notifier
}

func NewService(store *Store, orgService *org.Service, notifier Notifier) *Service {
	return &Service{Store: store, Org: orgService, Notify: notifier}
}

type GoalInput struct {
	PeriodID         int64      `json:"periodId"`
	Type             string     `json:"goalType"`
	Name             string     `json:"goalName"`
	Description      string     `json:"goalDescription"`
	Weight           float64    `json:"goalWeight"`
	SupervisorGoalID *int64     `json:"supervisorGoalId"`
	Measures         string     `json:"measures"`
	Unacceptable     string     `json:"unacceptable"`
	Acceptable       string     `json:"acceptable"`
	Excellent        string     `json:"excellent"`
	CompletionTime   *time.Time `json:"completionTime"`
}

// validateGoalInput applies the type/role rules shared by create and update:
// employees cannot own team goals, only business goals may reference a
// supervisor goal, a general manager's goals never do, and a referenced
// supervisor goal must be a top-level business goal owned by the user's
// supervisor.
func (s *Service) validateGoalInput(ctx context.Context, owner org.User, input GoalInput) error {
	if !ValidGoalType(input.Type) {
		return fmt.Errorf("%w: unknown goal type %q", ErrValidation, input.Type)
	}
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: goal name is required", ErrValidation)
	}
	if input.Weight < 0 || input.Weight > 100 {
		return fmt.Errorf("%w: goal weight must be between 0 and 100", ErrValidation)
	}
	if owner.Role == org.RoleEmployee && input.Type == TypeTeam {
		return fmt.Errorf("%w: employees may only create business and skill goals", ErrValidation)
	}

	if input.Type != TypeBusiness || input.SupervisorGoalID == nil {
		return nil
	}
	if owner.Role == org.RoleGM {
		return fmt.Errorf("%w: general manager goals must not reference a supervisor goal", ErrValidation)
	}
	if owner.SupervisorID == nil {
		return fmt.Errorf("%w: user has no supervisor to link a goal to", ErrValidation)
	}

	var valid bool
	err := s.Store.DB.QueryRow(ctx, `
    SELECT EXISTS(
      SELECT 1 FROM pbc_goals
      WHERE goal_id = $1 AND user_id = $2 AND goal_type = $3 AND parent_goal_id IS NULL
    )
  `, *input.SupervisorGoalID, *owner.SupervisorID, TypeBusiness).Scan(&valid)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("%w: referenced supervisor goal is not a business goal of your supervisor", ErrValidation)
	}
	return nil
}

func (s *Service) CreateGoal(ctx context.Context, userID int64, input GoalInput) (Goal, error) {
	owner, err := s.Org.GetUser(ctx, userID)
	if err != nil {
		return Goal{}, err
	}
	if _, err := s.GetPeriod(ctx, input.PeriodID); err != nil {
		return Goal{}, err
	}
	if err := s.validateGoalInput(ctx, owner, input); err != nil {
		return Goal{}, err
	}

	// Goals of the general manager need no review and start approved.
	status := StatusDraft
	if owner.Role == org.RoleGM {
		status = StatusApproved
	}

	// Only business goals carry the supervisor link.
	var supervisorGoalID *int64
	if input.Type == TypeBusiness {
		supervisorGoalID = input.SupervisorGoalID
	}

	row := s.Store.DB.QueryRow(ctx, `
    INSERT INTO pbc_goals (user_id, period_id, goal_type, goal_name, goal_description, goal_weight,
      supervisor_goal_id, measures, unacceptable, acceptable, excellent, completion_time, status)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    RETURNING `+GoalColumns+`
  `, userID, input.PeriodID, input.Type, input.Name, input.Description, input.Weight,
		supervisorGoalID, nullable(input.Measures), nullable(input.Unacceptable), nullable(input.Acceptable), nullable(input.Excellent),
		input.CompletionTime, status)
	return ScanGoal(row)
}

func (s *Service) CreateSubGoal(ctx context.Context, parentID, userID int64, input GoalInput) (Goal, error) {
	parent, err := s.GetGoal(ctx, parentID)
	if err != nil {
		return Goal{}, err
	}
	if parent.UserID != userID {
		return Goal{}, fmt.Errorf("%w: cannot add sub-goals to another user's goal", ErrForbidden)
	}
	if !parent.TopLevel() {
		return Goal{}, fmt.Errorf("%w: sub-goals cannot be nested", ErrValidation)
	}
	if strings.TrimSpace(input.Name) == "" {
		return Goal{}, fmt.Errorf("%w: goal name is required", ErrValidation)
	}

	row := s.Store.DB.QueryRow(ctx, `
    INSERT INTO pbc_goals (user_id, period_id, goal_type, goal_name, goal_description, goal_weight,
      parent_goal_id, measures, completion_time, status)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    RETURNING `+GoalColumns+`
  `, userID, parent.PeriodID, parent.Type, input.Name, input.Description, 0,
		parentID, nullable(input.Measures), input.CompletionTime, StatusDraft)
	return ScanGoal(row)
}

func (s *Service) GetGoal(ctx context.Context, goalID int64) (Goal, error) {
	row := s.Store.DB.QueryRow(ctx, "SELECT "+GoalColumns+" FROM pbc_goals WHERE goal_id = $1", goalID)
	goal, err := ScanGoal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Goal{}, fmt.Errorf("goal %d: %w", goalID, ErrNotFound)
	}
	return goal, err
}

// UpdateGoal changes goal content. Editing an approved goal reopens the
// review cycle: status drops back to draft and all four evaluation fields
// are cleared. Once the owner's overall self evaluation for the period is
// submitted, approved goals are locked against edits.
func (s *Service) UpdateGoal(ctx context.Context, goalID, userID int64, input GoalInput) (Goal, error) {
	goal, err := s.GetGoal(ctx, goalID)
	if err != nil {
		return Goal{}, err
	}
	if goal.UserID != userID {
		return Goal{}, fmt.Errorf("%w: cannot edit another user's goal", ErrForbidden)
	}
	if !EditableStatus(goal.Status) {
		if goal.Status == StatusSubmitted {
			return Goal{}, fmt.Errorf("%w: goal is under review", ErrInvalidState)
		}
		return Goal{}, fmt.Errorf("%w: archived goals cannot be edited", ErrInvalidState)
	}

	if goal.Status == StatusApproved {
		evaluation, err := s.findEvaluation(ctx, goal.UserID, goal.PeriodID)
		if err != nil {
			return Goal{}, err
		}
		if evaluation != nil && evaluation.SelfSubmittedAt != nil {
			return Goal{}, fmt.Errorf("%w: self evaluation already submitted, goal is locked", ErrInvalidState)
		}
	}

	owner, err := s.Org.GetUser(ctx, userID)
	if err != nil {
		return Goal{}, err
	}
	if goal.TopLevel() {
		if input.PeriodID == 0 {
			input.PeriodID = goal.PeriodID
		}
		if err := s.validateGoalInput(ctx, owner, input); err != nil {
			return Goal{}, err
		}
	}

	status := goal.Status
	resetEvaluation := false
	if goal.Status == StatusApproved {
		status = StatusDraft
		resetEvaluation = true
	}

	var supervisorGoalID *int64
	if input.Type == TypeBusiness {
		supervisorGoalID = input.SupervisorGoalID
	}

	var row pgx.Row
	if resetEvaluation {
		row = s.Store.DB.QueryRow(ctx, `
      UPDATE pbc_goals
      SET goal_type = $1, goal_name = $2, goal_description = $3, goal_weight = $4,
          supervisor_goal_id = $5, measures = $6, unacceptable = $7, acceptable = $8, excellent = $9,
          completion_time = $10, status = $11,
          self_score = NULL, self_comment = NULL, supervisor_score = NULL, supervisor_comment = NULL,
          updated_at = now()
      WHERE goal_id = $12
      RETURNING `+GoalColumns+`
    `, input.Type, input.Name, input.Description, input.Weight,
			supervisorGoalID, nullable(input.Measures), nullable(input.Unacceptable), nullable(input.Acceptable), nullable(input.Excellent),
			input.CompletionTime, status, goalID)
	} else {
		row = s.Store.DB.QueryRow(ctx, `
      UPDATE pbc_goals
      SET goal_type = $1, goal_name = $2, goal_description = $3, goal_weight = $4,
          supervisor_goal_id = $5, measures = $6, unacceptable = $7, acceptable = $8, excellent = $9,
          completion_time = $10, status = $11, updated_at = now()
      WHERE goal_id = $12
      RETURNING `+GoalColumns+`
    `, input.Type, input.Name, input.Description, input.Weight,
			supervisorGoalID, nullable(input.Measures), nullable(input.Unacceptable), nullable(input.Acceptable), nullable(input.Excellent),
			input.CompletionTime, status, goalID)
	}
	return ScanGoal(row)
}

func (s *Service) DeleteGoal(ctx context.Context, goalID, userID int64) error {
	goal, err := s.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal.UserID != userID {
		return fmt.Errorf("%w: cannot delete another user's goal", ErrForbidden)
	}
	if goal.Status != StatusDraft {
		return fmt.Errorf("%w: only draft goals can be deleted", ErrInvalidState)
	}

	// Sub-goals go with the parent.
	if _, err := s.Store.DB.Exec(ctx, "DELETE FROM pbc_goals WHERE parent_goal_id = $1", goalID); err != nil {
		return err
	}
	_, err = s.Store.DB.Exec(ctx, "DELETE FROM pbc_goals WHERE goal_id = $1", goalID)
	return err
}

type ListFilter struct {
	UserID   *int64
	PeriodID *int64
	Year     *int
	Quarter  *int
	Status   string
	GoalType string
}

type GoalWithApproval struct {
	Goal
	SubGoals       []Goal    `json:"subGoals,omitempty"`
	LatestApproval *Approval `json:"latestApproval,omitempty"`
}

func (s *Service) ListGoals(ctx context.Context, filter ListFilter) ([]GoalWithApproval, error) {
	query := "SELECT " + GoalColumns + " FROM pbc_goals g WHERE parent_goal_id IS NULL"
	var args []any
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.PeriodID != nil {
		args = append(args, *filter.PeriodID)
		query += fmt.Sprintf(" AND period_id = $%d", len(args))
	}
	if filter.Year != nil {
		args = append(args, *filter.Year)
		query += fmt.Sprintf(" AND period_id IN (SELECT period_id FROM pbc_periods WHERE year = $%d)", len(args))
	}
	if filter.Quarter != nil {
		args = append(args, *filter.Quarter)
		query += fmt.Sprintf(" AND period_id IN (SELECT period_id FROM pbc_periods WHERE quarter = $%d)", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.GoalType != "" {
		args = append(args, filter.GoalType)
		query += fmt.Sprintf(" AND goal_type = $%d", len(args))
	}
	query += " ORDER BY goal_id"

	rows, err := s.Store.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	goals, err := CollectGoals(rows)
	if err != nil {
		return nil, err
	}

	result := make([]GoalWithApproval, 0, len(goals))
	for _, goal := range goals {
		entry := GoalWithApproval{Goal: goal}

		subRows, err := s.Store.DB.Query(ctx, "SELECT "+GoalColumns+" FROM pbc_goals WHERE parent_goal_id = $1 ORDER BY goal_id", goal.ID)
		if err != nil {
			return nil, err
		}
		entry.SubGoals, err = CollectGoals(subRows)
		if err != nil {
			return nil, err
		}

		approval, err := s.latestApproval(ctx, goal.ID)
		if err != nil {
			return nil, err
		}
		entry.LatestApproval = approval
		result = append(result, entry)
	}
	return result, nil
}

func (s *Service) latestApproval(ctx context.Context, goalID int64) (*Approval, error) {
	var a Approval
	err := s.Store.DB.QueryRow(ctx, `
    SELECT a.approval_id, a.goal_id, a.reviewer_id, u.real_name, a.action, COALESCE(a.comments, ''), a.created_at
    FROM pbc_approvals a
    JOIN users u ON u.user_id = a.reviewer_id
    WHERE a.goal_id = $1
    ORDER BY a.created_at DESC, a.approval_id DESC
    LIMIT 1
  `, goalID).Scan(&a.ID, &a.GoalID, &a.ReviewerID, &a.ReviewerName, &a.Action, &a.Comments, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SupervisorGoals lists the approved top-level business goals of the user's
// supervisor, the candidates for a supervisor-goal link.
func (s *Service) SupervisorGoals(ctx context.Context, userID int64, periodID *int64) ([]Goal, error) {
	user, err := s.Org.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.SupervisorID == nil {
		return nil, nil
	}

	query := "SELECT " + GoalColumns + ` FROM pbc_goals
    WHERE user_id = $1 AND goal_type = $2 AND parent_goal_id IS NULL AND status = $3`
	args := []any{*user.SupervisorID, TypeBusiness, StatusApproved}
	if periodID != nil {
		args = append(args, *periodID)
		query += fmt.Sprintf(" AND period_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.Store.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return CollectGoals(rows)
}

type SubmitResult struct {
	Count   int     `json:"count"`
	GoalIDs []int64 `json:"goalIds"`
}

// SubmitCohort moves every draft or rejected top-level goal of the (user,
// period) cohort to submitted, together with its sub-goals, writing one
// submit approval row per top-level goal. The 100% weight invariant over
// draft, rejected and approved goals is re-checked on row-locked data inside
// the same transaction as the status writes.
func (s *Service) SubmitCohort(ctx context.Context, userID int64, periodID *int64) (SubmitResult, error) {
	user, err := s.Org.GetUser(ctx, userID)
	if err != nil {
		return SubmitResult{}, err
	}
	period, err := s.resolvePeriod(ctx, periodID)
	if err != nil {
		return SubmitResult{}, err
	}

	tx, err := s.Store.DB.Begin(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback(ctx)

	cohort, err := LockCohort(ctx, tx, userID, period.ID)
	if err != nil {
		return SubmitResult{}, err
	}

	eligible := SubmittableGoals(cohort)
	if len(eligible) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: no draft or rejected goals to submit", ErrInvalidState)
	}

	total := CohortWeight(cohort)
	if !WeightBalanced(total) {
		return SubmitResult{}, fmt.Errorf("%w: goal weights must sum to 100%%, currently %.2f%%", ErrValidation, total)
	}

	ids := GoalIDs(eligible)
	if err := UpdateGoalStatus(ctx, tx, ids, StatusSubmitted); err != nil {
		return SubmitResult{}, err
	}
	if err := UpdateSubGoalStatus(ctx, tx, ids, StatusSubmitted); err != nil {
		return SubmitResult{}, err
	}
	for _, id := range ids {
		if err := InsertApproval(ctx, tx, id, userID, ActionSubmit, ""); err != nil {
			return SubmitResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SubmitResult{}, err
	}

	s.notifySupervisor(ctx, user, period, len(ids))

	return SubmitResult{Count: len(ids), GoalIDs: ids}, nil
}

// notifySupervisor fires the post-submit alert. Dispatch is best effort and
// runs only after the transaction has committed.
func (s *Service) notifySupervisor(ctx context.Context, user org.User, period Period, goalCount int) {
	if s.Notify == nil || user.SupervisorID == nil {
		return
	}
	supervisor, err := s.Org.GetUser(ctx, *user.SupervisorID)
	if err != nil {
		slog.Warn("submit notification supervisor lookup failed", "userId", user.ID, "err", err)
		return
	}
	if supervisor.DingtalkUserID == "" {
		return
	}
	label := PeriodLabel(period.Year, period.Quarter)
	if err := s.Notify.NotifySubmit(ctx, supervisor.Organization, supervisor.DingtalkUserID, user.RealName, label, goalCount); err != nil {
		slog.Warn("submit notification failed", "userId", user.ID, "supervisorId", supervisor.ID, "err", err)
	}
}

// TeamGoals lists non-draft top-level goals of every user visible to the
// viewer under the role scoping rules.
func (s *Service) TeamGoals(ctx context.Context, viewerID int64, periodID *int64) ([]TeamGoal, error) {
	viewer, err := s.Org.GetUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	visible, err := s.Org.VisibleUserIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		return nil, nil
	}

	query := `
    SELECT ` + PrefixedGoalColumns("g") + `, u.real_name, COALESCE(d.department_name, ''), p.year, p.quarter
    FROM pbc_goals g
    JOIN users u ON u.user_id = g.user_id
    LEFT JOIN departments d ON d.department_id = u.department_id
    JOIN pbc_periods p ON p.period_id = g.period_id
    WHERE g.parent_goal_id IS NULL AND g.status <> $1 AND g.user_id = ANY($2)`
	args := []any{StatusDraft, visible}
	if periodID != nil {
		args = append(args, *periodID)
		query += fmt.Sprintf(" AND g.period_id = $%d", len(args))
	}
	query += " ORDER BY g.created_at DESC"

	rows, err := s.Store.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []TeamGoal
	for rows.Next() {
		var t TeamGoal
		if err := rows.Scan(&t.ID, &t.UserID, &t.PeriodID, &t.Type, &t.Name, &t.Description, &t.Weight,
			&t.ParentGoalID, &t.SupervisorGoalID,
			&t.Measures, &t.Unacceptable, &t.Acceptable, &t.Excellent,
			&t.CompletionTime, &t.Status, &t.SelfScore, &t.SelfComment, &t.SupervisorScore, &t.SupervisorComment,
			&t.CreatedAt, &t.UpdatedAt,
			&t.UserName, &t.DepartmentName, &t.PeriodYear, &t.PeriodQuarter); err != nil {
			return nil, err
		}
		goals = append(goals, t)
	}
	return goals, rows.Err()
}

// CohortSummary reports per-status counts and the aggregate status of the
// user's top-level goals for the period.
func (s *Service) CohortSummary(ctx context.Context, userID int64, periodID *int64) (CohortSummary, error) {
	query := "SELECT " + GoalColumns + " FROM pbc_goals WHERE user_id = $1 AND parent_goal_id IS NULL"
	args := []any{userID}
	if periodID != nil {
		args = append(args, *periodID)
		query += fmt.Sprintf(" AND period_id = $%d", len(args))
	}

	rows, err := s.Store.DB.Query(ctx, query, args...)
	if err != nil {
		return CohortSummary{}, err
	}
	goals, err := CollectGoals(rows)
	if err != nil {
		return CohortSummary{}, err
	}
	return SummarizeCohort(goals), nil
}

func (s *Service) ApprovalHistory(ctx context.Context, goalID int64) ([]Approval, error) {
	if _, err := s.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}

	rows, err := s.Store.DB.Query(ctx, `
    SELECT a.approval_id, a.goal_id, a.reviewer_id, u.real_name, a.action, COALESCE(a.comments, ''), a.created_at
    FROM pbc_approvals a
    JOIN users u ON u.user_id = a.reviewer_id
    WHERE a.goal_id = $1
    ORDER BY a.created_at DESC, a.approval_id DESC
  `, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.GoalID, &a.ReviewerID, &a.ReviewerName, &a.Action, &a.Comments, &a.CreatedAt); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (s *Service) resolvePeriod(ctx context.Context, periodID *int64) (Period, error) {
	if periodID != nil {
		return s.GetPeriod(ctx, *periodID)
	}
	period, err := s.ActivePeriod(ctx)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, fmt.Errorf("%w: no active period", ErrValidation)
	}
	return period, err
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func PrefixedGoalColumns(alias string) string {
	return alias + ".goal_id, " + alias + ".user_id, " + alias + ".period_id, " + alias + ".goal_type, " + alias + ".goal_name, " + alias + ".goal_description, " + alias + ".goal_weight, " +
		alias + ".parent_goal_id, " + alias + ".supervisor_goal_id, " +
		"COALESCE(" + alias + ".measures, ''), COALESCE(" + alias + ".unacceptable, ''), COALESCE(" + alias + ".acceptable, ''), COALESCE(" + alias + ".excellent, ''), " +
		alias + ".completion_time, " + alias + ".status, " + alias + ".self_score, " + alias + ".self_comment, " + alias + ".supervisor_score, " + alias + ".supervisor_comment, " + alias + ".created_at, " + alias + ".updated_at"
}
