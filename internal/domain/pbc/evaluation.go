package pbc

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SetSelfScore records the owner's per-goal score and comment. Scoring is
// open only while the goal is approved.
func (s *Service) SetSelfScore(ctx context.Context, goalID, userID int64, score float64, comment string) (Goal, error) {
	goal, err := s.GetGoal(ctx, goalID)
	if err != nil {
		return Goal{}, err
	}
	if goal.UserID != userID {
		return Goal{}, fmt.Errorf("%w: cannot evaluate another user's goal", ErrForbidden)
	}
	if goal.Status != StatusApproved {
		return Goal{}, fmt.Errorf("%w: only approved goals can be self-evaluated", ErrInvalidState)
	}
	if !ValidScore(score) {
		return Goal{}, fmt.Errorf("%w: score must be between 0 and 100", ErrValidation)
	}

	row := s.Store.DB.QueryRow(ctx, `
    UPDATE pbc_goals
    SET self_score = $1, self_comment = $2, updated_at = now()
    WHERE goal_id = $3
    RETURNING `+GoalColumns+`
  `, score, comment, goalID)
	return ScanGoal(row)
}

// SubmitSelfOverall finalizes the owner's self evaluation for the period.
// Every approved top-level goal must already carry a self score. The
// resulting self_submitted_at timestamp locks approved goals against edits.
func (s *Service) SubmitSelfOverall(ctx context.Context, userID, periodID int64, overallComment string) (Evaluation, error) {
	if _, err := s.Org.GetUser(ctx, userID); err != nil {
		return Evaluation{}, err
	}
	if _, err := s.GetPeriod(ctx, periodID); err != nil {
		return Evaluation{}, err
	}

	goals, err := s.approvedTopLevelGoals(ctx, userID, periodID)
	if err != nil {
		return Evaluation{}, err
	}
	if missing := MissingSelfScores(goals); missing > 0 {
		return Evaluation{}, fmt.Errorf("%w: %d goals still lack a self score", ErrValidation, missing)
	}

	var e Evaluation
	err = s.Store.DB.QueryRow(ctx, `
    INSERT INTO pbc_evaluations (user_id, period_id, self_overall_comment, self_submitted_at)
    VALUES ($1,$2,$3,now())
    ON CONFLICT (user_id, period_id)
    DO UPDATE SET self_overall_comment = EXCLUDED.self_overall_comment, self_submitted_at = now(), updated_at = now()
    RETURNING evaluation_id, user_id, period_id, self_overall_comment, self_submitted_at, supervisor_overall_comment, supervisor_submitted_at
  `, userID, periodID, overallComment).
		Scan(&e.ID, &e.UserID, &e.PeriodID, &e.SelfOverallComment, &e.SelfSubmittedAt, &e.SupervisorOverallComment, &e.SupervisorSubmittedAt)
	return e, err
}

type EvaluationView struct {
	Evaluation *Evaluation `json:"evaluation"`
	Goals      []Goal      `json:"goals"`
}

func (s *Service) GetEvaluation(ctx context.Context, userID, periodID int64) (EvaluationView, error) {
	evaluation, err := s.findEvaluation(ctx, userID, periodID)
	if err != nil {
		return EvaluationView{}, err
	}

	rows, err := s.Store.DB.Query(ctx, `
    SELECT `+GoalColumns+`
    FROM pbc_goals
    WHERE user_id = $1 AND period_id = $2 AND parent_goal_id IS NULL
    ORDER BY created_at
  `, userID, periodID)
	if err != nil {
		return EvaluationView{}, err
	}
	goals, err := CollectGoals(rows)
	if err != nil {
		return EvaluationView{}, err
	}
	return EvaluationView{Evaluation: evaluation, Goals: goals}, nil
}

func (s *Service) findEvaluation(ctx context.Context, userID, periodID int64) (*Evaluation, error) {
	var e Evaluation
	err := s.Store.DB.QueryRow(ctx, `
    SELECT evaluation_id, user_id, period_id, self_overall_comment, self_submitted_at, supervisor_overall_comment, supervisor_submitted_at
    FROM pbc_evaluations
    WHERE user_id = $1 AND period_id = $2
  `, userID, periodID).
		Scan(&e.ID, &e.UserID, &e.PeriodID, &e.SelfOverallComment, &e.SelfSubmittedAt, &e.SupervisorOverallComment, &e.SupervisorSubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Service) approvedTopLevelGoals(ctx context.Context, userID, periodID int64) ([]Goal, error) {
	rows, err := s.Store.DB.Query(ctx, `
    SELECT `+GoalColumns+`
    FROM pbc_goals
    WHERE user_id = $1 AND period_id = $2 AND parent_goal_id IS NULL AND status = $3
  `, userID, periodID, StatusApproved)
	if err != nil {
		return nil, err
	}
	return CollectGoals(rows)
}
