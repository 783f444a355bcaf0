package pbc

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so cohort reads can
// run inside the same transaction as the status writes.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const GoalColumns = `goal_id, user_id, period_id, goal_type, goal_name, goal_description, goal_weight,
  parent_goal_id, supervisor_goal_id,
  COALESCE(measures, ''), COALESCE(unacceptable, ''), COALESCE(acceptable, ''), COALESCE(excellent, ''),
  completion_time, status, self_score, self_comment, supervisor_score, supervisor_comment, created_at, updated_at`

func ScanGoal(row pgx.Row) (Goal, error) {
	var g Goal
	err := row.Scan(&g.ID, &g.UserID, &g.PeriodID, &g.Type, &g.Name, &g.Description, &g.Weight,
		&g.ParentGoalID, &g.SupervisorGoalID,
		&g.Measures, &g.Unacceptable, &g.Acceptable, &g.Excellent,
		&g.CompletionTime, &g.Status, &g.SelfScore, &g.SelfComment, &g.SupervisorScore, &g.SupervisorComment,
		&g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func CollectGoals(rows pgx.Rows) ([]Goal, error) {
	defer rows.Close()
	var goals []Goal
	for rows.Next() {
		g, err := ScanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// LockCohort reads and row-locks every top-level goal of the (user, period)
// cohort so concurrent submit/approve/reject calls serialize.
func LockCohort(ctx context.Context, q Querier, userID, periodID int64) ([]Goal, error) {
	rows, err := q.Query(ctx, `
    SELECT `+GoalColumns+`
    FROM pbc_goals
    WHERE user_id = $1 AND period_id = $2 AND parent_goal_id IS NULL
    ORDER BY goal_id
    FOR UPDATE
  `, userID, periodID)
	if err != nil {
		return nil, err
	}
	return CollectGoals(rows)
}

func UpdateGoalStatus(ctx context.Context, q Querier, ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, "UPDATE pbc_goals SET status = $1, updated_at = now() WHERE goal_id = ANY($2)", status, ids)
	return err
}

// UpdateSubGoalStatus mirrors a parent transition onto every sub-goal.
func UpdateSubGoalStatus(ctx context.Context, q Querier, parentIDs []int64, status string) error {
	if len(parentIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, "UPDATE pbc_goals SET status = $1, updated_at = now() WHERE parent_goal_id = ANY($2)", status, parentIDs)
	return err
}

func InsertApproval(ctx context.Context, q Querier, goalID, reviewerID int64, action, comments string) error {
	var commentArg any
	if comments != "" {
		commentArg = comments
	}
	_, err := q.Exec(ctx, `
    INSERT INTO pbc_approvals (goal_id, reviewer_id, action, comments)
    VALUES ($1,$2,$3,$4)
  `, goalID, reviewerID, action, commentArg)
	return err
}

func GoalIDs(goals []Goal) []int64 {
	ids := make([]int64, 0, len(goals))
	for _, g := range goals {
		ids = append(ids, g.ID)
	}
	return ids
}
