package org

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const userColumns = `user_id, username, real_name, COALESCE(job_title, ''), role, department_id, supervisor_id, COALESCE(organization, ''), COALESCE(dingtalk_userid, ''), created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.RealName, &u.JobTitle, &u.Role, &u.DepartmentID, &u.SupervisorID, &u.Organization, &u.DingtalkUserID, &u.CreatedAt)
	return u, err
}

// departmentChildren loads the full parent->children adjacency of the
// department table in one query.
func (s *Store) departmentChildren(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.DB.Query(ctx, "SELECT department_id, parent_id FROM departments WHERE parent_id IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	children := map[int64][]int64{}
	for rows.Next() {
		var id, parentID int64
		if err := rows.Scan(&id, &parentID); err != nil {
			return nil, err
		}
		children[parentID] = append(children[parentID], id)
	}
	return children, rows.Err()
}

// supervisorChildren loads the supervisor->subordinates adjacency.
func (s *Store) supervisorChildren(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.DB.Query(ctx, "SELECT user_id, supervisor_id FROM users WHERE supervisor_id IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	children := map[int64][]int64{}
	for rows.Next() {
		var id, supervisorID int64
		if err := rows.Scan(&id, &supervisorID); err != nil {
			return nil, err
		}
		children[supervisorID] = append(children[supervisorID], id)
	}
	return children, rows.Err()
}
