package org

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// IdentityLookup resolves a user's external messaging id at provisioning
// time. Lookups are best effort; a missing id is tolerated.
type IdentityLookup interface {
	LookupUserID(ctx context.Context, organization, displayName string) (string, error)
}

type Service struct {
	Store           *Store
	Identity        IdentityLookup
	DefaultPassword string
}

func NewService(store *Store, identity IdentityLookup, defaultPassword string) *Service {
	return &Service{Store: store, Identity: identity, DefaultPassword: defaultPassword}
}

func (s *Service) GetUser(ctx context.Context, userID int64) (User, error) {
	row := s.Store.DB.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE user_id = $1", userID)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return user, err
}

// DepartmentSubtree returns the department and all its descendants,
// each id exactly once.
func (s *Service) DepartmentSubtree(ctx context.Context, rootID int64) ([]int64, error) {
	children, err := s.Store.departmentChildren(ctx)
	if err != nil {
		return nil, err
	}
	return closureFrom(rootID, children), nil
}

// SubordinateClosure returns the user and every transitive subordinate.
func (s *Service) SubordinateClosure(ctx context.Context, rootUserID int64) ([]int64, error) {
	children, err := s.Store.supervisorChildren(ctx)
	if err != nil {
		return nil, err
	}
	return closureFrom(rootUserID, children), nil
}

// VisibleUserIDs computes the set of users a viewer may see goals for:
// employees see themselves, managers their own department (non-recursive),
// assistants and general managers their department subtree.
func (s *Service) VisibleUserIDs(ctx context.Context, viewer User) ([]int64, error) {
	switch viewer.Role {
	case RoleEmployee:
		return []int64{viewer.ID}, nil
	case RoleManager:
		if viewer.DepartmentID == nil {
			return nil, nil
		}
		return s.userIDsInDepartments(ctx, []int64{*viewer.DepartmentID})
	case RoleAssistant, RoleGM:
		if viewer.DepartmentID == nil {
			return nil, nil
		}
		departmentIDs, err := s.DepartmentSubtree(ctx, *viewer.DepartmentID)
		if err != nil {
			return nil, err
		}
		return s.userIDsInDepartments(ctx, departmentIDs)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, viewer.Role)
	}
}

func (s *Service) userIDsInDepartments(ctx context.Context, departmentIDs []int64) ([]int64, error) {
	rows, err := s.Store.DB.Query(ctx, "SELECT user_id FROM users WHERE department_id = ANY($1)", departmentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) ListUsers(ctx context.Context, viewer User, departmentID *int64, role string) ([]User, error) {
	visible, err := s.VisibleUserIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		return nil, nil
	}

	query := "SELECT " + userColumns + " FROM users WHERE user_id = ANY($1)"
	args := []any{visible}
	if departmentID != nil {
		args = append(args, *departmentID)
		query += fmt.Sprintf(" AND department_id = $%d", len(args))
	}
	if role != "" {
		args = append(args, role)
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	query += " ORDER BY user_id"

	rows, err := s.Store.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Service) Subordinates(ctx context.Context, supervisorID int64) ([]User, error) {
	rows, err := s.Store.DB.Query(ctx, "SELECT "+userColumns+" FROM users WHERE supervisor_id = $1 ORDER BY user_id", supervisorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

type CreateUserInput struct {
	Username     string
	RealName     string
	JobTitle     string
	Role         string
	DepartmentID *int64
	SupervisorID *int64
	Organization string
}

func (s *Service) CreateUser(ctx context.Context, actor User, input CreateUserInput) (User, error) {
	if actor.Role == RoleEmployee {
		return User{}, fmt.Errorf("%w: employees may not create users", ErrForbidden)
	}
	if strings.TrimSpace(input.Username) == "" || strings.TrimSpace(input.RealName) == "" {
		return User{}, fmt.Errorf("%w: username and real name are required", ErrValidation)
	}
	if !ValidRole(input.Role) {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, input.Role)
	}

	var exists bool
	if err := s.Store.DB.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", input.Username).Scan(&exists); err != nil {
		return User{}, err
	}
	if exists {
		return User{}, fmt.Errorf("%w: username %q already taken", ErrValidation, input.Username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	dingtalkID := ""
	if s.Identity != nil && input.Organization != "" {
		id, err := s.Identity.LookupUserID(ctx, input.Organization, input.RealName)
		if err != nil {
			slog.Warn("dingtalk user lookup failed", "user", input.RealName, "err", err)
		} else {
			dingtalkID = id
		}
	}

	row := s.Store.DB.QueryRow(ctx, `
    INSERT INTO users (username, password, real_name, job_title, role, department_id, supervisor_id, organization, dingtalk_userid)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING `+userColumns+`
  `, input.Username, string(hash), input.RealName, input.JobTitle, input.Role, input.DepartmentID, input.SupervisorID, input.Organization, dingtalkID)
	return scanUser(row)
}

type UpdateUserInput struct {
	RealName     *string
	JobTitle     *string
	Role         *string
	DepartmentID *int64
	SupervisorID *int64
	Organization *string
}

func (s *Service) UpdateUser(ctx context.Context, actor User, userID int64, input UpdateUserInput) (User, error) {
	if actor.Role == RoleEmployee {
		return User{}, fmt.Errorf("%w: employees may not edit users", ErrForbidden)
	}
	if input.Role != nil && !ValidRole(*input.Role) {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, *input.Role)
	}
	if input.SupervisorID != nil && *input.SupervisorID == userID {
		return User{}, fmt.Errorf("%w: a user cannot supervise themselves", ErrValidation)
	}

	current, err := s.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}

	if input.RealName != nil {
		current.RealName = *input.RealName
	}
	if input.JobTitle != nil {
		current.JobTitle = *input.JobTitle
	}
	if input.Role != nil {
		current.Role = *input.Role
	}
	if input.DepartmentID != nil {
		current.DepartmentID = input.DepartmentID
	}
	if input.SupervisorID != nil {
		current.SupervisorID = input.SupervisorID
	}
	if input.Organization != nil {
		current.Organization = *input.Organization
	}

	row := s.Store.DB.QueryRow(ctx, `
    UPDATE users
    SET real_name = $1, job_title = $2, role = $3, department_id = $4, supervisor_id = $5, organization = $6, updated_at = now()
    WHERE user_id = $7
    RETURNING `+userColumns+`
  `, current.RealName, current.JobTitle, current.Role, current.DepartmentID, current.SupervisorID, current.Organization, userID)
	return scanUser(row)
}

func (s *Service) GetDepartment(ctx context.Context, departmentID int64) (Department, error) {
	var d Department
	err := s.Store.DB.QueryRow(ctx, "SELECT department_id, department_name, parent_id, created_at FROM departments WHERE department_id = $1", departmentID).
		Scan(&d.ID, &d.Name, &d.ParentID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Department{}, fmt.Errorf("department %d: %w", departmentID, ErrNotFound)
	}
	return d, err
}

// ListDepartments scopes the result by role: the general manager sees every
// department, everyone else their own subtree.
func (s *Service) ListDepartments(ctx context.Context, viewer User) ([]Department, error) {
	if viewer.Role != RoleGM {
		if viewer.DepartmentID == nil {
			return nil, nil
		}
		subtree, err := s.DepartmentSubtree(ctx, *viewer.DepartmentID)
		if err != nil {
			return nil, err
		}
		return s.departmentsByID(ctx, subtree)
	}

	rows, err := s.Store.DB.Query(ctx, "SELECT department_id, department_name, parent_id, created_at FROM departments ORDER BY department_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDepartments(rows)
}

func (s *Service) departmentsByID(ctx context.Context, ids []int64) ([]Department, error) {
	rows, err := s.Store.DB.Query(ctx, "SELECT department_id, department_name, parent_id, created_at FROM departments WHERE department_id = ANY($1) ORDER BY department_id", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDepartments(rows)
}

func collectDepartments(rows pgx.Rows) ([]Department, error) {
	var departments []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.ParentID, &d.CreatedAt); err != nil {
			return nil, err
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

func (s *Service) DepartmentTree(ctx context.Context) ([]*DepartmentNode, error) {
	rows, err := s.Store.DB.Query(ctx, "SELECT department_id, department_name, parent_id, created_at FROM departments ORDER BY department_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	departments, err := collectDepartments(rows)
	if err != nil {
		return nil, err
	}
	return buildDepartmentTree(departments, nil), nil
}

func (s *Service) CreateDepartment(ctx context.Context, name string, parentID *int64) (Department, error) {
	if strings.TrimSpace(name) == "" {
		return Department{}, fmt.Errorf("%w: department name is required", ErrValidation)
	}
	if parentID != nil {
		if _, err := s.GetDepartment(ctx, *parentID); err != nil {
			return Department{}, err
		}
	}

	var d Department
	err := s.Store.DB.QueryRow(ctx, `
    INSERT INTO departments (department_name, parent_id)
    VALUES ($1, $2)
    RETURNING department_id, department_name, parent_id, created_at
  `, name, parentID).Scan(&d.ID, &d.Name, &d.ParentID, &d.CreatedAt)
	return d, err
}

func (s *Service) UpdateDepartment(ctx context.Context, departmentID int64, name string, parentID *int64) (Department, error) {
	if _, err := s.GetDepartment(ctx, departmentID); err != nil {
		return Department{}, err
	}
	if parentID != nil && *parentID == departmentID {
		return Department{}, fmt.Errorf("%w: a department cannot be its own parent", ErrValidation)
	}

	var d Department
	err := s.Store.DB.QueryRow(ctx, `
    UPDATE departments
    SET department_name = $1, parent_id = $2, updated_at = now()
    WHERE department_id = $3
    RETURNING department_id, department_name, parent_id, created_at
  `, name, parentID, departmentID).Scan(&d.ID, &d.Name, &d.ParentID, &d.CreatedAt)
	return d, err
}

func (s *Service) DeleteDepartment(ctx context.Context, departmentID int64) error {
	if _, err := s.GetDepartment(ctx, departmentID); err != nil {
		return err
	}

	var inUse bool
	if err := s.Store.DB.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE department_id = $1) OR EXISTS(SELECT 1 FROM departments WHERE parent_id = $1)", departmentID).Scan(&inUse); err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("%w: department still has members or sub-departments", ErrValidation)
	}

	_, err := s.Store.DB.Exec(ctx, "DELETE FROM departments WHERE department_id = $1", departmentID)
	return err
}
