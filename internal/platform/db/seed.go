package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pbc/internal/domain/auth"
	"pbc/internal/domain/org"
	"pbc/internal/domain/pbc"
	"pbc/internal/platform/config"
)

// Seed provisions the minimum working state: a root department, a general
// manager account and an active period for the current quarter. Every step
// is idempotent.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	departmentID, err := ensureRootDepartment(ctx, pool, cfg.SeedRootDepartment)
	if err != nil {
		return err
	}

	if err := ensureAdminUser(ctx, pool, departmentID, cfg.SeedAdminUsername, cfg.SeedAdminPassword, cfg.DefaultPassword); err != nil {
		return err
	}

	return ensureActivePeriod(ctx, pool)
}

func ensureRootDepartment(ctx context.Context, pool *pgxpool.Pool, name string) (int64, error) {
	var id int64
	err := pool.QueryRow(ctx,
		"SELECT department_id FROM departments WHERE department_name = $1 AND parent_id IS NULL", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	err = pool.QueryRow(ctx,
		"INSERT INTO departments (department_name) VALUES ($1) RETURNING department_id", name).Scan(&id)
	return id, err
}

func ensureAdminUser(ctx context.Context, pool *pgxpool.Pool, departmentID int64, username, password, fallbackPassword string) error {
	var exists bool
	if err := pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}

	if password == "" {
		password = fallbackPassword
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
    INSERT INTO users (username, password, real_name, job_title, role, department_id)
    VALUES ($1, $2, $3, $4, $5, $6)
  `, username, hash, "Administrator", "General Manager", org.RoleGM, departmentID)
	return err
}

func ensureActivePeriod(ctx context.Context, pool *pgxpool.Pool) error {
	var exists bool
	if err := pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pbc_periods WHERE status = $1)", pbc.PeriodActive).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}

	now := time.Now()
	quarter := int(now.Month()-1)/3 + 1
	start := time.Date(now.Year(), time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, -1)

	_, err := pool.Exec(ctx, `
    INSERT INTO pbc_periods (year, quarter, start_date, end_date, status)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (year, quarter) DO NOTHING
  `, now.Year(), quarter, start, end, pbc.PeriodActive)
	return err
}
