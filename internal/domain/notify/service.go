package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

const appColumns = `app_id, organization, app_name, agent_id, corp_id, app_key, app_secret, is_active, created_at, updated_at`

// Service manages per-organization DingTalk app credentials.
type Service struct {
	DB *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{DB: db}
}

func scanApp(row pgx.Row) (App, error) {
	var a App
	err := row.Scan(&a.ID, &a.Organization, &a.AppName, &a.AgentID, &a.CorpID,
		&a.AppKey, &a.AppSecret, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Service) ListApps(ctx context.Context) ([]App, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+appColumns+` FROM dingtalk_apps ORDER BY organization`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func (s *Service) GetApp(ctx context.Context, id int64) (App, error) {
	a, err := scanApp(s.DB.QueryRow(ctx,
		`SELECT `+appColumns+` FROM dingtalk_apps WHERE app_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return App{}, fmt.Errorf("%w: dingtalk app %d", ErrNotFound, id)
	}
	return a, err
}

// AppByOrganization returns the credentials row for an organization.
// Inactive rows are returned as-is; callers decide whether to send.
func (s *Service) AppByOrganization(ctx context.Context, organization string) (App, error) {
	a, err := scanApp(s.DB.QueryRow(ctx,
		`SELECT `+appColumns+` FROM dingtalk_apps WHERE organization = $1`, organization))
	if errors.Is(err, pgx.ErrNoRows) {
		return App{}, fmt.Errorf("%w: no dingtalk app for organization %q", ErrNotFound, organization)
	}
	return a, err
}

func (s *Service) CreateApp(ctx context.Context, input AppInput) (App, error) {
	if err := validateAppInput(input); err != nil {
		return App{}, err
	}
	var exists bool
	if err := s.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM dingtalk_apps WHERE organization = $1)`, input.Organization).Scan(&exists); err != nil {
		return App{}, err
	}
	if exists {
		return App{}, fmt.Errorf("%w: organization %q already configured", ErrValidation, input.Organization)
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	return scanApp(s.DB.QueryRow(ctx, `
    INSERT INTO dingtalk_apps (organization, app_name, agent_id, corp_id, app_key, app_secret, is_active)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    RETURNING `+appColumns,
		input.Organization, input.AppName, input.AgentID, input.CorpID,
		input.AppKey, input.AppSecret, active))
}

func (s *Service) UpdateApp(ctx context.Context, id int64, input AppInput) (App, error) {
	current, err := s.GetApp(ctx, id)
	if err != nil {
		return App{}, err
	}
	if err := validateAppInput(input); err != nil {
		return App{}, err
	}
	active := current.IsActive
	if input.IsActive != nil {
		active = *input.IsActive
	}
	return scanApp(s.DB.QueryRow(ctx, `
    UPDATE dingtalk_apps
    SET organization = $1, app_name = $2, agent_id = $3, corp_id = $4,
        app_key = $5, app_secret = $6, is_active = $7, updated_at = now()
    WHERE app_id = $8
    RETURNING `+appColumns,
		input.Organization, input.AppName, input.AgentID, input.CorpID,
		input.AppKey, input.AppSecret, active, id))
}

func (s *Service) DeleteApp(ctx context.Context, id int64) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM dingtalk_apps WHERE app_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: dingtalk app %d", ErrNotFound, id)
	}
	return nil
}

// ToggleActive flips the enabled flag and returns the updated row.
func (s *Service) ToggleActive(ctx context.Context, id int64) (App, error) {
	a, err := scanApp(s.DB.QueryRow(ctx, `
    UPDATE dingtalk_apps SET is_active = NOT is_active, updated_at = now()
    WHERE app_id = $1
    RETURNING `+appColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return App{}, fmt.Errorf("%w: dingtalk app %d", ErrNotFound, id)
	}
	return a, err
}

func validateAppInput(input AppInput) error {
	for _, f := range []struct{ name, value string }{
		{"organization", input.Organization},
		{"app_name", input.AppName},
		{"agent_id", input.AgentID},
		{"corp_id", input.CorpID},
		{"app_key", input.AppKey},
		{"app_secret", input.AppSecret},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.name)
		}
	}
	return nil
}
