package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pbc/internal/domain/org"
)

var (
	ErrUnauthorized = errors.New("invalid username or password")
	ErrValidation   = errors.New("validation failed")
)

// UserContext is the authenticated identity carried on request contexts.
type UserContext struct {
	UserID   int64
	Username string
	Role     string
}

type Service struct {
	DB       *pgxpool.Pool
	Secret   string
	TokenTTL time.Duration
}

func NewService(db *pgxpool.Pool, secret string, ttl time.Duration) *Service {
	return &Service{DB: db, Secret: secret, TokenTTL: ttl}
}

// Login verifies the credentials, records a login log row and returns a
// signed token together with the user profile. Unknown usernames and bad
// passwords report the same error.
func (s *Service) Login(ctx context.Context, username, password, ipAddress string) (string, org.User, error) {
	var (
		u    org.User
		hash string
	)
	err := s.DB.QueryRow(ctx, `
    SELECT user_id, username, password, real_name, COALESCE(job_title, ''), role,
           department_id, supervisor_id, COALESCE(organization, ''), COALESCE(dingtalk_userid, ''), created_at
    FROM users WHERE username = $1
  `, username).Scan(&u.ID, &u.Username, &hash, &u.RealName, &u.JobTitle, &u.Role,
		&u.DepartmentID, &u.SupervisorID, &u.Organization, &u.DingtalkUserID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", org.User{}, ErrUnauthorized
	}
	if err != nil {
		return "", org.User{}, err
	}

	if err := CheckPassword(hash, password); err != nil {
		return "", org.User{}, ErrUnauthorized
	}

	if _, err := s.DB.Exec(ctx,
		`INSERT INTO login_logs (user_id, ip_address) VALUES ($1, $2)`, u.ID, ipAddress); err != nil {
		slog.Warn("login log insert failed", "user_id", u.ID, "err", err)
	}

	token, err := GenerateToken(s.Secret, Claims{UserID: u.ID, Username: u.Username, Role: u.Role}, s.TokenTTL)
	if err != nil {
		return "", org.User{}, err
	}
	return token, u, nil
}

// ChangePassword swaps the caller's own password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if len(newPassword) < 6 {
		return fmt.Errorf("%w: new password must be at least 6 characters", ErrValidation)
	}

	var hash string
	err := s.DB.QueryRow(ctx, `SELECT password FROM users WHERE user_id = $1`, userID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: user %d", ErrValidation, userID)
	}
	if err != nil {
		return err
	}
	if err := CheckPassword(hash, oldPassword); err != nil {
		return fmt.Errorf("%w: old password does not match", ErrValidation)
	}

	newHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx,
		`UPDATE users SET password = $1, updated_at = now() WHERE user_id = $2`, newHash, userID)
	return err
}
