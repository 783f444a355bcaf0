package pbc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *Service) CreatePeriod(ctx context.Context, year, quarter int, startDate, endDate time.Time) (Period, error) {
	if quarter < 1 || quarter > 4 {
		return Period{}, fmt.Errorf("%w: quarter must be between 1 and 4", ErrValidation)
	}
	if !endDate.After(startDate) {
		return Period{}, fmt.Errorf("%w: period end date must be after start date", ErrValidation)
	}

	var exists bool
	if err := s.Store.DB.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pbc_periods WHERE year = $1 AND quarter = $2)", year, quarter).Scan(&exists); err != nil {
		return Period{}, err
	}
	if exists {
		return Period{}, fmt.Errorf("%w: period %s already exists", ErrValidation, PeriodLabel(year, quarter))
	}

	var p Period
	err := s.Store.DB.QueryRow(ctx, `
    INSERT INTO pbc_periods (year, quarter, start_date, end_date, status)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING period_id, year, quarter, start_date, end_date, status
  `, year, quarter, startDate, endDate, PeriodActive).Scan(&p.ID, &p.Year, &p.Quarter, &p.StartDate, &p.EndDate, &p.Status)
	return p, err
}

func (s *Service) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := s.Store.DB.Query(ctx, `
    SELECT period_id, year, quarter, start_date, end_date, status
    FROM pbc_periods
    ORDER BY year DESC, quarter DESC
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.Year, &p.Quarter, &p.StartDate, &p.EndDate, &p.Status); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (s *Service) GetPeriod(ctx context.Context, periodID int64) (Period, error) {
	var p Period
	err := s.Store.DB.QueryRow(ctx, `
    SELECT period_id, year, quarter, start_date, end_date, status
    FROM pbc_periods
    WHERE period_id = $1
  `, periodID).Scan(&p.ID, &p.Year, &p.Quarter, &p.StartDate, &p.EndDate, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, fmt.Errorf("period %d: %w", periodID, ErrNotFound)
	}
	return p, err
}

func (s *Service) ActivePeriod(ctx context.Context) (Period, error) {
	var p Period
	err := s.Store.DB.QueryRow(ctx, `
    SELECT period_id, year, quarter, start_date, end_date, status
    FROM pbc_periods
    WHERE status = $1
    ORDER BY year DESC, quarter DESC
    LIMIT 1
  `, PeriodActive).Scan(&p.ID, &p.Year, &p.Quarter, &p.StartDate, &p.EndDate, &p.Status)
	return p, err
}

// ClosePeriod marks a period closed; new cohorts can no longer default to it.
func (s *Service) ClosePeriod(ctx context.Context, periodID int64) (Period, error) {
	if _, err := s.GetPeriod(ctx, periodID); err != nil {
		return Period{}, err
	}

	var p Period
	err := s.Store.DB.QueryRow(ctx, `
    UPDATE pbc_periods SET status = $1, updated_at = now()
    WHERE period_id = $2
    RETURNING period_id, year, quarter, start_date, end_date, status
  `, PeriodClosed, periodID).Scan(&p.ID, &p.Year, &p.Quarter, &p.StartDate, &p.EndDate, &p.Status)
	return p, err
}
