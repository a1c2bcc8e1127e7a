package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

const (
	defaultOpenMinute  = 9 * 60
	defaultCloseMinute = 18 * 60
)

func (r *Repository) StaffMember(ctx context.Context, staffID string) (model.Staff, bool, error) {
	var s model.Staff
	err := r.db.QueryRow(ctx, `
		SELECT id::text, name, is_active
		FROM staff_members
		WHERE id::text = $1
	`, staffID).Scan(&s.ID, &s.Name, &s.Active)
	if IsNotFound(err) {
		return model.Staff{}, false, nil
	}
	if err != nil {
		return model.Staff{}, false, err
	}
	return s, true, nil
}

// CreateStaff adds a technician together with a Monday to Saturday 09:00-18:00 week.
func (r *Repository) CreateStaff(ctx context.Context, name string, active bool) (model.Staff, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.Staff{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s := model.Staff{Name: name, Active: active}
	if err := tx.QueryRow(ctx, `
		INSERT INTO staff_members (name, is_active)
		VALUES ($1, $2)
		RETURNING id::text
	`, name, active).Scan(&s.ID); err != nil {
		return model.Staff{}, err
	}
	for wd := time.Monday; wd <= time.Saturday; wd++ {
		if _, err := tx.Exec(ctx, `
			INSERT INTO staff_schedules (staff_id, day_of_week, is_available, start_minute, end_minute)
			VALUES ($1, $2, true, $3, $4)
		`, s.ID, int(wd), defaultOpenMinute, defaultCloseMinute); err != nil {
			return model.Staff{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Staff{}, err
	}
	return s, nil
}

// UpdateStaff renames or (de)activates a technician. Unknown ids return pgx.ErrNoRows.
func (r *Repository) UpdateStaff(ctx context.Context, s model.Staff) error {
	if uuid.Validate(s.ID) != nil {
		return pgx.ErrNoRows
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE staff_members
		SET name = $2, is_active = $3
		WHERE id = $1
	`, s.ID, s.Name, s.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListStaff(ctx context.Context, activeOnly bool) ([]model.Staff, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id::text, name, is_active
		FROM staff_members
		WHERE is_active OR NOT $1
		ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var s model.Staff
		if err := rows.Scan(&s.ID, &s.Name, &s.Active); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) StaffSchedule(ctx context.Context, staffID string, weekday time.Weekday) (model.StaffSchedule, bool, error) {
	s := model.StaffSchedule{StaffID: staffID, Weekday: weekday}
	err := r.db.QueryRow(ctx, `
		SELECT is_available, start_minute, end_minute
		FROM staff_schedules
		WHERE staff_id = $1 AND day_of_week = $2
	`, staffID, int(weekday)).Scan(&s.IsAvailable, &s.Open, &s.Close)
	if IsNotFound(err) {
		return model.StaffSchedule{}, false, nil
	}
	if err != nil {
		return model.StaffSchedule{}, false, err
	}
	return s, true, nil
}

// ListSchedules returns every weekday entry for the staff member ordered by weekday.
func (r *Repository) ListSchedules(ctx context.Context, staffID string) ([]model.StaffSchedule, error) {
	if uuid.Validate(staffID) != nil {
		return nil, pgx.ErrNoRows
	}
	rows, err := r.db.Query(ctx, `
		SELECT day_of_week, is_available, start_minute, end_minute
		FROM staff_schedules
		WHERE staff_id = $1
		ORDER BY day_of_week
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StaffSchedule
	for rows.Next() {
		s := model.StaffSchedule{StaffID: staffID}
		var wd int
		if err := rows.Scan(&wd, &s.IsAvailable, &s.Open, &s.Close); err != nil {
			return nil, err
		}
		s.Weekday = time.Weekday(wd)
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertSchedule keeps at most one row per (staff, weekday). Unknown staff return pgx.ErrNoRows.
func (r *Repository) UpsertSchedule(ctx context.Context, s model.StaffSchedule) error {
	if uuid.Validate(s.StaffID) != nil {
		return pgx.ErrNoRows
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO staff_schedules (staff_id, day_of_week, is_available, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (staff_id, day_of_week) DO UPDATE
		SET is_available = EXCLUDED.is_available,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			updated_at = now()
	`, s.StaffID, int(s.Weekday), s.IsAvailable, s.Open, s.Close)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return pgx.ErrNoRows
	}
	return err
}
