package storage

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

const appointmentColumns = `
	id::text, COALESCE(staff_id::text, ''), COALESCE(customer_id::text, ''),
	customer_name, customer_email, customer_phone, customer_notes,
	appointment_date, start_minute, end_minute, status,
	total_duration_minutes, total_price_cents, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

// AppointmentFilter narrows the calendar listing. Zero values mean "any".
type AppointmentFilter struct {
	StaffID string
	Status  model.Status
	From    civil.Date
	To      civil.Date
	Limit   int
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// OccupyingAppointments lists appointments that still hold calendar time for the staff member on date.
func (r *Repository) OccupyingAppointments(ctx context.Context, staffID string, date civil.Date) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM booking_appointments
		WHERE staff_id = $1
			AND appointment_date = $2
			AND status NOT IN ('cancelled', 'no_show')
		ORDER BY start_minute ASC
	`, staffID, dateArg(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// LockStaffDay serializes writers for one staff member and date until tx ends.
func (r *Repository) LockStaffDay(ctx context.Context, tx pgx.Tx, staffID string, date civil.Date) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, staffID+"|"+date.String())
	return err
}

// HasOverlap reports whether [start, end) intersects an occupying appointment of the staff member.
func (r *Repository) HasOverlap(ctx context.Context, tx pgx.Tx, staffID string, date civil.Date, start, end int) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM booking_appointments
			WHERE staff_id = $1
				AND appointment_date = $2
				AND status NOT IN ('cancelled', 'no_show')
				AND start_minute < $4
				AND end_minute > $3
		)
	`, staffID, dateArg(date), start, end).Scan(&exists)
	return exists, err
}

// InsertAppointment writes the appointment and its service lines. A fresh id is assigned when empty.
func (r *Repository) InsertAppointment(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO booking_appointments
			(id, staff_id, customer_id, customer_name, customer_email, customer_phone, customer_notes,
			 appointment_date, start_minute, end_minute, status, total_duration_minutes, total_price_cents)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`, appt.ID, appt.StaffID, appt.CustomerID, appt.CustomerName, appt.CustomerEmail, appt.CustomerPhone, appt.CustomerNotes,
		dateArg(appt.Date), appt.StartMinute, appt.EndMinute, string(appt.Status), appt.TotalDurationMinutes, appt.TotalPriceCents,
	).Scan(&appt.CreatedAt)
	if err != nil {
		return err
	}

	for _, line := range appt.Services {
		if _, err := tx.Exec(ctx, `
			INSERT INTO booking_appointment_services
				(appointment_id, service_id, service_name, duration_minutes, price_cents, sequence_order)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, appt.ID, line.ServiceID, line.ServiceName, line.DurationMinutes, line.PriceCents, line.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if uuid.Validate(id) != nil {
		return model.Appointment{}, pgx.ErrNoRows
	}
	appt, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM booking_appointments WHERE id = $1`, id))
	if err != nil {
		return model.Appointment{}, err
	}
	one := []model.Appointment{appt}
	if err := r.attachServiceLines(ctx, one); err != nil {
		return model.Appointment{}, err
	}
	return one[0], nil
}

func (r *Repository) GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	if uuid.Validate(id) != nil {
		return model.Appointment{}, pgx.ErrNoRows
	}
	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM booking_appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status model.Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE booking_appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) CancelAppointment(ctx context.Context, tx pgx.Tx, id, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE booking_appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = NULLIF($2, ''),
			updated_at = now()
		WHERE id = $1
		RETURNING cancelled_at
	`, id, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ListAppointments backs the admin calendar, ordered by date then start.
func (r *Repository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 200
	}
	var from, to *time.Time
	if f.From.IsValid() {
		v := dateArg(f.From)
		from = &v
	}
	if f.To.IsValid() {
		v := dateArg(f.To)
		to = &v
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM booking_appointments
		WHERE ($1 = '' OR staff_id::text = $1)
			AND ($2 = '' OR status = $2)
			AND ($3::date IS NULL OR appointment_date >= $3)
			AND ($4::date IS NULL OR appointment_date <= $4)
		ORDER BY appointment_date ASC, start_minute ASC
		LIMIT $5
	`, f.StaffID, string(f.Status), from, to, f.Limit)
	if err != nil {
		return nil, err
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return appts, nil
	}
	return appts, r.attachServiceLines(ctx, appts)
}

// AppointmentsByPhone finds a customer's bookings by phone, newest first. Formatting in the
// stored and requested numbers is ignored.
func (r *Repository) AppointmentsByPhone(ctx context.Context, phone string, limit int) ([]model.Appointment, error) {
	digits := model.PhoneDigits(phone)
	if digits == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM booking_appointments
		WHERE regexp_replace(customer_phone, '[^0-9]', '', 'g') = $1
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $2
	`, digits, limit)
	if err != nil {
		return nil, err
	}
	appts, err := collectAppointments(rows)
	if err != nil || len(appts) == 0 {
		return appts, err
	}
	return appts, r.attachServiceLines(ctx, appts)
}

func (r *Repository) attachServiceLines(ctx context.Context, appts []model.Appointment) error {
	ids := make([]string, 0, len(appts))
	index := make(map[string]int, len(appts))
	for i, a := range appts {
		ids = append(ids, a.ID)
		index[a.ID] = i
	}
	rows, err := r.db.Query(ctx, `
		SELECT appointment_id::text, service_id::text, service_name, duration_minutes, price_cents, sequence_order
		FROM booking_appointment_services
		WHERE appointment_id = ANY($1::uuid[])
		ORDER BY appointment_id, sequence_order
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var apptID string
		var line model.ServiceLine
		if err := rows.Scan(&apptID, &line.ServiceID, &line.ServiceName, &line.DurationMinutes, &line.PriceCents, &line.Sequence); err != nil {
			return err
		}
		if i, ok := index[apptID]; ok {
			appts[i].Services = append(appts[i].Services, line)
		}
	}
	return rows.Err()
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanAppointment(row scanner) (model.Appointment, error) {
	var appt model.Appointment
	var date time.Time
	var status string
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.StaffID,
		&appt.CustomerID,
		&appt.CustomerName,
		&appt.CustomerEmail,
		&appt.CustomerPhone,
		&appt.CustomerNotes,
		&date,
		&appt.StartMinute,
		&appt.EndMinute,
		&status,
		&appt.TotalDurationMinutes,
		&appt.TotalPriceCents,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Date = civil.DateOf(date)
	appt.Status = model.Status(status)
	appt.CancelledAt = cancelledAt
	return appt, nil
}
