package availability

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

const DefaultStepMinutes = 30

type ScheduleStore interface {
	StaffMember(ctx context.Context, staffID string) (model.Staff, bool, error)
	StaffSchedule(ctx context.Context, staffID string, weekday time.Weekday) (model.StaffSchedule, bool, error)
}

type AppointmentStore interface {
	// OccupyingAppointments lists the staff member's appointments on date that still hold calendar time.
	OccupyingAppointments(ctx context.Context, staffID string, date civil.Date) ([]model.Appointment, error)
}

// Engine computes bookable start times. It holds no state between calls; now is always passed in.
type Engine struct {
	schedules    ScheduleStore
	appointments AppointmentStore
	step         int
	logger       *slog.Logger
}

func NewEngine(schedules ScheduleStore, appointments AppointmentStore, stepMinutes int, logger *slog.Logger) *Engine {
	if stepMinutes <= 0 {
		stepMinutes = DefaultStepMinutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{schedules: schedules, appointments: appointments, step: stepMinutes, logger: logger}
}

func (e *Engine) StepMinutes() int {
	return e.step
}

// ParseDate parses a "YYYY-MM-DD" civil date.
func ParseDate(raw string) (civil.Date, error) {
	d, err := civil.ParseDate(raw)
	if err != nil || !d.IsValid() {
		return civil.Date{}, &InvalidInputError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// Slots parses date and delegates to SlotsOn.
func (e *Engine) Slots(ctx context.Context, staffID, date string, durationMinutes int, now civil.DateTime) ([]Slot, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return e.SlotsOn(ctx, staffID, d, durationMinutes, now)
}

// SlotsOn returns the ordered candidate grid for staffID on date with each slot tagged available
// or not. Unknown or inactive staff, a closed day, and a date before now's date all yield an
// empty result without error. On today's date candidates not strictly after now are dropped.
func (e *Engine) SlotsOn(ctx context.Context, staffID string, date civil.Date, durationMinutes int, now civil.DateTime) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, &InvalidInputError{Field: "duration", Reason: "must be a positive number of minutes"}
	}
	if staffID == "" {
		return nil, nil
	}
	if date.Before(now.Date) {
		return nil, nil
	}

	staff, found, err := e.schedules.StaffMember(ctx, staffID)
	if err != nil {
		return nil, e.upstream("staff lookup", staffID, err)
	}
	if !found || !staff.Active {
		return nil, nil
	}

	weekday := date.In(time.UTC).Weekday()
	sched, found, err := e.schedules.StaffSchedule(ctx, staffID, weekday)
	if err != nil {
		return nil, e.upstream("schedule lookup", staffID, err)
	}
	if !found {
		return nil, nil
	}
	open, closeAt, ok := sched.Window()
	if !ok {
		return nil, nil
	}

	appts, err := e.appointments.OccupyingAppointments(ctx, staffID, date)
	if err != nil {
		return nil, e.upstream("appointment lookup", staffID, err)
	}
	busy := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if a.StaffID != staffID || a.Date != date || !a.Status.OccupiesCalendar() {
			continue
		}
		busy = append(busy, Interval{Start: a.StartMinute, End: a.EndMinute})
	}

	slots := Grid(open, closeAt, durationMinutes, e.step, busy)
	if date == now.Date {
		slots = dropNotAfter(slots, now.Time.Hour*3600+now.Time.Minute*60+now.Time.Second)
	}
	return slots, nil
}

// IsAvailable reports whether startMinute is an available grid slot right now.
func (e *Engine) IsAvailable(ctx context.Context, staffID string, date civil.Date, startMinute, durationMinutes int, now civil.DateTime) (bool, error) {
	slots, err := e.SlotsOn(ctx, staffID, date, durationMinutes, now)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Start == startMinute {
			return s.Available, nil
		}
	}
	return false, nil
}

func (e *Engine) upstream(op, staffID string, err error) error {
	e.logger.Warn("availability lookup failed", "op", op, "staff_id", staffID, "err", err)
	return &UpstreamDataError{Op: op, Err: err}
}
