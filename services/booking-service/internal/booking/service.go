package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	otelx "github.com/md-rashed-zaman/shopbook/libs/otel"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/reminders"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	ServiceSettings(ctx context.Context, serviceIDs []string) (map[string]model.ServiceSetting, error)
	LockStaffDay(ctx context.Context, tx pgx.Tx, staffID string, date civil.Date) error
	HasOverlap(ctx context.Context, tx pgx.Tx, staffID string, date civil.Date, start, end int) (bool, error)
	InsertAppointment(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status model.Status) error
	CancelAppointment(ctx context.Context, tx pgx.Tx, id, reason string) (time.Time, error)
}

type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type ReminderStore interface {
	Insert(ctx context.Context, tx pgx.Tx, job reminders.Job) error
	CancelForAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) (int64, error)
}

type SlotChecker interface {
	IsAvailable(ctx context.Context, staffID string, date civil.Date, startMinute, durationMinutes int, now civil.DateTime) (bool, error)
}

type Observer interface {
	ObserveBooking(result string)
	ObserveStatusChange(to string)
}

// Actor distinguishes customer self-service from staff actions.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorStaff    Actor = "staff"
)

type Service struct {
	store     Store
	events    EventWriter
	reminders ReminderStore
	slots     SlotChecker
	policy    policy.Provider
	clock     availability.Clock
	loc       *time.Location
	metrics   Observer
	logger    *slog.Logger
}

type Deps struct {
	Store     Store
	Events    EventWriter
	Reminders ReminderStore
	Slots     SlotChecker
	Policy    policy.Provider
	Clock     availability.Clock
	Location  *time.Location
	Metrics   Observer
	Logger    *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Clock == nil {
		d.Clock = availability.ShopClock{Location: d.Location}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		store:     d.Store,
		events:    d.Events,
		reminders: d.Reminders,
		slots:     d.Slots,
		policy:    d.Policy,
		clock:     d.Clock,
		loc:       d.Location,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

type BookRequest struct {
	StaffID       string
	ServiceIDs    []string
	Date          civil.Date
	StartMinute   int
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Notes         string
}

func (r BookRequest) validate() error {
	switch {
	case strings.TrimSpace(r.StaffID) == "":
		return &ValidationError{Reason: "staff_id is required"}
	case len(r.ServiceIDs) == 0:
		return &ValidationError{Reason: "at least one service is required"}
	case strings.TrimSpace(r.CustomerName) == "":
		return &ValidationError{Reason: "customer_name is required"}
	case r.CustomerPhone == "" && r.CustomerEmail == "":
		return &ValidationError{Reason: "customer_phone or customer_email is required"}
	case r.CustomerPhone != "" && model.NormalizePhone(r.CustomerPhone) == "":
		return &ValidationError{Reason: "customer_phone has no digits"}
	case !r.Date.IsValid():
		return &ValidationError{Reason: "date is invalid"}
	case r.StartMinute < 0 || r.StartMinute >= 24*60:
		return &ValidationError{Reason: "start time is invalid"}
	}
	seen := make(map[string]struct{}, len(r.ServiceIDs))
	for _, id := range r.ServiceIDs {
		if _, dup := seen[id]; dup {
			return &ValidationError{Reason: "service " + id + " listed twice"}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Book creates a pending appointment for an available slot. The overlap check and insert run
// under a per staff-day lock so two concurrent requests cannot both win the same interval.
func (s *Service) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	ctx, span := otelx.Tracer("booking").Start(ctx, "booking.book", trace.WithAttributes(
		attribute.String("staff_id", req.StaffID),
		attribute.String("date", req.Date.String()),
	))
	defer span.End()

	if err := req.validate(); err != nil {
		s.observeBooking("invalid")
		return model.Appointment{}, err
	}

	settings, err := s.store.ServiceSettings(ctx, req.ServiceIDs)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load service settings: %w", err)
	}
	appt := model.Appointment{
		StaffID:       req.StaffID,
		CustomerID:    req.CustomerID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: model.NormalizePhone(req.CustomerPhone),
		CustomerNotes: req.Notes,
		Date:          req.Date,
		StartMinute:   req.StartMinute,
		Status:        model.StatusPending,
	}
	for i, id := range req.ServiceIDs {
		st, ok := settings[id]
		if !ok || !st.Bookable {
			s.observeBooking("not_bookable")
			return model.Appointment{}, fmt.Errorf("%w: %s", ErrNotBookable, id)
		}
		appt.TotalDurationMinutes += st.DurationMinutes
		appt.TotalPriceCents += st.PriceCents
		appt.Services = append(appt.Services, model.ServiceLine{
			ServiceID:       id,
			ServiceName:     st.Name,
			DurationMinutes: st.DurationMinutes,
			PriceCents:      st.PriceCents,
			Sequence:        i,
		})
	}
	appt.EndMinute = appt.StartMinute + appt.TotalDurationMinutes

	now := s.clock.Now()
	ok, err := s.slots.IsAvailable(ctx, appt.StaffID, appt.Date, appt.StartMinute, appt.TotalDurationMinutes, now)
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		s.observeBooking("unavailable")
		return model.Appointment{}, ErrSlotUnavailable
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.store.LockStaffDay(ctx, tx, appt.StaffID, appt.Date); err != nil {
		return model.Appointment{}, fmt.Errorf("lock staff day: %w", err)
	}
	overlap, err := s.store.HasOverlap(ctx, tx, appt.StaffID, appt.Date, appt.StartMinute, appt.EndMinute)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("overlap check: %w", err)
	}
	if overlap {
		return model.Appointment{}, s.conflict(appt)
	}
	if err := s.store.InsertAppointment(ctx, tx, &appt); err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, s.conflict(appt)
		}
		return model.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}

	if err := s.writeEvent(ctx, tx, appt.ID, outbox.EventAppointmentRequested, appointmentPayload(appt, nil)); err != nil {
		return model.Appointment{}, err
	}
	if err := s.scheduleReminders(ctx, tx, appt, now); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, s.conflict(appt)
		}
		return model.Appointment{}, fmt.Errorf("commit booking: %w", err)
	}
	s.observeBooking("created")
	s.logger.Info("appointment requested",
		"appointment_id", appt.ID,
		"staff_id", appt.StaffID,
		"date", appt.Date.String(),
		"start", model.FormatMinute(appt.StartMinute),
		"duration_minutes", appt.TotalDurationMinutes,
	)
	return appt, nil
}

// UpdateStatus applies a staff-driven transition. Moving to cancelled goes through Cancel.
func (s *Service) UpdateStatus(ctx context.Context, id string, to model.Status) (model.Appointment, error) {
	if to == model.StatusCancelled {
		return s.Cancel(ctx, CancelRequest{AppointmentID: id, Actor: ActorStaff})
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.load(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == to {
		return appt, nil
	}
	if !model.CanTransition(appt.Status, to) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}
	if to == model.StatusNoShow && !s.clock.Now().After(appt.Start()) {
		return model.Appointment{}, fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
	}

	from := appt.Status
	if err := s.store.UpdateStatus(ctx, tx, id, to); err != nil {
		return model.Appointment{}, fmt.Errorf("update status: %w", err)
	}
	appt.Status = to

	if err := s.writeEvent(ctx, tx, id, outbox.EventAppointmentStatusChanged, appointmentPayload(appt, map[string]any{
		"previous_status": string(from),
	})); err != nil {
		return model.Appointment{}, err
	}
	if !to.OccupiesCalendar() {
		if _, err := s.reminders.CancelForAppointment(ctx, tx, id); err != nil {
			return model.Appointment{}, fmt.Errorf("cancel reminders: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, fmt.Errorf("commit status: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveStatusChange(string(to))
	}
	s.logger.Info("appointment status changed", "appointment_id", id, "from", from, "to", to)
	return appt, nil
}

type CancelRequest struct {
	AppointmentID string
	Actor         Actor
	Reason        string
	// Contact must match the booking's phone or email for customer cancellations.
	Contact string
}

// Cancel frees the appointment's slot. Customers must cancel at least the policy window ahead of
// the start; staff may cancel any time. Cancelling twice returns the existing cancellation.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (model.Appointment, error) {
	ctx, span := otelx.Tracer("booking").Start(ctx, "booking.cancel", trace.WithAttributes(
		attribute.String("appointment_id", req.AppointmentID),
		attribute.String("actor", string(req.Actor)),
	))
	defer span.End()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.load(ctx, tx, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if req.Actor == ActorCustomer && !contactMatches(appt, req.Contact) {
		return model.Appointment{}, ErrNotFound
	}
	if appt.Status == model.StatusCancelled {
		return appt, nil
	}
	if !model.CanTransition(appt.Status, model.StatusCancelled) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, model.StatusCancelled)
	}

	if req.Actor == ActorCustomer {
		window, err := s.policy.CancellationWindow(ctx)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("cancellation policy: %w", err)
		}
		lead := appt.StartIn(s.loc).Sub(s.clock.Now().In(s.loc))
		if lead < window {
			return model.Appointment{}, fmt.Errorf("%w: appointments must be cancelled %s in advance", ErrCancellationWindow, window)
		}
	}

	cancelledAt, err := s.store.CancelAppointment(ctx, tx, appt.ID, req.Reason)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("cancel appointment: %w", err)
	}
	from := appt.Status
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt
	appt.CancelReason = req.Reason

	if err := s.writeEvent(ctx, tx, appt.ID, outbox.EventAppointmentCancelled, appointmentPayload(appt, map[string]any{
		"previous_status": string(from),
		"cancelled_by":    string(req.Actor),
		"cancelled_at":    cancelledAt.UTC().Format(time.RFC3339),
		"reason":          req.Reason,
	})); err != nil {
		return model.Appointment{}, err
	}
	if _, err := s.reminders.CancelForAppointment(ctx, tx, appt.ID); err != nil {
		return model.Appointment{}, fmt.Errorf("cancel reminders: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, fmt.Errorf("commit cancel: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveStatusChange(string(model.StatusCancelled))
	}
	s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "by", req.Actor)
	return appt, nil
}

func (s *Service) load(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	appt, err := s.store.GetAppointmentForUpdate(ctx, tx, id)
	if storage.IsNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) scheduleReminders(ctx context.Context, tx pgx.Tx, appt model.Appointment, now civil.DateTime) error {
	offsets, err := s.policy.ReminderOffsets(ctx)
	if err != nil {
		s.logger.Warn("reminder offsets unavailable; skipping reminders", "appointment_id", appt.ID, "err", err)
		return nil
	}
	for _, job := range reminders.Plan(appt, s.loc, offsets, now.In(s.loc)) {
		if err := s.reminders.Insert(ctx, tx, job); err != nil {
			return fmt.Errorf("schedule reminder: %w", err)
		}
	}
	return nil
}

func (s *Service) writeEvent(ctx context.Context, tx pgx.Tx, id, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("build %s payload: %w", eventType, err)
	}
	if err := s.events.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("write %s: %w", eventType, err)
	}
	return nil
}

func (s *Service) conflict(appt model.Appointment) error {
	s.observeBooking("conflict")
	return &SlotConflictError{StaffID: appt.StaffID, Date: appt.Date.String(), Start: model.FormatMinute(appt.StartMinute)}
}

func (s *Service) observeBooking(result string) {
	if s.metrics != nil {
		s.metrics.ObserveBooking(result)
	}
}

func contactMatches(appt model.Appointment, contact string) bool {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return false
	}
	if strings.Contains(contact, "@") {
		return strings.EqualFold(contact, appt.CustomerEmail)
	}
	digits := model.PhoneDigits(contact)
	return digits != "" && digits == model.PhoneDigits(appt.CustomerPhone)
}

func appointmentPayload(appt model.Appointment, extra map[string]any) map[string]any {
	services := make([]map[string]any, 0, len(appt.Services))
	for _, line := range appt.Services {
		services = append(services, map[string]any{
			"service_id":       line.ServiceID,
			"service_name":     line.ServiceName,
			"duration_minutes": line.DurationMinutes,
			"price_cents":      line.PriceCents,
		})
	}
	payload := map[string]any{
		"appointment_id":         appt.ID,
		"staff_id":               appt.StaffID,
		"customer_name":          appt.CustomerName,
		"customer_email":         appt.CustomerEmail,
		"customer_phone":         appt.CustomerPhone,
		"date":                   appt.Date.String(),
		"start_time":             model.FormatMinute(appt.StartMinute),
		"end_time":               model.FormatMinute(appt.EndMinute),
		"status":                 string(appt.Status),
		"total_duration_minutes": appt.TotalDurationMinutes,
	}
	if len(services) > 0 {
		payload["services"] = services
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}
