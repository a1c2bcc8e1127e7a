package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/reminders"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookDay = civil.Date{Year: 2026, Month: time.March, Day: 10}

// memStore keeps appointments in memory and hands out pgxmock transactions.
type memStore struct {
	mock         pgxmock.PgxPoolIface
	settings     map[string]model.ServiceSetting
	appts        map[string]*model.Appointment
	schedule     model.StaffSchedule
	forceOverlap bool
	insertErr    error
	lookupErr    error
	nextID       int
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	open, closeAt := 9*60, 18*60
	return &memStore{
		mock: mock,
		settings: map[string]model.ServiceSetting{
			"oil":    {ServiceID: "oil", Name: "Oil change", DurationMinutes: 30, PriceCents: 5000, Bookable: true, MaxConcurrent: 1},
			"rotate": {ServiceID: "rotate", Name: "Tire rotation", DurationMinutes: 60, PriceCents: 3000, Bookable: true, MaxConcurrent: 1},
			"paint":  {ServiceID: "paint", Name: "Paint job", DurationMinutes: 240, PriceCents: 90000, Bookable: false},
		},
		appts:    map[string]*model.Appointment{},
		schedule: model.StaffSchedule{StaffID: "tech-1", Weekday: bookDay.In(time.UTC).Weekday(), IsAvailable: true, Open: &open, Close: &closeAt},
	}
}

func (m *memStore) Begin(ctx context.Context) (pgx.Tx, error) { return m.mock.Begin(ctx) }

func (m *memStore) ServiceSettings(_ context.Context, ids []string) (map[string]model.ServiceSetting, error) {
	out := map[string]model.ServiceSetting{}
	for _, id := range ids {
		if st, ok := m.settings[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (m *memStore) LockStaffDay(context.Context, pgx.Tx, string, civil.Date) error { return nil }

func (m *memStore) HasOverlap(_ context.Context, _ pgx.Tx, staffID string, date civil.Date, start, end int) (bool, error) {
	if m.forceOverlap {
		return true, nil
	}
	for _, a := range m.appts {
		if a.StaffID == staffID && a.Date == date && a.Status.OccupiesCalendar() && start < a.EndMinute && end > a.StartMinute {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertAppointment(_ context.Context, _ pgx.Tx, appt *model.Appointment) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	appt.ID = fmt.Sprintf("appt-%d", m.nextID)
	appt.CreatedAt = time.Now()
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *memStore) GetAppointmentForUpdate(_ context.Context, _ pgx.Tx, id string) (model.Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return *a, nil
}

func (m *memStore) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status model.Status) error {
	m.appts[id].Status = status
	return nil
}

func (m *memStore) CancelAppointment(_ context.Context, _ pgx.Tx, id, reason string) (time.Time, error) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	m.appts[id].Status = model.StatusCancelled
	m.appts[id].CancelledAt = &now
	m.appts[id].CancelReason = reason
	return now, nil
}

func (m *memStore) StaffMember(_ context.Context, id string) (model.Staff, bool, error) {
	if m.lookupErr != nil {
		return model.Staff{}, false, m.lookupErr
	}
	return model.Staff{ID: id, Active: id == "tech-1"}, id == "tech-1", nil
}

func (m *memStore) StaffSchedule(_ context.Context, id string, wd time.Weekday) (model.StaffSchedule, bool, error) {
	if id != m.schedule.StaffID || wd != m.schedule.Weekday {
		return model.StaffSchedule{}, false, nil
	}
	return m.schedule, true, nil
}

func (m *memStore) OccupyingAppointments(_ context.Context, staffID string, date civil.Date) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range m.appts {
		if a.StaffID == staffID && a.Date == date && a.Status.OccupiesCalendar() {
			out = append(out, *a)
		}
	}
	return out, nil
}

type eventLog struct{ events []outbox.Event }

func (e *eventLog) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	e.events = append(e.events, evt)
	return nil
}

func (e *eventLog) types() []string {
	var out []string
	for _, evt := range e.events {
		out = append(out, evt.EventType)
	}
	return out
}

type reminderLog struct {
	jobs      []reminders.Job
	cancelled []string
}

func (r *reminderLog) Insert(_ context.Context, _ pgx.Tx, job reminders.Job) error {
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *reminderLog) CancelForAppointment(_ context.Context, _ pgx.Tx, id string) (int64, error) {
	r.cancelled = append(r.cancelled, id)
	return 1, nil
}

type fixture struct {
	store     *memStore
	events    *eventLog
	reminders *reminderLog
	clock     *availability.FixedClock
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore(t)
	clock := availability.FixedClock(civil.DateTime{Date: civil.Date{Year: 2026, Month: time.March, Day: 8}, Time: civil.Time{Hour: 9}})
	f := &fixture{store: store, events: &eventLog{}, reminders: &reminderLog{}, clock: &clock}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(Deps{
		Store:     store,
		Events:    f.events,
		Reminders: f.reminders,
		Slots:     availability.NewEngine(store, store, 30, logger),
		Policy:    policy.NewStaticProvider(policy.MinutesToOffsets([]int{1440, 120}), 24*time.Hour),
		Clock:     f.clock,
		Location:  time.UTC,
		Logger:    logger,
	})
	return f
}

func (f *fixture) setNow(d civil.Date, h, m int) {
	*f.clock = availability.FixedClock(civil.DateTime{Date: d, Time: civil.Time{Hour: h, Minute: m}})
}

func bookReq(start int, services ...string) BookRequest {
	return BookRequest{
		StaffID:       "tech-1",
		ServiceIDs:    services,
		Date:          bookDay,
		StartMinute:   start,
		CustomerName:  "Dana",
		CustomerPhone: "+15550100",
		CustomerEmail: "dana@example.com",
	}
}

func (f *fixture) book(t *testing.T, start int, services ...string) model.Appointment {
	t.Helper()
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectCommit()
	appt, err := f.svc.Book(context.Background(), bookReq(start, services...))
	require.NoError(t, err)
	return appt
}

func TestBookCreatesPendingAppointment(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, 10*60, "oil", "rotate")
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.Equal(t, 90, appt.TotalDurationMinutes)
	assert.Equal(t, 11*60+30, appt.EndMinute)
	assert.Equal(t, int64(8000), appt.TotalPriceCents)
	require.Len(t, appt.Services, 2)
	assert.Equal(t, 1, appt.Services[1].Sequence)
	assert.Equal(t, []string{outbox.EventAppointmentRequested}, f.events.types())
	assert.Len(t, f.reminders.jobs, 4)
	require.NoError(t, f.store.mock.ExpectationsWereMet())
}

func TestBookSkipsPastReminders(t *testing.T) {
	f := newFixture(t)
	f.setNow(bookDay, 7, 0)

	f.book(t, 10*60, "oil")
	require.Len(t, f.reminders.jobs, 2)
	assert.Equal(t, "reminder_2h", f.reminders.jobs[0].Kind)
}

func TestBookRejectsUnbookableServices(t *testing.T) {
	f := newFixture(t)
	for _, ids := range [][]string{{"paint"}, {"oil", "missing"}} {
		_, err := f.svc.Book(context.Background(), bookReq(10*60, ids...))
		assert.ErrorIs(t, err, ErrNotBookable)
	}
	assert.Empty(t, f.events.events)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*BookRequest){
		"no staff":             func(r *BookRequest) { r.StaffID = "" },
		"no services":          func(r *BookRequest) { r.ServiceIDs = nil },
		"no name":              func(r *BookRequest) { r.CustomerName = " " },
		"no contact":           func(r *BookRequest) { r.CustomerPhone, r.CustomerEmail = "", "" },
		"phone without digits": func(r *BookRequest) { r.CustomerPhone, r.CustomerEmail = "n/a", "" },
		"bad start":            func(r *BookRequest) { r.StartMinute = 24 * 60 },
		"duplicate items":      func(r *BookRequest) { r.ServiceIDs = []string{"oil", "oil"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := bookReq(10*60, "oil")
			mutate(&req)
			_, err := f.svc.Book(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestBookUnavailableSlot(t *testing.T) {
	f := newFixture(t)
	f.book(t, 10*60, "rotate")

	for _, start := range []int{9*60 + 30, 10 * 60, 10*60 + 15, 17*60 + 30} {
		_, err := f.svc.Book(context.Background(), bookReq(start, "rotate"))
		assert.ErrorIsf(t, err, ErrSlotUnavailable, "start %d", start)
	}
}

func TestBookLosesRace(t *testing.T) {
	f := newFixture(t)
	f.store.forceOverlap = true
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()

	_, err := f.svc.Book(context.Background(), bookReq(10*60, "oil"))
	var conflict *SlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "10:00", conflict.Start)
	assert.Empty(t, f.events.events)
	require.NoError(t, f.store.mock.ExpectationsWereMet())
}

func TestBookExclusionConstraintIsConflict(t *testing.T) {
	f := newFixture(t)
	f.store.insertErr = &pgconn.PgError{Code: "23P01"}
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()

	_, err := f.svc.Book(context.Background(), bookReq(10*60, "oil"))
	var conflict *SlotConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestBookUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.store.lookupErr = errors.New("db unavailable")

	_, err := f.svc.Book(context.Background(), bookReq(10*60, "oil"))
	var up *availability.UpstreamDataError
	require.ErrorAs(t, err, &up)
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 10*60, "oil")

	f.store.mock.ExpectBegin()
	f.store.mock.ExpectCommit()
	got, err := f.svc.UpdateStatus(context.Background(), appt.ID, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, outbox.EventAppointmentStatusChanged, f.events.events[len(f.events.events)-1].EventType)

	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()
	_, err = f.svc.UpdateStatus(context.Background(), appt.ID, model.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()
	_, err = f.svc.UpdateStatus(context.Background(), "nope", model.StatusConfirmed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNoShowOnlyAfterStart(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 10*60, "oil")

	f.setNow(bookDay, 9, 59)
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()
	_, err := f.svc.UpdateStatus(context.Background(), appt.ID, model.StatusNoShow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.setNow(bookDay, 10, 20)
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectCommit()
	got, err := f.svc.UpdateStatus(context.Background(), appt.ID, model.StatusNoShow)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, got.Status)
	assert.Equal(t, []string{appt.ID}, f.reminders.cancelled)
}

func TestCustomerCancellationWindow(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 10*60, "oil")

	f.setNow(civil.Date{Year: 2026, Month: time.March, Day: 9}, 10, 1)
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()
	_, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: ActorCustomer, Contact: "+15550100"})
	assert.ErrorIs(t, err, ErrCancellationWindow)

	f.setNow(civil.Date{Year: 2026, Month: time.March, Day: 9}, 10, 0)
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectCommit()
	got, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: ActorCustomer, Contact: "DANA@example.com", Reason: "car sold"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, outbox.EventAppointmentCancelled, f.events.events[len(f.events.events)-1].EventType)
	assert.Equal(t, []string{appt.ID}, f.reminders.cancelled)

	events := len(f.events.events)
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()
	again, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: ActorCustomer, Contact: "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, again.Status)
	assert.Len(t, f.events.events, events, "repeat cancel emits nothing")
}

func TestCustomerCancelRequiresMatchingContact(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 10*60, "oil")

	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()
	_, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: ActorCustomer, Contact: "+19999999"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCustomerCancelMatchesFormattedPhone(t *testing.T) {
	f := newFixture(t)
	req := bookReq(10*60, "oil")
	req.CustomerPhone = "(555) 201-3344"
	f.store.mock.ExpectBegin()
	f.store.mock.ExpectCommit()
	appt, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "+15552013344", appt.CustomerPhone)

	f.store.mock.ExpectBegin()
	f.store.mock.ExpectCommit()
	got, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: ActorCustomer, Contact: "1-555-201-3344"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
}

func TestStaffCancelIgnoresWindowAndFreesSlot(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 10*60, "oil")
	f.setNow(bookDay, 8, 0)

	f.store.mock.ExpectBegin()
	f.store.mock.ExpectCommit()
	_, err := f.svc.UpdateStatus(context.Background(), appt.ID, model.StatusCancelled)
	require.NoError(t, err)

	again := f.book(t, 10*60, "oil")
	assert.NotEqual(t, appt.ID, again.ID)
}

func TestCancelTerminalAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 10*60, "oil")
	f.store.appts[appt.ID].Status = model.StatusCompleted

	f.store.mock.ExpectBegin()
	f.store.mock.ExpectRollback()
	_, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: ActorStaff})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
