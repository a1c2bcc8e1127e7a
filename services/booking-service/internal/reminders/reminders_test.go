package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAppointment() model.Appointment {
	return model.Appointment{
		ID:            "appt-1",
		CustomerName:  "Dana",
		CustomerPhone: "+15550100",
		CustomerEmail: "dana@example.com",
		Date:          civil.Date{Year: 2026, Month: time.March, Day: 10},
		StartMinute:   10 * 60,
		EndMinute:     11 * 60,
	}
}

func TestPlan(t *testing.T) {
	offsets := []time.Duration{24 * time.Hour, 2 * time.Hour}

	jobs := Plan(testAppointment(), time.UTC, offsets, time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC))
	require.Len(t, jobs, 4)
	assert.Equal(t, "appt-1:reminder_24h:sms", jobs[0].IdempotencyKey)
	assert.Equal(t, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), jobs[0].RemindAt)
	assert.Equal(t, "email", jobs[1].Channel)
	assert.Equal(t, "reminder_2h", jobs[2].Kind)
	assert.Equal(t, "10:00", jobs[2].TemplateData["start_time"])

	jobs = Plan(testAppointment(), time.UTC, offsets, time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	require.Len(t, jobs, 2, "24h reminder is already in the past")

	appt := testAppointment()
	appt.CustomerEmail = ""
	jobs = Plan(appt, time.UTC, []time.Duration{90 * time.Minute}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, jobs, 1)
	assert.Equal(t, "reminder_90m", jobs[0].Kind)

	assert.Empty(t, Plan(testAppointment(), time.UTC, offsets, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
}

var jobCols = []string{"id", "idempotency_key", "appointment_id", "kind", "channel", "recipient", "remind_at", "template_data", "traceparent", "tracestate", "attempts", "max_attempts"}

type resultCounter map[string]int

func (r resultCounter) ObserveReminder(result string) { r[result]++ }

func newWorker(t *testing.T) (pgxmock.PgxPoolIface, *Worker, resultCounter) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	counts := resultCounter{}
	w := NewWorker(mock, NewRepository(), outbox.NewRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)), counts, WorkerConfig{BatchSize: 10})
	w.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }
	return mock, w, counts
}

func TestWorkerEmitsDueReminders(t *testing.T) {
	mock, w, counts := newWorker(t)
	remindAt := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM reminder_jobs").WithArgs(10).WillReturnRows(pgxmock.NewRows(jobCols).
		AddRow(int64(1), "appt-1:reminder_24h:sms", "appt-1", "reminder_24h", "sms", "+15550100", remindAt, []byte(`{"start_time":"10:00"}`), "", "", 0, 5))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("reminder_job", "appt-1", outbox.EventReminderDue, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE reminder_jobs").WithArgs([]int64{1}).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, w.ProcessBatch(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, counts["enqueued"])
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	mock, w, counts := newWorker(t)
	remindAt := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM reminder_jobs").WithArgs(10).WillReturnRows(pgxmock.NewRows(jobCols).
		AddRow(int64(3), "k", "appt-3", "reminder_2h", "email", "x@example.com", remindAt, []byte(nil), "", "", 4, 5))
	// The failed insert is rolled back to its savepoint before the retry bookkeeping runs.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("reminder_job", "appt-3", outbox.EventReminderDue, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()
	mock.ExpectExec("UPDATE reminder_jobs").
		WithArgs(int64(3), 5, "failed", time.Date(2026, 3, 9, 10, 1, 0, 0, time.UTC), "outbox enqueue failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("reminder_job", "appt-3", outbox.EventReminderDLQ, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, w.ProcessBatch(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, counts["failed"])
}

func TestWorkerRetriesFailedJobAlongsideDeliveredOnes(t *testing.T) {
	mock, w, counts := newWorker(t)
	remindAt := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM reminder_jobs").WithArgs(10).WillReturnRows(pgxmock.NewRows(jobCols).
		AddRow(int64(4), "k4", "appt-4", "reminder_2h", "sms", "+15550104", remindAt, []byte(nil), "", "", 0, 5).
		AddRow(int64(5), "k5", "appt-5", "reminder_2h", "sms", "+15550105", remindAt, []byte(nil), "", "", 1, 5))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("reminder_job", "appt-4", outbox.EventReminderDue, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("reminder_job", "appt-5", outbox.EventReminderDue, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE reminder_jobs").WithArgs([]int64{5}).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE reminder_jobs").
		WithArgs(int64(4), 1, "pending", time.Date(2026, 3, 9, 10, 1, 0, 0, time.UTC), "outbox enqueue failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, w.ProcessBatch(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, counts["enqueued"])
	assert.Equal(t, 1, counts["failed"])
}

func TestCancelForAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET status = 'cancelled'").WithArgs("appt-1").WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	n, err := NewRepository().CancelForAppointment(ctx, tx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
