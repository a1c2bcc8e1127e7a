package reminders

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	otelx "github.com/md-rashed-zaman/shopbook/libs/otel"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
)

type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type reminderObserver interface {
	ObserveReminder(result string)
}

type Worker struct {
	db        Beginner
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	metrics   reminderObserver
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(db Beginner, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, metrics reminderObserver, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Worker{
		db:        db,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		metrics:   metrics,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch turns due jobs into reminder events. Jobs whose event cannot be written are
// retried after the backoff and dead-lettered once attempts run out.
func (w *Worker) ProcessBatch(ctx context.Context) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var ids []int64
	var failed []Job
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		payload, err := json.Marshal(jobPayload(job))
		if err != nil {
			failed = append(failed, job)
			continue
		}
		ok, err := w.insertDue(jobCtx, tx, job, payload)
		if err != nil {
			return err
		}
		if !ok {
			failed = append(failed, job)
			continue
		}
		ids = append(ids, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, ids); err != nil {
		return err
	}

	for _, job := range failed {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		attempts := job.Attempts + 1
		if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, w.now().UTC().Add(w.backoff), "outbox enqueue failed"); err != nil {
			return err
		}
		if attempts >= job.MaxAttempts {
			if err := w.enqueueDLQ(jobCtx, tx, job, "max attempts reached"); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for range ids {
		w.observe("enqueued")
	}
	for range failed {
		w.observe("failed")
	}
	return nil
}

// insertDue writes the reminder event inside a savepoint so a failed insert leaves the batch
// transaction usable for the retry bookkeeping. ok is false when only the insert failed.
func (w *Worker) insertDue(ctx context.Context, tx pgx.Tx, job Job, payload []byte) (ok bool, err error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return false, err
	}
	if err := w.outbox.Insert(ctx, sp, outbox.Event{
		AggregateType: "reminder_job",
		AggregateID:   job.AppointmentID,
		EventType:     outbox.EventReminderDue,
		Payload:       payload,
	}); err != nil {
		w.logger.Warn("reminder event insert failed", "job_id", job.ID, "err", err)
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return false, rbErr
		}
		return false, nil
	}
	return true, sp.Commit(ctx)
}

func (w *Worker) observe(result string) {
	if w.metrics != nil {
		w.metrics.ObserveReminder(result)
	}
}

func jobPayload(job Job) map[string]any {
	return map[string]any{
		"appointment_id": job.AppointmentID,
		"kind":           job.Kind,
		"channel":        job.Channel,
		"recipient":      job.Recipient,
		"remind_at":      job.RemindAt.UTC().Format(time.RFC3339),
		"template_data":  job.TemplateData,
	}
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, job Job, reason string) error {
	body := jobPayload(job)
	body["error_reason"] = reason
	body["failed_at"] = w.now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "reminder_job",
		AggregateID:   job.AppointmentID,
		EventType:     outbox.EventReminderDLQ,
		Payload:       payload,
	})
}
