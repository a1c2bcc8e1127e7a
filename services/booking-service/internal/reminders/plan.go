package reminders

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

// Plan builds one job per offset and contact channel. Offsets whose reminder time is not
// after now are skipped.
func Plan(appt model.Appointment, loc *time.Location, offsets []time.Duration, now time.Time) []Job {
	start := appt.StartIn(loc)
	channels := map[string]string{"sms": appt.CustomerPhone, "email": appt.CustomerEmail}

	var jobs []Job
	for _, offset := range offsets {
		remindAt := start.Add(-offset)
		if !remindAt.After(now) {
			continue
		}
		kind := "reminder_" + offsetLabel(offset)
		for _, channel := range []string{"sms", "email"} {
			recipient := channels[channel]
			if recipient == "" {
				continue
			}
			jobs = append(jobs, Job{
				IdempotencyKey: fmt.Sprintf("%s:%s:%s", appt.ID, kind, channel),
				AppointmentID:  appt.ID,
				Kind:           kind,
				Channel:        channel,
				Recipient:      recipient,
				RemindAt:       remindAt.UTC(),
				TemplateData: map[string]any{
					"customer_name": appt.CustomerName,
					"date":          appt.Date.String(),
					"start_time":    model.FormatMinute(appt.StartMinute),
				},
			})
		}
	}
	return jobs
}

// offsetLabel renders 24h as "24h" and 90m as "90m".
func offsetLabel(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
