package outbox

// Event is the envelope written to the outbox table. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentRequested     = "booking.appointment.requested.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
	EventAppointmentCancelled     = "booking.appointment.cancelled.v1"
	EventReminderDue              = "booking.reminder.due.v1"
	EventReminderDLQ              = "booking.reminder.dlq.v1"
)
