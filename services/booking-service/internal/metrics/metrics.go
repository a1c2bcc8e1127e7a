package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters and histograms for slot queries and booking writes.
// A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	slotQueries     *prometheus.CounterVec
	slotLatency     prometheus.Histogram
	bookings        *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	outboxPublished prometheus.Counter
	remindersDue    *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		slotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopbook",
			Subsystem: "availability",
			Name:      "slot_queries_total",
			Help:      "Slot queries by outcome",
		}, []string{"result"}),
		slotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shopbook",
			Subsystem: "availability",
			Name:      "slot_query_seconds",
			Help:      "Latency of slot computation including lookups",
			Buckets:   prometheus.DefBuckets,
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopbook",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking attempts by outcome",
		}, []string{"result"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopbook",
			Subsystem: "booking",
			Name:      "status_changes_total",
			Help:      "Appointment status transitions by target status",
		}, []string{"to"}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopbook",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events written to Kafka",
		}),
		remindersDue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopbook",
			Subsystem: "reminders",
			Name:      "due_total",
			Help:      "Reminder jobs processed by outcome",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotQueries, m.slotLatency, m.bookings, m.statusChanges, m.outboxPublished, m.remindersDue)
	return m
}

func (m *BookingMetrics) ObserveSlotQuery(result string, seconds float64) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(result).Inc()
	m.slotLatency.Observe(seconds)
}

func (m *BookingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveStatusChange(to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(to).Inc()
}

func (m *BookingMetrics) AddOutboxPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxPublished.Add(float64(n))
}

func (m *BookingMetrics) ObserveReminder(result string) {
	if m == nil {
		return
	}
	m.remindersDue.WithLabelValues(result).Inc()
}
