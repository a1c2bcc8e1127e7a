package model

import (
	"time"

	"cloud.google.com/go/civil"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return st, true
	}
	return "", false
}

// CanTransition reports whether the state machine allows from -> to.
// The no-show time condition is checked by the booking layer.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// OccupiesCalendar is false only for cancelled and no-show appointments.
func (s Status) OccupiesCalendar() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// Appointment times are shop-local minutes since midnight on Date.
type Appointment struct {
	ID                   string
	StaffID              string // empty when unassigned
	CustomerID           string
	CustomerName         string
	CustomerEmail        string
	CustomerPhone        string
	CustomerNotes        string
	Date                 civil.Date
	StartMinute          int
	EndMinute            int
	Status               Status
	TotalDurationMinutes int
	TotalPriceCents      int64
	CancelledAt          *time.Time
	CancelReason         string
	CreatedAt            time.Time
	Services             []ServiceLine
}

// ServiceLine snapshots one booked service at booking time.
type ServiceLine struct {
	ServiceID       string
	ServiceName     string
	DurationMinutes int
	PriceCents      int64
	Sequence        int
}

func (a Appointment) Start() civil.DateTime {
	return civil.DateTime{Date: a.Date, Time: MinuteToTime(a.StartMinute)}
}

func (a Appointment) End() civil.DateTime {
	return civil.DateTime{Date: a.Date, Time: MinuteToTime(a.EndMinute)}
}

// StartIn resolves the appointment start to an instant in the shop's location.
func (a Appointment) StartIn(loc *time.Location) time.Time {
	return a.Start().In(loc)
}

// MinuteToTime converts minutes since midnight into a civil.Time.
func MinuteToTime(m int) civil.Time {
	return civil.Time{Hour: m / 60, Minute: m % 60}
}

// TimeToMinute drops seconds and below.
func TimeToMinute(t civil.Time) int {
	return t.Hour*60 + t.Minute
}

// FormatMinute renders minutes since midnight as 24-hour "HH:MM".
func FormatMinute(m int) string {
	t := MinuteToTime(m)
	return twoDigits(t.Hour) + ":" + twoDigits(t.Minute)
}

// ParseMinute parses "HH:MM" (or "HH:MM:SS", seconds ignored) into minutes since midnight.
func ParseMinute(s string) (int, bool) {
	if len(s) == len("15:04") {
		s += ":00"
	}
	t, err := civil.ParseTime(s)
	if err != nil {
		return 0, false
	}
	return TimeToMinute(t), true
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
