package model

import "time"

type Staff struct {
	ID     string
	Name   string
	Active bool
}

// StaffSchedule is one weekday entry for a staff member. Open and Close are minutes
// since midnight and are nil when the day has no hours configured.
type StaffSchedule struct {
	StaffID     string
	Weekday     time.Weekday
	IsAvailable bool
	Open        *int
	Close       *int
}

// Window returns the working window when the entry is usable.
func (s StaffSchedule) Window() (open, closeAt int, ok bool) {
	if !s.IsAvailable || s.Open == nil || s.Close == nil {
		return 0, 0, false
	}
	if *s.Close <= *s.Open {
		return 0, 0, false
	}
	return *s.Open, *s.Close, true
}

// ServiceSetting is the booking configuration of one catalogue service.
// BufferMinutes and MaxConcurrent are stored but not applied to availability.
type ServiceSetting struct {
	ServiceID       string
	Name            string
	PriceCents      int64
	DurationMinutes int
	BufferMinutes   int
	Bookable        bool
	MaxConcurrent   int
}
