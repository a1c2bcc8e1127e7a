package availability

import "github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"

// Interval is a half-open [Start, End) span in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Overlaps reports whether [start, end) intersects the interval. Touching ends do not overlap.
func (i Interval) Overlaps(start, end int) bool {
	return start < i.End && end > i.Start
}

// Slot is a candidate start time on the grid. It is derived on every query and never stored.
type Slot struct {
	Start     int
	Available bool
}

// Label renders the start as 24-hour "HH:MM".
func (s Slot) Label() string {
	return model.FormatMinute(s.Start)
}

// Grid lays candidates from open in step increments, keeping only those that end by close,
// and marks each one unavailable when it overlaps a busy interval.
func Grid(open, closeAt, duration, step int, busy []Interval) []Slot {
	if duration <= 0 || step <= 0 || closeAt <= open {
		return nil
	}

	var slots []Slot
	for c := open; c+duration <= closeAt; c += step {
		slots = append(slots, Slot{Start: c, Available: !overlapsAny(c, c+duration, busy)})
	}
	return slots
}

// AvailableLabels returns the "HH:MM" labels of the available slots, in order.
func AvailableLabels(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if s.Available {
			out = append(out, s.Label())
		}
	}
	return out
}

func overlapsAny(start, end int, busy []Interval) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func dropNotAfter(slots []Slot, second int) []Slot {
	out := slots[:0]
	for _, s := range slots {
		if s.Start*60 > second {
			out = append(out, s)
		}
	}
	return out
}
