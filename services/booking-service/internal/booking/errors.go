package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("appointment not found")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrCancellationWindow = errors.New("too late to cancel online")
	ErrNotBookable        = errors.New("service is not bookable")
	ErrSlotUnavailable    = errors.New("requested time is not an available slot")
)

// SlotConflictError means another booking took the interval first.
type SlotConflictError struct {
	StaffID string
	Date    string
	Start   string
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot %s %s for staff %s was just booked", e.Date, e.Start, e.StaffID)
}

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}
