package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/shopbook/libs/httpx"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError maps domain errors onto status codes. Anything unrecognised is logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		invalid  *availability.InvalidInputError
		upstream *availability.UpstreamDataError
		conflict *booking.SlotConflictError
		verr     *booking.ValidationError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &verr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.As(err, &conflict):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.Is(err, booking.ErrSlotUnavailable):
		http.Error(w, "requested time is not available", http.StatusConflict)
	case errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrCancellationWindow), errors.Is(err, booking.ErrNotBookable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &upstream):
		http.Error(w, "availability service unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
