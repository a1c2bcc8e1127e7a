package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

type SlotEngine interface {
	SlotsOn(ctx context.Context, staffID string, date civil.Date, durationMinutes int, now civil.DateTime) ([]availability.Slot, error)
}

type ServiceLookup interface {
	ServiceSettings(ctx context.Context, serviceIDs []string) (map[string]model.ServiceSetting, error)
}

type slotObserver interface {
	ObserveSlotQuery(result string, seconds float64)
}

type SlotsHandler struct {
	engine   SlotEngine
	services ServiceLookup
	clock    availability.Clock
	metrics  slotObserver
	logger   *slog.Logger
}

func NewSlotsHandler(engine SlotEngine, services ServiceLookup, clock availability.Clock, metrics slotObserver, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{engine: engine, services: services, clock: clock, metrics: metrics, logger: logger}
}

type slotsResponse struct {
	StaffID         string     `json:"staff_id"`
	Date            string     `json:"date"`
	DurationMinutes int        `json:"duration_minutes"`
	Slots           []string   `json:"slots"`
	Grid            []gridSlot `json:"grid,omitempty"`
}

type gridSlot struct {
	Start     string `json:"start"`
	Available bool   `json:"available"`
}

// Slots answers GET ?staff_id=&date=YYYY-MM-DD&duration_minutes=N (or service_ids=a,b) with the
// available "HH:MM" start times. view=grid also returns every candidate with its flag.
func (h *SlotsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()
	q := r.URL.Query()
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if staffID == "" || q.Get("date") == "" {
		http.Error(w, "staff_id and date are required", http.StatusBadRequest)
		return
	}
	date, err := availability.ParseDate(q.Get("date"))
	if err != nil {
		h.observe("invalid", started)
		writeError(w, r, h.logger, err)
		return
	}

	var slots []availability.Slot
	duration, err := h.duration(r.Context(), q.Get("duration_minutes"), q.Get("service_ids"))
	if err == nil {
		slots, err = h.engine.SlotsOn(r.Context(), staffID, date, duration, h.clock.Now())
	}
	var upstream *availability.UpstreamDataError
	switch {
	case errors.As(err, &upstream):
		// Fail closed: a failed read offers nothing rather than a possible double booking.
		h.logger.WarnContext(r.Context(), "slot query upstream failure", "staff_id", staffID, "err", err)
		slots = nil
		h.observe("upstream_error", started)
	case err != nil:
		h.observe("invalid", started)
		writeError(w, r, h.logger, err)
		return
	default:
		h.observe("ok", started)
	}

	resp := slotsResponse{
		StaffID:         staffID,
		Date:            date.String(),
		DurationMinutes: duration,
		Slots:           availability.AvailableLabels(slots),
	}
	if q.Get("view") == "grid" {
		resp.Grid = make([]gridSlot, 0, len(slots))
		for _, s := range slots {
			resp.Grid = append(resp.Grid, gridSlot{Start: s.Label(), Available: s.Available})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SlotsHandler) duration(ctx context.Context, rawDuration, rawServices string) (int, error) {
	if rawDuration != "" {
		n, err := strconv.Atoi(rawDuration)
		if err != nil {
			return 0, &availability.InvalidInputError{Field: "duration", Reason: "must be an integer number of minutes"}
		}
		return n, nil
	}
	ids := splitList(rawServices)
	if len(ids) == 0 {
		return 0, &availability.InvalidInputError{Field: "duration", Reason: "duration_minutes or service_ids is required"}
	}
	settings, err := h.services.ServiceSettings(ctx, ids)
	if err != nil {
		return 0, &availability.UpstreamDataError{Op: "service lookup", Err: err}
	}
	total := 0
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return 0, &availability.InvalidInputError{Field: "service_ids", Reason: "duplicate service " + id}
		}
		seen[id] = true
		st, ok := settings[id]
		if !ok || !st.Bookable {
			return 0, &availability.InvalidInputError{Field: "service_ids", Reason: id + " is not bookable"}
		}
		total += st.DurationMinutes
	}
	return total, nil
}

func (h *SlotsHandler) observe(result string, started time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveSlotQuery(result, time.Since(started).Seconds())
	}
}
