package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

type CatalogStore interface {
	ListStaff(ctx context.Context, activeOnly bool) ([]model.Staff, error)
	CreateStaff(ctx context.Context, name string, active bool) (model.Staff, error)
	UpdateStaff(ctx context.Context, s model.Staff) error
	ListSchedules(ctx context.Context, staffID string) ([]model.StaffSchedule, error)
	UpsertSchedule(ctx context.Context, s model.StaffSchedule) error
	ListServiceSettings(ctx context.Context, bookableOnly bool) ([]model.ServiceSetting, error)
	UpsertServiceSetting(ctx context.Context, st model.ServiceSetting) (bool, error)
	BusinessSetting(ctx context.Context, key string, dst any) (bool, error)
	PutBusinessSetting(ctx context.Context, key string, value any) error
}

// CatalogHandler serves staff, schedule and service-setting reads and admin writes.
type CatalogHandler struct {
	store  CatalogStore
	logger *slog.Logger
}

func NewCatalogHandler(store CatalogStore, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{store: store, logger: logger}
}

type staffItem struct {
	StaffID string `json:"staff_id"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
}

// PublicStaff lists active technicians for the booking widget.
func (h *CatalogHandler) PublicStaff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	staff, err := h.store.ListStaff(r.Context(), true)
	if err != nil {
		h.logger.Error("list staff failed", "err", err)
		http.Error(w, "failed to list staff", http.StatusInternalServerError)
		return
	}
	items := make([]staffItem, 0, len(staff))
	for _, s := range staff {
		items = append(items, staffItem{StaffID: s.ID, Name: s.Name, Active: s.Active})
	}
	writeJSON(w, http.StatusOK, items)
}

type staffRequest struct {
	StaffID string `json:"staff_id"`
	Name    string `json:"name"`
	Active  *bool  `json:"active"`
}

// Staff is the admin view of technicians: GET lists everyone, POST adds one, PUT edits or
// deactivates one.
func (h *CatalogHandler) Staff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		staff, err := h.store.ListStaff(r.Context(), false)
		if err != nil {
			h.logger.Error("list staff failed", "err", err)
			http.Error(w, "failed to list staff", http.StatusInternalServerError)
			return
		}
		items := make([]staffItem, 0, len(staff))
		for _, s := range staff {
			items = append(items, staffItem{StaffID: s.ID, Name: s.Name, Active: s.Active})
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost, http.MethodPut:
		var req staffRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		active := req.Active == nil || *req.Active
		if r.Method == http.MethodPost {
			created, err := h.store.CreateStaff(r.Context(), name, active)
			if err != nil {
				h.logger.Error("create staff failed", "err", err)
				http.Error(w, "failed to create staff", http.StatusInternalServerError)
				return
			}
			h.logger.Info("staff created", "staff_id", created.ID)
			writeJSON(w, http.StatusCreated, staffItem{StaffID: created.ID, Name: created.Name, Active: created.Active})
			return
		}
		s := model.Staff{ID: strings.TrimSpace(req.StaffID), Name: name, Active: active}
		err := h.store.UpdateStaff(r.Context(), s)
		if storage.IsNotFound(err) {
			http.Error(w, "staff not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.logger.Error("update staff failed", "staff_id", s.ID, "err", err)
			http.Error(w, "failed to update staff", http.StatusInternalServerError)
			return
		}
		h.logger.Info("staff updated", "staff_id", s.ID, "active", s.Active)
		writeJSON(w, http.StatusOK, staffItem{StaffID: s.ID, Name: s.Name, Active: s.Active})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type scheduleItem struct {
	StaffID     string  `json:"staff_id"`
	DayOfWeek   int     `json:"day_of_week"`
	IsAvailable bool    `json:"is_available"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
}

func minutePtrLabel(m *int) *string {
	if m == nil {
		return nil
	}
	s := model.FormatMinute(*m)
	return &s
}

// Schedule handles GET ?staff_id= and PUT of a single weekday entry.
func (h *CatalogHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
		if staffID == "" {
			http.Error(w, "staff_id required", http.StatusBadRequest)
			return
		}
		if uuid.Validate(staffID) != nil {
			http.Error(w, "staff not found", http.StatusNotFound)
			return
		}
		entries, err := h.store.ListSchedules(r.Context(), staffID)
		if storage.IsNotFound(err) {
			http.Error(w, "staff not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.logger.Error("list schedules failed", "staff_id", staffID, "err", err)
			http.Error(w, "failed to load schedule", http.StatusInternalServerError)
			return
		}
		items := make([]scheduleItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, scheduleItem{
				StaffID:     e.StaffID,
				DayOfWeek:   int(e.Weekday),
				IsAvailable: e.IsAvailable,
				StartTime:   minutePtrLabel(e.Open),
				EndTime:     minutePtrLabel(e.Close),
			})
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPut:
		var req scheduleItem
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		entry, msg := req.toModel()
		if msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		if uuid.Validate(entry.StaffID) != nil {
			http.Error(w, "staff not found", http.StatusNotFound)
			return
		}
		err := h.store.UpsertSchedule(r.Context(), entry)
		if storage.IsNotFound(err) {
			http.Error(w, "staff not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.logger.Error("upsert schedule failed", "staff_id", entry.StaffID, "err", err)
			http.Error(w, "failed to save schedule", http.StatusInternalServerError)
			return
		}
		h.logger.Info("schedule updated", "staff_id", entry.StaffID, "day_of_week", int(entry.Weekday))
		writeJSON(w, http.StatusOK, req)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s scheduleItem) toModel() (model.StaffSchedule, string) {
	entry := model.StaffSchedule{
		StaffID:     strings.TrimSpace(s.StaffID),
		Weekday:     time.Weekday(s.DayOfWeek),
		IsAvailable: s.IsAvailable,
	}
	if entry.StaffID == "" {
		return entry, "staff_id required"
	}
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return entry, "day_of_week must be 0 (Sunday) to 6 (Saturday)"
	}
	if (s.StartTime == nil) != (s.EndTime == nil) {
		return entry, "start_time and end_time must be set together"
	}
	if s.StartTime != nil {
		open, ok1 := model.ParseMinute(*s.StartTime)
		closeAt, ok2 := model.ParseMinute(*s.EndTime)
		if !ok1 || !ok2 {
			return entry, "times must be HH:MM"
		}
		if closeAt <= open {
			return entry, "end_time must be after start_time"
		}
		entry.Open, entry.Close = &open, &closeAt
	}
	if entry.IsAvailable && entry.Open == nil {
		return entry, "available days need start_time and end_time"
	}
	return entry, ""
}

type serviceSettingItem struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name,omitempty"`
	PriceCents      int64  `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
	BufferMinutes   int    `json:"buffer_minutes"`
	IsBookable      bool   `json:"is_bookable"`
	MaxConcurrent   int    `json:"max_concurrent"`
}

// PublicServices lists bookable services with their durations.
func (h *CatalogHandler) PublicServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.listServices(w, r, true)
}

// ServiceSettings handles the admin GET (all services) and PUT of one service's settings.
func (h *CatalogHandler) ServiceSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listServices(w, r, false)
	case http.MethodPut:
		var req serviceSettingItem
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		req.ServiceID = strings.TrimSpace(req.ServiceID)
		if req.MaxConcurrent == 0 {
			req.MaxConcurrent = 1
		}
		switch {
		case req.ServiceID == "":
			http.Error(w, "service_id required", http.StatusBadRequest)
			return
		case req.DurationMinutes <= 0:
			http.Error(w, "duration_minutes must be positive", http.StatusBadRequest)
			return
		case req.BufferMinutes < 0 || req.MaxConcurrent < 0:
			http.Error(w, "buffer_minutes and max_concurrent cannot be negative", http.StatusBadRequest)
			return
		}
		found, err := h.store.UpsertServiceSetting(r.Context(), model.ServiceSetting{
			ServiceID:       req.ServiceID,
			DurationMinutes: req.DurationMinutes,
			BufferMinutes:   req.BufferMinutes,
			Bookable:        req.IsBookable,
			MaxConcurrent:   req.MaxConcurrent,
		})
		if err != nil {
			h.logger.Error("upsert service setting failed", "service_id", req.ServiceID, "err", err)
			http.Error(w, "failed to save service settings", http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, req)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CatalogHandler) listServices(w http.ResponseWriter, r *http.Request, bookableOnly bool) {
	settings, err := h.store.ListServiceSettings(r.Context(), bookableOnly)
	if err != nil {
		h.logger.Error("list service settings failed", "err", err)
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	items := make([]serviceSettingItem, 0, len(settings))
	for _, st := range settings {
		items = append(items, serviceSettingItem{
			ServiceID:       st.ServiceID,
			Name:            st.Name,
			PriceCents:      st.PriceCents,
			DurationMinutes: st.DurationMinutes,
			BufferMinutes:   st.BufferMinutes,
			IsBookable:      st.Bookable,
			MaxConcurrent:   st.MaxConcurrent,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type policiesDoc struct {
	CancellationPolicy *policy.CancellationPolicy `json:"cancellation_policy"`
	ReminderPolicy     *policy.ReminderPolicy     `json:"reminder_policy"`
}

// Policies reads and writes the shop's cancellation and reminder settings. A PUT may carry
// either document; the one left out is unchanged.
func (h *CatalogHandler) Policies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writePolicies(w, r)
	case http.MethodPut:
		var req policiesDoc
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.CancellationPolicy == nil && req.ReminderPolicy == nil {
			http.Error(w, "cancellation_policy or reminder_policy required", http.StatusBadRequest)
			return
		}
		if c := req.CancellationPolicy; c != nil && (c.HoursBefore == nil || *c.HoursBefore < 0) {
			http.Error(w, "hours_before must be zero or more", http.StatusBadRequest)
			return
		}
		if rp := req.ReminderPolicy; rp != nil {
			if msg := validOffsets(rp.OffsetsMinutes); msg != "" {
				http.Error(w, msg, http.StatusBadRequest)
				return
			}
		}
		writes := []struct {
			key   string
			value any
			set   bool
		}{
			{policy.CancellationPolicyKey, req.CancellationPolicy, req.CancellationPolicy != nil},
			{policy.ReminderPolicyKey, req.ReminderPolicy, req.ReminderPolicy != nil},
		}
		for _, wr := range writes {
			if !wr.set {
				continue
			}
			if err := h.store.PutBusinessSetting(r.Context(), wr.key, wr.value); err != nil {
				h.logger.Error("save policy failed", "key", wr.key, "err", err)
				http.Error(w, "failed to save policy", http.StatusInternalServerError)
				return
			}
			h.logger.Info("policy updated", "key", wr.key)
		}
		h.writePolicies(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CatalogHandler) writePolicies(w http.ResponseWriter, r *http.Request) {
	var doc policiesDoc
	var cancellation policy.CancellationPolicy
	var reminders policy.ReminderPolicy
	found, err := h.store.BusinessSetting(r.Context(), policy.CancellationPolicyKey, &cancellation)
	if err == nil && found {
		doc.CancellationPolicy = &cancellation
	}
	if err == nil {
		found, err = h.store.BusinessSetting(r.Context(), policy.ReminderPolicyKey, &reminders)
		if err == nil && found {
			doc.ReminderPolicy = &reminders
		}
	}
	if err != nil {
		h.logger.Error("load policies failed", "err", err)
		http.Error(w, "failed to load policies", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func validOffsets(minutes []int) string {
	if len(minutes) == 0 {
		return "offsets_minutes must not be empty"
	}
	seen := make(map[int]bool, len(minutes))
	for _, m := range minutes {
		if m <= 0 {
			return "offsets_minutes must be positive"
		}
		if seen[m] {
			return "offsets_minutes must be distinct"
		}
		seen[m] = true
	}
	return ""
}
