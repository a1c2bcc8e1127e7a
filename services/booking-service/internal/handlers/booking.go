package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/shopbook/libs/auth"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

type Booker interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, to model.Status) (model.Appointment, error)
	Cancel(ctx context.Context, req booking.CancelRequest) (model.Appointment, error)
}

type AppointmentLister interface {
	ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	AppointmentsByPhone(ctx context.Context, phone string, limit int) ([]model.Appointment, error)
}

type BookingHandler struct {
	bookings Booker
	lister   AppointmentLister
	logger   *slog.Logger
}

func NewBookingHandler(bookings Booker, lister AppointmentLister, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, lister: lister, logger: logger}
}

type bookRequest struct {
	StaffID       string   `json:"staff_id"`
	ServiceIDs    []string `json:"service_ids"`
	Date          string   `json:"date"`
	StartTime     string   `json:"start_time"`
	CustomerID    string   `json:"customer_id"`
	CustomerName  string   `json:"customer_name"`
	CustomerEmail string   `json:"customer_email"`
	CustomerPhone string   `json:"customer_phone"`
	Notes         string   `json:"notes"`
}

type appointmentResponse struct {
	AppointmentID        string                `json:"appointment_id"`
	StaffID              string                `json:"staff_id"`
	CustomerName         string                `json:"customer_name"`
	Date                 string                `json:"date"`
	StartTime            string                `json:"start_time"`
	EndTime              string                `json:"end_time"`
	Status               string                `json:"status"`
	TotalDurationMinutes int                   `json:"total_duration_minutes"`
	TotalPriceCents      int64                 `json:"total_price_cents"`
	Services             []serviceLineResponse `json:"services,omitempty"`
	CancelledAt          string                `json:"cancelled_at,omitempty"`
	CancelReason         string                `json:"cancellation_reason,omitempty"`
	CreatedAt            string                `json:"created_at,omitempty"`
}

type serviceLineResponse struct {
	ServiceID       string `json:"service_id"`
	ServiceName     string `json:"service_name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:        a.ID,
		StaffID:              a.StaffID,
		CustomerName:         a.CustomerName,
		Date:                 a.Date.String(),
		StartTime:            model.FormatMinute(a.StartMinute),
		EndTime:              model.FormatMinute(a.EndMinute),
		Status:               string(a.Status),
		TotalDurationMinutes: a.TotalDurationMinutes,
		TotalPriceCents:      a.TotalPriceCents,
		CancelReason:         a.CancelReason,
	}
	for _, line := range a.Services {
		resp.Services = append(resp.Services, serviceLineResponse{
			ServiceID:       line.ServiceID,
			ServiceName:     line.ServiceName,
			DurationMinutes: line.DurationMinutes,
			PriceCents:      line.PriceCents,
		})
	}
	if a.CancelledAt != nil {
		resp.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	if !a.CreatedAt.IsZero() {
		resp.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Book creates a pending appointment from the public booking widget.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, err := availability.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, ok := model.ParseMinute(strings.TrimSpace(req.StartTime))
	if !ok {
		http.Error(w, "start_time must be HH:MM", http.StatusBadRequest)
		return
	}
	serviceIDs := make([]string, 0, len(req.ServiceIDs))
	for _, id := range req.ServiceIDs {
		if id = strings.TrimSpace(id); id != "" {
			serviceIDs = append(serviceIDs, id)
		}
	}

	appt, err := h.bookings.Book(r.Context(), booking.BookRequest{
		StaffID:       strings.TrimSpace(req.StaffID),
		ServiceIDs:    serviceIDs,
		Date:          date,
		StartMinute:   start,
		CustomerID:    strings.TrimSpace(req.CustomerID),
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Contact       string `json:"contact"`
	Reason        string `json:"reason"`
}

// CustomerCancel lets a customer cancel using the phone or email they booked with.
func (h *BookingHandler) CustomerCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, booking.ActorCustomer)
}

// StaffCancel cancels without the customer notice window.
func (h *BookingHandler) StaffCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, booking.ActorStaff)
}

func (h *BookingHandler) cancel(w http.ResponseWriter, r *http.Request, actor booking.Actor) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	if actor == booking.ActorCustomer && strings.TrimSpace(req.Contact) == "" {
		http.Error(w, "contact required", http.StatusBadRequest)
		return
	}

	appt, err := h.bookings.Cancel(r.Context(), booking.CancelRequest{
		AppointmentID: req.AppointmentID,
		Actor:         actor,
		Reason:        strings.TrimSpace(req.Reason),
		Contact:       req.Contact,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if actor == booking.ActorStaff {
		h.logger.Info("staff cancellation", "appointment_id", appt.ID, "user", staffUser(r))
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	to, ok := model.ParseStatus(strings.TrimSpace(req.Status))
	if !ok || strings.TrimSpace(req.AppointmentID) == "" {
		http.Error(w, "appointment_id and a valid status are required", http.StatusBadRequest)
		return
	}
	appt, err := h.bookings.UpdateStatus(r.Context(), strings.TrimSpace(req.AppointmentID), to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("status updated", "appointment_id", appt.ID, "status", appt.Status, "user", staffUser(r))
	writeJSON(w, http.StatusOK, toResponse(appt))
}

// staffUser is the token subject, empty when auth is disabled.
func staffUser(r *http.Request) string {
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		return c.Subject
	}
	return ""
}

// List serves the admin calendar: ?staff_id=&status=&from=&to=&limit=.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := storage.AppointmentFilter{StaffID: strings.TrimSpace(q.Get("staff_id"))}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, ok := model.ParseStatus(raw)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = st
	}
	bounds := map[string]*civil.Date{"from": &filter.From, "to": &filter.To}
	for key, dst := range bounds {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		d, err := availability.ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid "+key+" date", http.StatusBadRequest)
			return
		}
		*dst = d
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	appts, err := h.lister.ListAppointments(r.Context(), filter)
	if err != nil {
		h.logger.Error("list appointments failed", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}

// Get returns one appointment with its service lines: ?appointment_id=.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := h.lister.GetAppointment(r.Context(), id)
	if storage.IsNotFound(err) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get appointment failed", "appointment_id", id, "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

// CustomerLookup lets customers find their bookings from the portal: GET ?phone=.
func (h *BookingHandler) CustomerLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if model.PhoneDigits(phone) == "" {
		http.Error(w, "phone required", http.StatusBadRequest)
		return
	}
	appts, err := h.lister.AppointmentsByPhone(r.Context(), phone, 0)
	if err != nil {
		h.logger.Error("appointment lookup failed", "err", err)
		http.Error(w, "failed to look up appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}
