package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medisched/backend/internal/domain"
	"medisched/backend/internal/service/booking"
	"medisched/backend/internal/store"
)

type bookingService interface {
	Slots(ctx context.Context, q booking.SlotQuery) ([]domain.CandidateSlot, error)
	Book(ctx context.Context, in booking.BookInput) (domain.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListByUser(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (domain.Appointment, error)
}

type BookingServer struct {
	svc bookingService
	log *slog.Logger
}

func NewBookingServer(svc bookingService, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		svc: svc,
		log: log.With(slog.String("component", "rest.booking")),
	}
}

// Pinger lets the readiness probe check a backing dependency without the
// transport knowing what it is.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func (s *BookingServer) Router(deps ...Pinger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for _, d := range deps {
			if err := d.Ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/providers/{id}/slots", s.handleSlots)
	r.Get("/providers/{id}/appointments", s.handleListByProvider)
	r.Get("/users/{id}/appointments", s.handleListByUser)

	r.Post("/appointments", s.handleBook)
	r.Get("/appointments/{id}", s.handleGet)
	r.Post("/appointments/{id}/confirm", s.transitionHandler("confirm", s.svc.Confirm))
	r.Post("/appointments/{id}/complete", s.transitionHandler("complete", s.svc.Complete))
	r.Post("/appointments/{id}/cancel", s.transitionHandler("cancel", s.svc.Cancel))
	r.Post("/appointments/{id}/reschedule", s.handleReschedule)

	return r
}

func (s *BookingServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
		return
	}

	qs := r.URL.Query()
	from, err := parseDate(qs.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(qs.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
		return
	}
	duration, err := parsePositiveInt(qs.Get("duration"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive integer of minutes")
		return
	}

	slots, err := s.svc.Slots(r.Context(), booking.SlotQuery{
		ProviderID:      providerID,
		From:            from,
		To:              to,
		DurationMinutes: duration,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slotListResponse{ProviderID: providerID, Slots: toSlotResponses(slots)})
}

func (s *BookingServer) handleBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC 3339")
		return
	}

	appt, err := s.svc.Book(r.Context(), booking.BookInput{
		UserID:          req.UserID,
		ProviderID:      providerID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Intake: domain.PatientIntake{
			PatientName:      req.PatientName,
			PatientAge:       req.PatientAge,
			MedicalHistory:   req.MedicalHistory,
			Concerns:         req.Concerns,
			EmergencyContact: req.EmergencyContact,
		},
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.log.Info("appointment booked",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("number", appt.Number),
		slog.String("provider_id", appt.ProviderID.String()),
	)
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (s *BookingServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	appt, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (s *BookingServer) handleListByProvider(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
		return
	}
	windowStart, windowEnd, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	appts, err := s.svc.ListByProvider(r.Context(), providerID, windowStart, windowEnd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (s *BookingServer) handleListByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	windowStart, windowEnd, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	appts, err := s.svc.ListByUser(r.Context(), userID, windowStart, windowEnd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (s *BookingServer) transitionHandler(name string, fn func(ctx context.Context, id uuid.UUID) (domain.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}
		appt, err := fn(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.log.Info("appointment "+name+"ed",
			slog.String("appointment_id", appt.ID.String()),
			slog.String("status", string(appt.Status)),
		)
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func (s *BookingServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC 3339")
		return
	}
	appt, err := s.svc.Reschedule(r.Context(), id, start, req.DurationMinutes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// writeServiceError maps the service error taxonomy onto HTTP statuses. A
// slot conflict is 409 so clients know to re-query slots rather than fix
// their input.
func (s *BookingServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation_error", vErr.Error())
	case errors.Is(err, booking.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "user does not exist")
	case errors.Is(err, booking.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", "provider does not exist or is inactive")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment does not exist")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "slot_unavailable", "That time is no longer available. Pick a different slot.")
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", "the appointment's status does not allow this")
	default:
		s.log.Error("request failed",
			slog.Any("err", err),
			slog.String("path", r.URL.Path),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func toAppointmentResponses(appts []domain.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	qs := r.URL.Query()
	from, err := parseDate(qs.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
	}
	to, err := parseDate(qs.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
	}
	return from, to.AddDate(0, 0, 1), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, errorResponse{Error: code, Details: details})
}
