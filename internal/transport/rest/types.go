package rest

import (
	"time"

	"github.com/google/uuid"

	"medisched/backend/internal/domain"
)

type bookRequest struct {
	UserID           string `json:"user_id"`
	ProviderID       string `json:"provider_id"`
	StartTime        string `json:"start_time"`
	DurationMinutes  int    `json:"duration_minutes"`
	PatientName      string `json:"patient_name"`
	PatientAge       int    `json:"patient_age"`
	MedicalHistory   string `json:"medical_history,omitempty"`
	Concerns         string `json:"concerns,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
}

type rescheduleRequest struct {
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type appointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	Number          string    `json:"number"`
	ProviderID      uuid.UUID `json:"provider_id"`
	UserID          string    `json:"user_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	PatientName     string    `json:"patient_name"`
	MeetingLink     *string   `json:"meeting_link"`
	CreatedAt       time.Time `json:"created_at"`
}

type slotResponse struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Available       bool      `json:"available"`
}

type slotListResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	Slots      []slotResponse `json:"slots"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              a.ID,
		Number:          a.Number,
		ProviderID:      a.ProviderID,
		UserID:          a.UserID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		DurationMinutes: int(a.Duration() / time.Minute),
		Status:          string(a.Status),
		PatientName:     a.PatientName,
		MeetingLink:     a.MeetingLink,
		CreatedAt:       a.CreatedAt,
	}
}

func toSlotResponses(slots []domain.CandidateSlot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			Start:           s.Start,
			End:             s.End,
			DurationMinutes: int(s.Duration / time.Minute),
			Available:       s.Available,
		})
	}
	return out
}
