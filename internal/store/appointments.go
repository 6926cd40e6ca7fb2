package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"medisched/backend/internal/domain"
)

// AppointmentStore persists bookings and answers conflict queries.
//
// CreateBooked and Reschedule run the conflict re-check and the write inside
// one provider-serialized transaction; a naive check-then-insert outside that
// boundary is a race and implementations must not provide one.
type AppointmentStore interface {
	// CreateBooked inserts the appointment only if no non-cancelled
	// appointment for the provider overlaps its window. Returns ErrConflict
	// when the window is taken and ErrNumberTaken when the human-readable
	// number collides.
	CreateBooked(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)

	// Reschedule moves an existing appointment to a new window under the same
	// conflict discipline, ignoring the appointment's own current window.
	Reschedule(ctx context.Context, providerID, appointmentID uuid.UUID, start, end time.Time) (domain.Appointment, error)

	// HasConflict reports whether any non-cancelled appointment for the
	// provider intersects [start, end) half-open. excludeID (uuid.Nil for
	// none) lets a reschedule ignore the appointment being moved.
	HasConflict(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)

	// ListBookedWindows returns the non-cancelled appointment windows for the
	// provider intersecting [windowStart, windowEnd), for batch slot
	// annotation on the read path.
	ListBookedWindows(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.TimeWindow, error)

	GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListByUser(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)

	// UpdateStatus is a compare-and-set: it moves the appointment from one
	// status to another and returns ErrStaleStatus when the stored status no
	// longer matches from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error)

	// AttachMeetingLink records an externally provisioned meeting link after
	// the booking has committed.
	AttachMeetingLink(ctx context.Context, id uuid.UUID, link string) error

	// NextAppointmentNumber returns a candidate human-readable number for an
	// appointment on the given day. Uniqueness is only guaranteed by the
	// insert; callers collision-check and retry.
	NextAppointmentNumber(ctx context.Context, day time.Time) (string, error)
}
