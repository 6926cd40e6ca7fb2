package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"medisched/backend/internal/domain"
)

// BookingTx is the slice of storage visible inside a provider-serialized
// booking transaction. The conflict check and the write it gates always run
// against the same tx.
type BookingTx interface {
	HasConflict(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	UpdateAppointmentWindow(ctx context.Context, id uuid.UUID, start, end time.Time) (domain.Appointment, error)
}
