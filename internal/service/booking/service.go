package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"medisched/backend/internal/domain"
	"medisched/backend/internal/store"
)

// maxNumberAttempts bounds the appointment-number collision retry loop; the
// attempt after the last one carries a random suffix so the loop terminates
// even under pathological collision rates.
const maxNumberAttempts = 10

const defaultMeetingTimeout = 5 * time.Second

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrProviderNotFound  = errors.New("provider not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

func validationError(msg string) error {
	return NewValidationError(msg)
}

// MeetingProvisioner requests an external meeting link for a booked
// appointment. Failures are never booking failures.
type MeetingProvisioner interface {
	CreateMeeting(ctx context.Context, appt domain.Appointment) (string, error)
}

// SlotCache is an optional read-path cache for slot queries. A miss is
// (nil, nil); errors are treated as misses by the service.
type SlotCache interface {
	Get(ctx context.Context, providerID uuid.UUID, from, to time.Time, duration time.Duration) ([]domain.CandidateSlot, error)
	Set(ctx context.Context, providerID uuid.UUID, from, to time.Time, duration time.Duration, slots []domain.CandidateSlot) error
	Invalidate(ctx context.Context, providerID uuid.UUID) error
}

type Config struct {
	Appointments store.AppointmentStore
	Providers    store.ProviderDirectory
	Users        store.UserDirectory

	// Meetings and Cache are optional; a nil value disables the concern.
	Meetings       MeetingProvisioner
	Cache          SlotCache
	MeetingTimeout time.Duration

	Clock domain.Clock
	Log   *slog.Logger
}

type Service struct {
	appointments   store.AppointmentStore
	providers      store.ProviderDirectory
	users          store.UserDirectory
	meetings       MeetingProvisioner
	cache          SlotCache
	meetingTimeout time.Duration
	clock          domain.Clock
	log            *slog.Logger
}

func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.NewClock()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	meetingTimeout := cfg.MeetingTimeout
	if meetingTimeout <= 0 {
		meetingTimeout = defaultMeetingTimeout
	}
	return &Service{
		appointments:   cfg.Appointments,
		providers:      cfg.Providers,
		users:          cfg.Users,
		meetings:       cfg.Meetings,
		cache:          cfg.Cache,
		meetingTimeout: meetingTimeout,
		clock:          clock,
		log:            log.With(slog.String("component", "booking")),
	}
}

type BookInput struct {
	UserID          string
	ProviderID      uuid.UUID
	Start           time.Time
	DurationMinutes int
	Intake          domain.PatientIntake
}

// Book validates the referenced entities, then commits the appointment
// through the store's atomic conflict-and-insert. A conflict at commit time
// surfaces as store.ErrConflict so callers can re-query fresh slots. After
// the commit a meeting link is provisioned best-effort; its failure never
// rolls back or fails the booking.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	if in.UserID == "" {
		return domain.Appointment{}, validationError("user_id is required")
	}
	if in.ProviderID == uuid.Nil {
		return domain.Appointment{}, validationError("provider_id is required")
	}
	if in.DurationMinutes <= 0 {
		return domain.Appointment{}, validationError("duration_minutes must be positive")
	}
	name := strings.TrimSpace(in.Intake.PatientName)
	if name == "" {
		return domain.Appointment{}, validationError("patient_name is required")
	}
	if in.Intake.PatientAge < 0 || in.Intake.PatientAge > 150 {
		return domain.Appointment{}, validationError("patient_age must be between 0 and 150")
	}
	if in.Start.IsZero() {
		return domain.Appointment{}, validationError("start_time is required")
	}

	start := in.Start.UTC().Truncate(time.Second)
	if !start.After(s.clock.Now()) {
		return domain.Appointment{}, validationError("start_time must be in the future")
	}
	end := start.Add(time.Duration(in.DurationMinutes) * time.Minute)

	exists, err := s.users.UserExists(ctx, in.UserID)
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return domain.Appointment{}, ErrUserNotFound
	}

	provider, err := s.providers.GetProvider(ctx, in.ProviderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, ErrProviderNotFound
		}
		return domain.Appointment{}, fmt.Errorf("load provider: %w", err)
	}
	if !provider.Active {
		return domain.Appointment{}, ErrProviderNotFound
	}

	intake := in.Intake
	intake.PatientName = name

	appt := domain.Appointment{
		ProviderID:    in.ProviderID,
		UserID:        in.UserID,
		StartTime:     start,
		EndTime:       end,
		Status:        domain.StatusScheduled,
		PatientIntake: intake,
	}

	booked, err := s.commitWithNumber(ctx, appt)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.Info("appointment booked",
		slog.String("appointment_id", booked.ID.String()),
		slog.String("number", booked.Number),
		slog.String("provider_id", booked.ProviderID.String()),
		slog.Time("start_time", booked.StartTime),
	)

	s.provisionMeeting(ctx, &booked)
	s.invalidateSlots(ctx, booked.ProviderID)

	return booked, nil
}

// commitWithNumber drives the bounded appointment-number retry around the
// store's atomic conflict-and-insert. Only ErrNumberTaken retries; a window
// conflict is final.
func (s *Service) commitWithNumber(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	for attempt := 1; attempt <= maxNumberAttempts+1; attempt++ {
		number, err := s.appointments.NextAppointmentNumber(ctx, appt.StartTime)
		if err != nil {
			return domain.Appointment{}, fmt.Errorf("next appointment number: %w", err)
		}
		if attempt > maxNumberAttempts {
			suffix, err := randomSuffix()
			if err != nil {
				return domain.Appointment{}, err
			}
			number = number + "-" + suffix
		}
		appt.Number = number

		booked, err := s.appointments.CreateBooked(ctx, appt)
		if err != nil {
			if errors.Is(err, store.ErrNumberTaken) && attempt <= maxNumberAttempts {
				continue
			}
			return domain.Appointment{}, err
		}
		return booked, nil
	}
	return domain.Appointment{}, errors.New("appointment number attempts exhausted")
}

func (s *Service) provisionMeeting(ctx context.Context, appt *domain.Appointment) {
	if s.meetings == nil {
		return
	}

	mctx, cancel := context.WithTimeout(ctx, s.meetingTimeout)
	defer cancel()

	link, err := s.meetings.CreateMeeting(mctx, *appt)
	if err != nil {
		s.log.Warn("meeting provisioning failed",
			slog.Any("err", err),
			slog.String("appointment_id", appt.ID.String()),
		)
		return
	}
	if err := s.appointments.AttachMeetingLink(ctx, appt.ID, link); err != nil {
		s.log.Warn("meeting link attach failed",
			slog.Any("err", err),
			slog.String("appointment_id", appt.ID.String()),
		)
		return
	}
	appt.MeetingLink = &link
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if providerID == uuid.Nil {
		return nil, validationError("provider_id is required")
	}
	if !windowEnd.After(windowStart) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.appointments.ListByProvider(ctx, providerID, windowStart.UTC(), windowEnd.UTC())
}

func (s *Service) ListByUser(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if userID == "" {
		return nil, validationError("user_id is required")
	}
	if !windowEnd.After(windowStart) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.appointments.ListByUser(ctx, userID, windowStart.UTC(), windowEnd.UTC())
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, id, domain.StatusConfirmed)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, id, domain.StatusCompleted)
}

// Cancel soft-releases the appointment's window; the row is never deleted.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	appt, err := s.transition(ctx, id, domain.StatusCancelled)
	if err != nil {
		return domain.Appointment{}, err
	}
	s.invalidateSlots(ctx, appt.ProviderID)
	return appt, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.AppointmentStatus) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !appt.Status.CanTransitionTo(to) {
		return domain.Appointment{}, ErrInvalidTransition
	}
	updated, err := s.appointments.UpdateStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return domain.Appointment{}, ErrInvalidTransition
		}
		return domain.Appointment{}, err
	}
	return updated, nil
}

// Reschedule moves a scheduled or confirmed appointment to a new window
// through the same provider-serialized conflict-and-update the booking path
// uses, ignoring the appointment's own current window.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if durationMinutes <= 0 {
		return domain.Appointment{}, validationError("duration_minutes must be positive")
	}
	newStart := start.UTC().Truncate(time.Second)
	if !newStart.After(s.clock.Now()) {
		return domain.Appointment{}, validationError("start_time must be in the future")
	}

	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	if appt.Status != domain.StatusScheduled && appt.Status != domain.StatusConfirmed {
		return domain.Appointment{}, ErrInvalidTransition
	}

	newEnd := newStart.Add(time.Duration(durationMinutes) * time.Minute)
	updated, err := s.appointments.Reschedule(ctx, appt.ProviderID, id, newStart, newEnd)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.invalidateSlots(ctx, updated.ProviderID)
	return updated, nil
}

func (s *Service) invalidateSlots(ctx context.Context, providerID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, providerID); err != nil {
		s.log.Warn("slot cache invalidation failed",
			slog.Any("err", err),
			slog.String("provider_id", providerID.String()),
		)
	}
}

func randomSuffix() (string, error) {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
