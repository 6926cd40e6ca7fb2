package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"medisched/backend/internal/domain"
	"medisched/backend/internal/store"
)

// maxSlotRange caps how far ahead a single slot query may reach.
const maxSlotRange = 90 * 24 * time.Hour

type SlotQuery struct {
	ProviderID      uuid.UUID
	From            time.Time
	To              time.Time
	DurationMinutes int
}

// Slots returns the provider's candidate slots for the date range, ordered by
// start time and annotated against existing non-cancelled appointments. The
// whole path is read-only; an inactive provider simply yields no slots.
func (s *Service) Slots(ctx context.Context, q SlotQuery) ([]domain.CandidateSlot, error) {
	if q.ProviderID == uuid.Nil {
		return nil, validationError("provider_id is required")
	}
	if q.DurationMinutes <= 0 {
		return nil, validationError("duration_minutes must be positive")
	}
	if q.From.IsZero() || q.To.IsZero() {
		return nil, validationError("from and to are required")
	}

	from := q.From.UTC()
	to := q.To.UTC()
	if to.Before(from) {
		return nil, validationError("to must not be before from")
	}
	if to.Sub(from) > maxSlotRange {
		return nil, validationError("date range too long")
	}

	provider, err := s.providers.GetProvider(ctx, q.ProviderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !provider.Active {
		return []domain.CandidateSlot{}, nil
	}

	duration := time.Duration(q.DurationMinutes) * time.Minute

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, q.ProviderID, from, to, duration)
		if err != nil {
			s.log.Warn("slot cache read failed", slog.Any("err", err))
		} else if cached != nil {
			return cached, nil
		}
	}

	// Booked windows are fetched once for the whole range and matched against
	// candidates in memory, instead of one conflict query per window.
	windowEnd := endOfDay(to)
	booked, err := s.appointments.ListBookedWindows(ctx, q.ProviderID, startOfDay(from), windowEnd)
	if err != nil {
		return nil, fmt.Errorf("list booked windows: %w", err)
	}

	slots := domain.GenerateSlots(provider.ActiveRules(), from, to, duration, s.clock.Now())
	domain.AnnotateAvailability(slots, booked)

	if s.cache != nil {
		if err := s.cache.Set(ctx, q.ProviderID, from, to, duration, slots); err != nil {
			s.log.Warn("slot cache write failed", slog.Any("err", err))
		}
	}

	return slots, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}
