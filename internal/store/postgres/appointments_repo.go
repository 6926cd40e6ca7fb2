package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"medisched/backend/internal/domain"
	"medisched/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) CreateBooked(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.InProviderTransaction(ctx, appt.ProviderID, func(ctx context.Context, tx store.BookingTx) error {
		conflict, err := tx.HasConflict(ctx, appt.ProviderID, appt.StartTime, appt.EndTime, uuid.Nil)
		if err != nil {
			return err
		}
		if conflict {
			return store.ErrConflict
		}
		a, err := tx.InsertAppointment(ctx, appt)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (r *AppointmentRepo) Reschedule(ctx context.Context, providerID, appointmentID uuid.UUID, start, end time.Time) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.BookingTx) error {
		current, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if current.ProviderID != providerID {
			return store.ErrNotFound
		}
		conflict, err := tx.HasConflict(ctx, providerID, start, end, appointmentID)
		if err != nil {
			return err
		}
		if conflict {
			return store.ErrConflict
		}
		a, err := tx.UpdateAppointmentWindow(ctx, appointmentID, start, end)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// InProviderTransaction serializes concurrent bookings for one provider with
// an advisory xact lock, so the conflict check and the insert it gates cannot
// interleave with another booking for the same provider.
func (r *AppointmentRepo) InProviderTransaction(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderCalendar(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockProviderCalendar(ctx context.Context, tx bun.Tx, providerID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID.String()).Exec(ctx)
	return err
}

func (r *AppointmentRepo) HasConflict(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	return hasConflict(ctx, r.db, providerID, start, end, excludeID)
}

func (r *AppointmentRepo) ListBookedWindows(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.TimeWindow, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Column("start_time", "end_time").
		Where("provider_id = ?", providerID).
		Where("status != ?", domain.StatusCancelled).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TimeWindow, 0, len(rows))
	for _, a := range rows {
		out = append(out, domain.TimeWindow{Start: a.StartTime, End: a.EndTime})
	}
	return out, nil
}

func (r *AppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepo) ListByProvider(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) ListByUser(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return domain.Appointment{}, err
		}
		return domain.Appointment{}, store.ErrStaleStatus
	}
	return r.GetByID(ctx, id)
}

func (r *AppointmentRepo) AttachMeetingLink(ctx context.Context, id uuid.UUID, link string) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("meeting_link = ?", link).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepo) NextAppointmentNumber(ctx context.Context, day time.Time) (string, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	count, err := r.db.NewSelect().
		Model((*domain.Appointment)(nil)).
		Where("start_time >= ?", dayStart).
		Where("start_time < ?", dayStart.AddDate(0, 0, 1)).
		Count(ctx)
	if err != nil {
		return "", err
	}
	return formatAppointmentNumber(dayStart, count+1), nil
}

func formatAppointmentNumber(day time.Time, seq int) string {
	return fmt.Sprintf("APT-%s-%04d", day.Format("20060102"), seq)
}

func hasConflict(ctx context.Context, db bun.IDB, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	q := db.NewSelect().
		Model((*domain.Appointment)(nil)).
		Where("provider_id = ?", providerID).
		Where("status != ?", domain.StatusCancelled).
		Where("start_time < ?", end).
		Where("end_time > ?", start)
	if excludeID != uuid.Nil {
		q = q.Where("id != ?", excludeID)
	}
	return q.Exists(ctx)
}

func (t bookingTx) HasConflict(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	return hasConflict(ctx, t.tx, providerID, start, end, excludeID)
}

func (t bookingTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	return m, nil
}

func (t bookingTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := t.tx.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (t bookingTx) UpdateAppointmentWindow(ctx context.Context, id uuid.UUID, start, end time.Time) (domain.Appointment, error) {
	res, err := t.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("start_time = ?", start).
		Set("end_time = ?", end).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return t.GetAppointment(ctx, id)
}

// mapWriteError translates the constraint violations the schema can raise
// into sentinel errors: the no-overlap exclusion constraint backs the
// double-booking guard, the unique index on number backs the human-readable
// number collision retry.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
		return store.ErrConflict
	}
	if pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "number") {
		return store.ErrNumberTaken
	}
	return err
}
