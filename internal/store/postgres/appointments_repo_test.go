package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"medisched/backend/internal/store"
)

func TestFormatAppointmentNumber(t *testing.T) {
	cases := []struct {
		day  time.Time
		seq  int
		want string
	}{
		{time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 1, "APT-20260105-0001"},
		{time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 42, "APT-20260105-0042"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), 9999, "APT-20261231-9999"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), 10001, "APT-20261231-10001"},
	}
	for _, c := range cases {
		if got := formatAppointmentNumber(c.day, c.seq); got != c.want {
			t.Fatalf("formatAppointmentNumber(%v, %d) = %q, want %q", c.day, c.seq, got, c.want)
		}
	}
}

func TestMapWriteError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "overlap exclusion",
			in:   &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"},
			want: store.ErrConflict,
		},
		{
			name: "number unique index",
			in:   &pgconn.PgError{Code: "23505", ConstraintName: "appointments_number_key"},
			want: store.ErrNumberTaken,
		},
		{
			name: "wrapped pg error",
			in:   fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"}),
			want: store.ErrConflict,
		},
		{
			name: "unrelated unique index",
			in:   &pgconn.PgError{Code: "23505", ConstraintName: "providers_pkey"},
			want: nil,
		},
		{
			name: "unrelated exclusion code",
			in:   &pgconn.PgError{Code: "23503", ConstraintName: "appointments_no_overlap"},
			want: nil,
		},
		{
			name: "plain error",
			in:   errors.New("connection reset"),
			want: nil,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := mapWriteError(c.in)
			if c.want == nil {
				if got != c.in {
					t.Fatalf("mapWriteError = %v, want the original error", got)
				}
				return
			}
			if !errors.Is(got, c.want) {
				t.Fatalf("mapWriteError = %v, want %v", got, c.want)
			}
		})
	}
}
